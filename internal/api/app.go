package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Kimseongmin3790/gclip-relay/internal/config"
	"github.com/Kimseongmin3790/gclip-relay/internal/database"
	"github.com/Kimseongmin3790/gclip-relay/internal/server"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
)

type postNotifier interface {
	NotifyFollowersNewPost(ctx context.Context, actorId, postId int, caption string) error
}

// RelayApp serves the HTTP surface of the relay: authentication, history,
// unread counts, notifications, the post publication hook and the
// websocket endpoint.
type RelayApp struct {
	log            *log.Logger
	db             database.Repository
	mux            *http.Server
	cs             *server.ChatServer
	posts          postNotifier
	validate       *validator.Validate
	signingKey     []byte
	allowedOrigins []string
	dbTimeout      time.Duration
}

func NewRelayApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.Repository, cfg *config.Config) *RelayApp {
	s := &RelayApp{
		log:            logger,
		db:             db,
		cs:             cs,
		validate:       validator.New(),
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		dbTimeout:      cfg.Relay.DBTimeout,
	}
	if cs != nil {
		s.posts = cs.Notifier()
	}
	if s.dbTimeout <= 0 {
		s.dbTimeout = 5 * time.Second
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/chat/unread", s.authMiddleware(s.unreadCounts))
	mux.HandleFunc("GET /api/chat/rooms/{roomId}/messages", s.authMiddleware(s.roomMessages))
	mux.HandleFunc("GET /api/notifications", s.authMiddleware(s.listNotifications))
	mux.HandleFunc("GET /api/notifications/summary", s.authMiddleware(s.notificationSummary))
	mux.HandleFunc("POST /api/notifications/read-all", s.authMiddleware(s.markAllNotificationsRead))
	mux.HandleFunc("POST /api/posts/{postId}/published", s.authMiddleware(s.postPublished))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization", requestIdHeader}),
		handlers.ExposedHeaders([]string{requestIdHeader}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)
	h = s.requestLogger(h)

	s.mux = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *RelayApp) Handler() http.Handler {
	return s.mux.Handler
}

func (s *RelayApp) Start() error {
	s.log.Printf("starting server on %s", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *RelayApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
