package api

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/Kimseongmin3790/gclip-relay/internal/database"
	"github.com/Kimseongmin3790/gclip-relay/internal/server"
	"github.com/Kimseongmin3790/gclip-relay/internal/types"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=2,max=32"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type PublishRequest struct {
	Caption string `json:"caption" validate:"max=2200"`
}

type MarkReadResponse struct {
	Updated int `json:"updated"`
}

func (s *RelayApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *RelayApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.Err != nil {
		s.log.Printf("%d: %v", errResp.StatusCode, errResp)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// decodeJson reads and validates a request body. An empty body decodes
// to the zero value when allowEmpty is set.
func (s *RelayApp) decodeJson(r *http.Request, v any, allowEmpty bool) *ApiError {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if !allowEmpty || !errors.Is(err, io.EOF) {
			return NewBadRequestError()
		}
	}

	if err := s.validate.Struct(v); err != nil {
		return NewValidationError(err)
	}

	return nil
}

func (s *RelayApp) dbContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.dbTimeout)
}

// queryLimit parses the optional limit query parameter. Zero means the
// store's default.
func queryLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, false
	}

	return limit, true
}

func pathId(r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(r.PathValue(name))
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}

func (s *RelayApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.dbContext(r)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *RelayApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if errResp := s.decodeJson(r, &req, false); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	ctx, cancel := s.dbContext(r)
	defer cancel()

	newUser, err := s.db.CreateAccount(ctx, database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicateAccount) {
			s.writeError(w, NewConflictError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, types.NewUser(newUser))
}

func (s *RelayApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	ctx, cancel := s.dbContext(r)
	defer cancel()

	user, err := s.db.GetAccountById(ctx, userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, types.NewUser(user))
}

func (s *RelayApp) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if errResp := s.decodeJson(r, &req, false); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	ctx, cancel := s.dbContext(r)
	defer cancel()

	user, err := s.db.GetAccountByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewUnauthorizedError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if !verifyPassword(user.PasswordHash, req.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	token, err := createJwtForSession(user.Id, s.signingKey, defaultJwtExpiration)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))
	s.writeJson(w, http.StatusOK, types.NewUser(user))
}

func (s *RelayApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with one that has already expired
	http.SetCookie(w, createJwtCookie("", -time.Hour))
	w.WriteHeader(http.StatusNoContent)
}

func (s *RelayApp) unreadCounts(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	ctx, cancel := s.dbContext(r)
	defer cancel()

	counts, err := s.db.GetUnreadCounts(ctx, userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	if counts == nil {
		counts = map[int]int{}
	}

	s.writeJson(w, http.StatusOK, counts)
}

func (s *RelayApp) roomMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId, ok := pathId(r, "roomId")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	limit, ok := queryLimit(r)
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	ctx, cancel := s.dbContext(r)
	defer cancel()

	member, err := s.db.IsRoomMember(ctx, roomId, userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	if !member {
		s.writeError(w, NewForbiddenError())
		return
	}

	msgs, err := s.db.GetRecentMessages(ctx, roomId, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, types.NewMessages(msgs))
}

func (s *RelayApp) listNotifications(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	limit, ok := queryLimit(r)
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	ctx, cancel := s.dbContext(r)
	defer cancel()

	rows, err := s.db.ListNotifications(ctx, userId, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	notifications := make([]types.Notification, len(rows))
	for i, n := range rows {
		notifications[i] = types.NewNotification(n)
	}

	s.writeJson(w, http.StatusOK, notifications)
}

func (s *RelayApp) notificationSummary(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	ctx, cancel := s.dbContext(r)
	defer cancel()

	summary, err := s.db.GetNotificationSummary(ctx, userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, types.NewNotificationSummary(summary))
}

func (s *RelayApp) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	ctx, cancel := s.dbContext(r)
	defer cancel()

	updated, err := s.db.MarkAllNotificationsRead(ctx, userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, MarkReadResponse{Updated: updated})
}

// postPublished is called by the post service after a post goes live. The
// caller is the post's author.
func (s *RelayApp) postPublished(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	postId, ok := pathId(r, "postId")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	var req PublishRequest
	if errResp := s.decodeJson(r, &req, true); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	event := types.PostPublished{PostId: postId, UserId: userId, Caption: req.Caption}
	if err := s.validate.Struct(event); err != nil {
		s.writeError(w, NewValidationError(err))
		return
	}

	ctx, cancel := s.dbContext(r)
	defer cancel()

	if err := s.posts.NotifyFollowersNewPost(ctx, event.UserId, event.PostId, event.Caption); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *RelayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	tokenString, err := handshakeToken(r)
	if err != nil {
		s.writeJson(w, http.StatusUnauthorized, HandshakeError{Error: codeAuthRequired})
		return
	}

	userId, err := extractUserIdFromToken(tokenString, s.signingKey)
	if err != nil {
		s.log.Printf("websocket handshake rejected: %v", err)
		s.writeJson(w, http.StatusUnauthorized, HandshakeError{Error: codeAuthFailed})
		return
	}

	ctx, cancel := s.dbContext(r)
	user, err := s.db.GetAccountById(ctx, userId)
	cancel()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeJson(w, http.StatusUnauthorized, HandshakeError{Error: codeAuthFailed})
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// non-browser clients send no origin
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.NewUser(user), conn, s.cs, s.log)
	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
