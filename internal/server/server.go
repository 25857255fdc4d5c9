package server

import (
	"context"
	"log"
	"time"

	"github.com/Kimseongmin3790/gclip-relay/internal/database"
	"github.com/Kimseongmin3790/gclip-relay/internal/stats"
)

type Options struct {
	HistoryLimit    int
	DBTimeout       time.Duration
	RoomIdleTimeout time.Duration
	DedupTTL        time.Duration
}

type stopReq struct {
	done chan struct{}
}

// ChatServer owns the room workers and wires connections to the session
// manager, the dispatcher and the notifier. Its Run loop is the only
// goroutine that touches the rooms map.
type ChatServer struct {
	log             *log.Logger
	db              database.Repository
	stats           stats.StatsProvider
	registry        *Registry
	sessions        *SessionManager
	dispatcher      *Dispatcher
	notifier        *Notifier
	dbTimeout       time.Duration
	roomIdleTimeout time.Duration
	rooms           map[int]*Room
	sendChan        chan *sendReq
	unloadChan      chan int
	stop            chan stopReq
	// closed is closed when Run returns
	closed chan struct{}
}

func NewChatServer(logger *log.Logger, db database.Repository, su stats.StatsProvider, guard Guard, opts Options) *ChatServer {
	registry := NewRegistry()
	cs := &ChatServer{
		log:             logger,
		db:              db,
		stats:           su,
		registry:        registry,
		sessions:        NewSessionManager(logger, db, registry, opts.HistoryLimit),
		notifier:        NewNotifier(logger, db, registry, guard, su, opts.DedupTTL),
		dbTimeout:       opts.DBTimeout,
		roomIdleTimeout: opts.RoomIdleTimeout,
		rooms:           make(map[int]*Room),
		sendChan:        make(chan *sendReq, 256),
		unloadChan:      make(chan int),
		stop:            make(chan stopReq),
		closed:          make(chan struct{}),
	}
	cs.dispatcher = NewDispatcher(logger, registry, cs)

	return cs
}

func (cs *ChatServer) Registry() *Registry {
	return cs.registry
}

func (cs *ChatServer) Notifier() *Notifier {
	return cs.notifier
}

func (cs *ChatServer) Run() {
	for {
		select {
		case req := <-cs.sendChan:
			r, ok := cs.rooms[req.roomId]
			if !ok {
				r = newRoom(req.roomId, cs)
				cs.rooms[r.id] = r
				cs.stats.Incr(stats.NumActiveRooms)
				go r.start()
			}

			select {
			case r.queue <- req:
			default:
				cs.log.Printf("queue full for room %d, dropping message from %q", r.id, req.client.user.Username)
			}
		case id := <-cs.unloadChan:
			cs.unloadRoom(id)
		case req := <-cs.stop:
			cs.log.Println("shutting down rooms")
			close(cs.closed)
			for id, r := range cs.rooms {
				close(r.exit)
				<-r.done
				delete(cs.rooms, id)
				cs.stats.Decr(stats.NumActiveRooms)
			}

			close(req.done)
			return
		}
	}
}

// unloadRoom stops an idle room worker. A room with queued messages is kept;
// it rearms its idle timer once the queue is handled.
func (cs *ChatServer) unloadRoom(id int) {
	r, ok := cs.rooms[id]
	if !ok {
		return
	}

	if len(r.queue) > 0 {
		return
	}

	cs.log.Printf("unloading room %d", id)
	delete(cs.rooms, id)
	close(r.exit)
	<-r.done
	cs.stats.Decr(stats.NumActiveRooms)
}

func (cs *ChatServer) route(req *sendReq) {
	select {
	case cs.sendChan <- req:
	case <-cs.closed:
	}
}

// RegisterClient makes c reachable for broadcasts and notifications.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.registry.Register(c)
	cs.stats.Incr(stats.NumActiveClients)
	cs.log.Printf("registered connection %s for %q", c.id, c.user.Username)
}

func (cs *ChatServer) unregisterClient(c *Client) {
	if cs.registry.Unregister(c) {
		cs.stats.Decr(stats.NumActiveClients)
		cs.log.Printf("unregistered connection %s for %q", c.id, c.user.Username)
	}
}

// Shutdown closes every connection and waits for the room workers to
// finish their queued messages.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	for _, c := range cs.registry.Clients() {
		c.stopClient()
	}

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
