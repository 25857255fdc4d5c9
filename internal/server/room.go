package server

import (
	"context"
	"log"
	"time"

	"github.com/Kimseongmin3790/gclip-relay/internal/database"
	"github.com/Kimseongmin3790/gclip-relay/internal/stats"
	"github.com/samber/lo"
)

const roomQueueSize = 256

// Room is the worker for one active chat room. It handles the room's
// messages one at a time, so appends, broadcasts and notifications for a
// room happen in the order the messages were accepted.
type Room struct {
	id   int
	info *database.Room
	cs   *ChatServer
	log  *log.Logger
	// queue is only written by the chat server goroutine
	queue       chan *sendReq
	idleTimeout time.Duration
	// killTimer is used to automatically unload the room when it is no longer active
	killTimer *time.Timer
	// exit is closed by the chat server once the room has been unloaded
	exit chan struct{}
	done chan struct{}
}

func newRoom(id int, cs *ChatServer) *Room {
	return &Room{
		id:          id,
		cs:          cs,
		log:         cs.log,
		queue:       make(chan *sendReq, roomQueueSize),
		idleTimeout: cs.roomIdleTimeout,
		exit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %d", r.id)
	r.killTimer = time.NewTimer(r.idleTimeout)
	defer func() {
		r.killTimer.Stop()
		close(r.done)
		r.log.Printf("room %d exited", r.id)
	}()

	for {
		select {
		case req := <-r.queue:
			r.handleSend(req)
			r.killTimer.Reset(r.idleTimeout)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case <-r.exit:
			r.drain()
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %d timed out", r.id)
	select {
	case r.cs.unloadChan <- r.id:
	case <-r.exit:
	}
}

// drain handles whatever was queued before the room was told to exit.
func (r *Room) drain() {
	for {
		select {
		case req := <-r.queue:
			r.handleSend(req)
		default:
			return
		}
	}
}

func (r *Room) handleSend(req *sendReq) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cs.dbTimeout)
	defer cancel()

	sender := req.client.user
	msg, err := r.cs.db.CreateMessage(ctx, database.CreateMessageParams{
		RoomId:    r.id,
		SenderId:  sender.Id,
		Content:   req.text,
		CreatedAt: Now(),
	})
	if err != nil {
		r.log.Printf("room %d: create message from %q: %v", r.id, sender.Username, err)
		return
	}

	r.cs.stats.Incr(stats.MessagesSent)
	r.cs.registry.Broadcast(r.id, NewMessageEvent(msg))

	// the sender has read everything up to their own message
	if err := r.cs.db.SetWatermark(ctx, r.id, sender.Id, msg.CreatedAt); err != nil {
		r.log.Printf("room %d: set sender watermark: %v", r.id, err)
	}

	members, err := r.cs.db.GetRoomMemberIds(ctx, r.id)
	if err != nil {
		r.log.Printf("room %d: get members: %v", r.id, err)
		return
	}

	info, err := r.loadInfo(ctx)
	if err != nil {
		r.log.Printf("room %d: get room: %v", r.id, err)
		return
	}

	if err := r.cs.notifier.NotifyChatMessage(ctx, msg, info, lo.Without(members, sender.Id)); err != nil {
		r.log.Printf("room %d: notify message %d: %v", r.id, msg.Id, err)
	}
}

func (r *Room) loadInfo(ctx context.Context) (database.Room, error) {
	if r.info != nil {
		return *r.info, nil
	}

	info, err := r.cs.db.GetRoom(ctx, r.id)
	if err != nil {
		return database.Room{}, err
	}

	r.info = &info
	return info, nil
}
