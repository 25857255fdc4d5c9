package server

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/Kimseongmin3790/gclip-relay/internal/database"
)

var ErrConnectionClosed = errors.New("connection is not registered")

type JoinResult struct {
	Room        database.Room
	OtherUserId int
	Messages    []database.Message
}

// SessionManager moves connections into GAME and DM rooms. A join that
// fails part way leaves the connection in the room it was viewing before.
type SessionManager struct {
	log          *log.Logger
	db           database.Repository
	registry     *Registry
	resolver     *Resolver
	historyLimit int
}

func NewSessionManager(logger *log.Logger, db database.Repository, registry *Registry, historyLimit int) *SessionManager {
	return &SessionManager{
		log:          logger,
		db:           db,
		registry:     registry,
		resolver:     NewResolver(db),
		historyLimit: historyLimit,
	}
}

func (sm *SessionManager) JoinGame(ctx context.Context, c *Client, gameId int) (*JoinResult, error) {
	room, err := sm.resolver.Resolve(ctx, GameTopic{GameId: gameId})
	if err != nil {
		return nil, err
	}

	if err := sm.db.EnsureRoomMember(ctx, room.Id, c.user.Id); err != nil {
		return nil, fmt.Errorf("ensure room member: %w", err)
	}

	return sm.enter(ctx, c, room, 0)
}

func (sm *SessionManager) JoinDm(ctx context.Context, c *Client, otherUserId int) (*JoinResult, error) {
	room, err := sm.resolver.Resolve(ctx, DmTopic{UserA: c.user.Id, UserB: otherUserId})
	if err != nil {
		return nil, err
	}

	return sm.enter(ctx, c, room, otherUserId)
}

func (sm *SessionManager) enter(ctx context.Context, c *Client, room database.Room, otherUserId int) (res *JoinResult, err error) {
	prev, ok := sm.registry.SetActiveRoom(c, room.Id)
	if !ok {
		return nil, ErrConnectionClosed
	}

	defer func() {
		if err != nil {
			sm.registry.SetActiveRoom(c, prev)
			sm.log.Printf("join room %d failed for %q, restored room %d", room.Id, c.user.Username, prev)
		}
	}()

	history, err := sm.db.GetRecentMessages(ctx, room.Id, sm.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}

	if err = sm.db.SetWatermark(ctx, room.Id, c.user.Id, Now()); err != nil {
		return nil, fmt.Errorf("set watermark: %w", err)
	}

	sm.log.Printf("user %q entered room %d", c.user.Username, room.Id)

	return &JoinResult{
		Room:        room,
		OtherUserId: otherUserId,
		Messages:    history,
	}, nil
}
