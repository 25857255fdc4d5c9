package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/Kimseongmin3790/gclip-relay/internal/database"
)

var ErrInvalidRoomTarget = errors.New("invalid room target")

// RoomTopic identifies the room a client wants to enter. It is either a
// GameTopic or a DmTopic.
type RoomTopic interface {
	isRoomTopic()
}

type GameTopic struct {
	GameId int
}

// DmTopic names the unordered pair of users sharing a DM room.
type DmTopic struct {
	UserA int
	UserB int
}

func (GameTopic) isRoomTopic() {}
func (DmTopic) isRoomTopic()   {}

type Resolver struct {
	db database.Repository
}

func NewResolver(db database.Repository) *Resolver {
	return &Resolver{db: db}
}

// Resolve returns the single room for topic, creating it on first use.
func (rs *Resolver) Resolve(ctx context.Context, topic RoomTopic) (database.Room, error) {
	switch t := topic.(type) {
	case GameTopic:
		return rs.resolveGame(ctx, t)
	case DmTopic:
		return rs.resolveDm(ctx, t)
	default:
		return database.Room{}, fmt.Errorf("%w: unknown topic %T", ErrInvalidRoomTarget, topic)
	}
}

func (rs *Resolver) resolveGame(ctx context.Context, t GameTopic) (database.Room, error) {
	if t.GameId <= 0 {
		return database.Room{}, fmt.Errorf("%w: game id %d", ErrInvalidRoomTarget, t.GameId)
	}

	ok, err := rs.db.GameExists(ctx, t.GameId)
	if err != nil {
		return database.Room{}, fmt.Errorf("game exists: %w", err)
	}
	if !ok {
		return database.Room{}, fmt.Errorf("%w: game %d not found", ErrInvalidRoomTarget, t.GameId)
	}

	room, err := rs.db.ResolveGameRoom(ctx, t.GameId)
	if err != nil {
		return database.Room{}, fmt.Errorf("resolve game room: %w", err)
	}

	return room, nil
}

func (rs *Resolver) resolveDm(ctx context.Context, t DmTopic) (database.Room, error) {
	if t.UserA <= 0 || t.UserB <= 0 || t.UserA == t.UserB {
		return database.Room{}, fmt.Errorf("%w: dm pair (%d, %d)", ErrInvalidRoomTarget, t.UserA, t.UserB)
	}

	for _, id := range []int{t.UserA, t.UserB} {
		ok, err := rs.db.UserExists(ctx, id)
		if err != nil {
			return database.Room{}, fmt.Errorf("user exists: %w", err)
		}
		if !ok {
			return database.Room{}, fmt.Errorf("%w: user %d not found", ErrInvalidRoomTarget, id)
		}
	}

	room, err := rs.db.ResolveDmRoom(ctx, t.UserA, t.UserB)
	if err != nil {
		return database.Room{}, fmt.Errorf("resolve dm room: %w", err)
	}

	return room, nil
}
