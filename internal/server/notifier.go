package server

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Kimseongmin3790/gclip-relay/internal/database"
	"github.com/Kimseongmin3790/gclip-relay/internal/stats"
	"github.com/Kimseongmin3790/gclip-relay/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/stretchr/testify/mock"
)

const previewLength = 80

// Guard claims an event key so that a fan-out runs at most once per event.
type Guard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type RedisGuard struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisGuard(rdb redis.UniversalClient) *RedisGuard {
	return &RedisGuard{rdb: rdb, prefix: "gclip:fanout:"}
}

func (g *RedisGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.rdb.SetNX(ctx, g.prefix+key, 1, ttl).Result()
}

// NopGuard lets every claim through. The unique event key on stored
// notifications still keeps fan-out idempotent.
type NopGuard struct{}

func (NopGuard) Claim(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

type MockGuard struct {
	mock.Mock
}

func (m *MockGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func ChatEventKey(messageId int) string {
	return fmt.Sprintf("chat:%d", messageId)
}

// PostEventKey scopes a post event to its author so that one user
// publishing another user's post id cannot claim the author's fan-out.
func PostEventKey(actorId, postId int) string {
	return fmt.Sprintf("post:%d:%d", actorId, postId)
}

// Preview cuts s to at most 80 characters.
func Preview(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= previewLength {
		return s
	}
	return strings.TrimSpace(string(runes[:previewLength]))
}

// Notifier persists notifications and pushes them to connected recipients.
// Recipients viewing the room a chat message belongs to are not pushed to;
// offline recipients only get the stored row.
type Notifier struct {
	log      *log.Logger
	db       database.Repository
	registry *Registry
	guard    Guard
	stats    stats.StatsProvider
	dedupTTL time.Duration
}

func NewNotifier(logger *log.Logger, db database.Repository, registry *Registry, guard Guard, su stats.StatsProvider, dedupTTL time.Duration) *Notifier {
	if guard == nil {
		guard = NopGuard{}
	}

	return &Notifier{
		log:      logger,
		db:       db,
		registry: registry,
		guard:    guard,
		stats:    su,
		dedupTTL: dedupTTL,
	}
}

// claim reports whether this process should run the fan-out for key. A
// guard failure falls through to the database's unique event key.
func (n *Notifier) claim(ctx context.Context, key string) bool {
	ok, err := n.guard.Claim(ctx, key, n.dedupTTL)
	if err != nil {
		n.log.Printf("claim %q: %v", key, err)
		return true
	}
	return ok
}

func (n *Notifier) NotifyChatMessage(ctx context.Context, msg database.Message, room database.Room, recipients []int) error {
	recipients = lo.Uniq(lo.Without(recipients, msg.SenderId))
	if len(recipients) == 0 {
		return nil
	}

	key := ChatEventKey(msg.Id)
	if !n.claim(ctx, key) {
		n.log.Printf("event %q already claimed", key)
		return nil
	}

	roomId := room.Id
	created, err := n.db.CreateNotifications(ctx, database.CreateNotificationsParams{
		Type:       database.NotificationChatMessage,
		ActorId:    msg.SenderId,
		RoomId:     &roomId,
		Message:    Preview(msg.Content),
		EventKey:   key,
		CreatedAt:  msg.CreatedAt,
		Recipients: recipients,
	})
	if err != nil {
		return fmt.Errorf("create chat notifications: %w", err)
	}

	payload := types.ChatNotification{
		Type:       database.NotificationChatMessage,
		RoomId:     room.Id,
		RoomType:   room.Kind,
		SenderId:   msg.SenderId,
		SenderName: msg.SenderName,
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
	}
	switch room.Kind {
	case database.RoomKindGame:
		payload.GameId = room.GameId
	case database.RoomKindDm:
		// from the recipient's side the other member is the sender
		payload.DmUserId = msg.SenderId
	}

	for _, row := range created {
		conns := lo.Filter(n.registry.ConnectionsOf(row.UserId), func(c *Client, _ int) bool {
			return n.registry.ActiveRoom(c) != room.Id
		})
		payload.Id = row.Id
		n.push(conns, NewNotificationEvent(payload))
	}

	return nil
}

func (n *Notifier) NotifyFollowersNewPost(ctx context.Context, actorId, postId int, caption string) error {
	followers, err := n.db.GetFollowerIds(ctx, actorId)
	if err != nil {
		return fmt.Errorf("get followers: %w", err)
	}

	followers = lo.Uniq(lo.Without(followers, actorId))
	if len(followers) == 0 {
		return nil
	}

	key := PostEventKey(actorId, postId)
	if !n.claim(ctx, key) {
		n.log.Printf("event %q already claimed", key)
		return nil
	}

	actor, err := n.db.GetAccountById(ctx, actorId)
	if err != nil {
		return fmt.Errorf("get actor: %w", err)
	}

	preview := Preview(caption)
	createdAt := Now()
	created, err := n.db.CreateNotifications(ctx, database.CreateNotificationsParams{
		Type:       database.NotificationFollowedUserPost,
		ActorId:    actorId,
		PostId:     &postId,
		Message:    preview,
		EventKey:   key,
		CreatedAt:  createdAt,
		Recipients: followers,
	})
	if err != nil {
		return fmt.Errorf("create post notifications: %w", err)
	}

	payload := types.PostNotification{
		Type:      database.NotificationFollowedUserPost,
		PostId:    postId,
		ActorId:   actorId,
		ActorName: actor.Username,
		Message:   preview,
		CreatedAt: createdAt,
	}
	for _, row := range created {
		payload.Id = row.Id
		n.push(n.registry.ConnectionsOf(row.UserId), NewNotificationEvent(payload))
	}

	return nil
}

func (n *Notifier) push(conns []*Client, event *ServerMessage) {
	for _, c := range conns {
		if c.queueMessage(event) {
			n.stats.Incr(stats.NotificationsPushed)
		}
	}
}
