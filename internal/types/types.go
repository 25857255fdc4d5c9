package types

import (
	"time"

	"github.com/Kimseongmin3790/gclip-relay/internal/database"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	AvatarUrl    string    `json:"avatar_url,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Message is a chat message as delivered to clients.
type Message struct {
	Id           int       `json:"id"`
	RoomId       int       `json:"roomId"`
	SenderId     int       `json:"senderId"`
	SenderName   string    `json:"senderName"`
	SenderAvatar string    `json:"senderAvatar,omitempty"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ChatNotification is pushed to recipients that are connected but not
// viewing the room a message was sent to.
type ChatNotification struct {
	Id         int                       `json:"id"`
	Type       database.NotificationType `json:"type"`
	RoomId     int                       `json:"roomId"`
	RoomType   database.RoomKind         `json:"roomType"`
	GameId     int                       `json:"gameId,omitempty"`
	DmUserId   int                       `json:"dmUserId,omitempty"`
	SenderId   int                       `json:"senderId"`
	SenderName string                    `json:"senderName"`
	Content    string                    `json:"content"`
	CreatedAt  time.Time                 `json:"createdAt"`
}

// PostNotification is pushed to followers when a user publishes a post.
type PostNotification struct {
	Id        int                       `json:"id"`
	Type      database.NotificationType `json:"type"`
	PostId    int                       `json:"postId"`
	ActorId   int                       `json:"actorId"`
	ActorName string                    `json:"actorName"`
	Message   string                    `json:"message"`
	CreatedAt time.Time                 `json:"createdAt"`
}

type Notification struct {
	Id        int                       `json:"id"`
	Type      database.NotificationType `json:"type"`
	ActorId   int                       `json:"actorId"`
	ActorName string                    `json:"actorName,omitempty"`
	PostId    *int                      `json:"postId,omitempty"`
	RoomId    *int                      `json:"roomId,omitempty"`
	Message   string                    `json:"message"`
	IsRead    bool                      `json:"isRead"`
	CreatedAt time.Time                 `json:"createdAt"`
}

type NotificationSummary struct {
	UnreadChat       int           `json:"unreadChat"`
	UnreadPost       int           `json:"unreadPost"`
	UnreadTotal      int           `json:"unreadTotal"`
	LastNotification *Notification `json:"lastNotification"`
}

// PostPublished announces a newly published post. It is the payload of
// the post.published topic and of the HTTP publish hook.
type PostPublished struct {
	PostId  int    `json:"postId" validate:"required,gt=0"`
	UserId  int    `json:"userId" validate:"required,gt=0"`
	Caption string `json:"caption"`
}

func NewUser(u database.User) User {
	return User{
		Id:           u.Id,
		Username:     u.Username,
		EmailAddress: u.EmailAddress,
		AvatarUrl:    u.AvatarUrl,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func NewMessage(m database.Message) Message {
	return Message{
		Id:           m.Id,
		RoomId:       m.RoomId,
		SenderId:     m.SenderId,
		SenderName:   m.SenderName,
		SenderAvatar: m.SenderAvatar,
		Content:      m.Content,
		CreatedAt:    m.CreatedAt,
	}
}

func NewMessages(msgs []database.Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = NewMessage(m)
	}
	return out
}

func NewNotification(n database.Notification) Notification {
	return Notification{
		Id:        n.Id,
		Type:      n.Type,
		ActorId:   n.ActorId,
		ActorName: n.ActorName,
		PostId:    n.PostId,
		RoomId:    n.RoomId,
		Message:   n.Message,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func NewNotificationSummary(s database.NotificationSummary) NotificationSummary {
	summary := NotificationSummary{
		UnreadChat:  s.UnreadChat,
		UnreadPost:  s.UnreadPost,
		UnreadTotal: s.UnreadChat + s.UnreadPost,
	}

	if s.LastNotification != nil {
		last := NewNotification(*s.LastNotification)
		summary.LastNotification = &last
	}

	return summary
}
