package database

import "time"

type RoomKind string

const (
	RoomKindGame RoomKind = "GAME"
	RoomKindDm   RoomKind = "DM"
)

type NotificationType string

const (
	NotificationChatMessage      NotificationType = "CHAT_MESSAGE"
	NotificationFollowedUserPost NotificationType = "FOLLOWED_USER_POST"
)

type Room struct {
	Id        int
	Kind      RoomKind
	GameId    int
	DmKey     string
	CreatedAt time.Time
}

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	AvatarUrl    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is a chat message decorated with its sender's profile.
type Message struct {
	Id           int
	RoomId       int
	SenderId     int
	SenderName   string
	SenderAvatar string
	Content      string
	CreatedAt    time.Time
}

type Notification struct {
	Id        int
	UserId    int
	Type      NotificationType
	ActorId   int
	ActorName string
	PostId    *int
	RoomId    *int
	Message   string
	EventKey  string
	IsRead    bool
	CreatedAt time.Time
}

type NotificationSummary struct {
	UnreadChat       int
	UnreadPost       int
	LastNotification *Notification
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateMessageParams struct {
	RoomId    int
	SenderId  int
	Content   string
	CreatedAt time.Time
}

// CreateNotificationsParams describes one triggering event. EventKey is
// unique per recipient so replaying the same event inserts nothing.
type CreateNotificationsParams struct {
	Type       NotificationType
	ActorId    int
	PostId     *int
	RoomId     *int
	Message    string
	EventKey   string
	CreatedAt  time.Time
	Recipients []int
}
