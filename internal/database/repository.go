package database

import (
	"context"
	"time"
)

type Repository interface {
	Ping(ctx context.Context) error

	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	GetAccountById(ctx context.Context, userId int) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)
	UserExists(ctx context.Context, userId int) (bool, error)
	GameExists(ctx context.Context, gameId int) (bool, error)
	GetFollowerIds(ctx context.Context, userId int) ([]int, error)

	GetRoom(ctx context.Context, roomId int) (Room, error)
	ResolveGameRoom(ctx context.Context, gameId int) (Room, error)
	ResolveDmRoom(ctx context.Context, userA, userB int) (Room, error)
	EnsureRoomMember(ctx context.Context, roomId, userId int) error
	IsRoomMember(ctx context.Context, roomId, userId int) (bool, error)
	GetRoomMemberIds(ctx context.Context, roomId int) ([]int, error)

	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetRecentMessages(ctx context.Context, roomId, limit int) ([]Message, error)

	SetWatermark(ctx context.Context, roomId, userId int, ts time.Time) error
	GetUnreadCounts(ctx context.Context, userId int) (map[int]int, error)

	CreateNotifications(ctx context.Context, params CreateNotificationsParams) ([]Notification, error)
	ListNotifications(ctx context.Context, userId, limit int) ([]Notification, error)
	GetNotificationSummary(ctx context.Context, userId int) (NotificationSummary, error)
	MarkAllNotificationsRead(ctx context.Context, userId int) (int, error)
}
