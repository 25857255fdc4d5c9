package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountById(ctx context.Context, userId int) (User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) UserExists(ctx context.Context, userId int) (bool, error) {
	args := m.Called(ctx, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) GameExists(ctx context.Context, gameId int) (bool, error) {
	args := m.Called(ctx, gameId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) GetFollowerIds(ctx context.Context, userId int) ([]int, error) {
	args := m.Called(ctx, userId)
	if ids, ok := args.Get(0).([]int); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) GetRoom(ctx context.Context, roomId int) (Room, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) ResolveGameRoom(ctx context.Context, gameId int) (Room, error) {
	args := m.Called(ctx, gameId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) ResolveDmRoom(ctx context.Context, userA, userB int) (Room, error) {
	args := m.Called(ctx, userA, userB)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) EnsureRoomMember(ctx context.Context, roomId, userId int) error {
	args := m.Called(ctx, roomId, userId)
	return args.Error(0)
}
func (m *MockRepository) IsRoomMember(ctx context.Context, roomId, userId int) (bool, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) GetRoomMemberIds(ctx context.Context, roomId int) ([]int, error) {
	args := m.Called(ctx, roomId)
	if ids, ok := args.Get(0).([]int); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetRecentMessages(ctx context.Context, roomId, limit int) ([]Message, error) {
	args := m.Called(ctx, roomId, limit)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) SetWatermark(ctx context.Context, roomId, userId int, ts time.Time) error {
	args := m.Called(ctx, roomId, userId, ts)
	return args.Error(0)
}
func (m *MockRepository) GetUnreadCounts(ctx context.Context, userId int) (map[int]int, error) {
	args := m.Called(ctx, userId)
	if counts, ok := args.Get(0).(map[int]int); ok {
		return counts, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) CreateNotifications(ctx context.Context, params CreateNotificationsParams) ([]Notification, error) {
	args := m.Called(ctx, params)
	if ns, ok := args.Get(0).([]Notification); ok {
		return ns, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) ListNotifications(ctx context.Context, userId, limit int) ([]Notification, error) {
	args := m.Called(ctx, userId, limit)
	if ns, ok := args.Get(0).([]Notification); ok {
		return ns, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) GetNotificationSummary(ctx context.Context, userId int) (NotificationSummary, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(NotificationSummary), args.Error(1)
}
func (m *MockRepository) MarkAllNotificationsRead(ctx context.Context, userId int) (int, error) {
	args := m.Called(ctx, userId)
	return args.Int(0), args.Error(1)
}
