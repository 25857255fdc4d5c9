package server

import (
	"context"
	"testing"
	"time"

	"github.com/Kimseongmin3790/gclip-relay/internal/database"
	"github.com/Kimseongmin3790/gclip-relay/internal/stats"
	"github.com/Kimseongmin3790/gclip-relay/internal/testutil"
	"github.com/Kimseongmin3790/gclip-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		HistoryLimit:    50,
		DBTimeout:       time.Second,
		RoomIdleTimeout: time.Hour,
		DedupTTL:        time.Hour,
	}
}

// newTestChatServer creates a new ChatServer instance for testing purposes
func newTestChatServer(t *testing.T, db database.Repository, su stats.StatsProvider) *ChatServer {
	return NewChatServer(testutil.TestLogger(t), db, su, NopGuard{}, testOptions())
}

// newTestClient creates a registered client without a websocket connection.
func newTestClient(t *testing.T, cs *ChatServer, userId int, username string) *Client {
	c := NewClient(types.User{Id: userId, Username: username}, nil, cs, testutil.TestLogger(t))
	cs.RegisterClient(c)
	return c
}

func receive(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("expected a message for user %d", c.user.Id)
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Errorf("expected no message for user %d, got %q", c.user.Id, msg.Event)
	case <-time.After(wait):
	}
}

func shutdown(t *testing.T, cs *ChatServer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, cs.Shutdown(ctx), "expected chat server to shut down")
}

func TestNewChatServer(t *testing.T) {
	db := &database.MockRepository{}
	su := &stats.MockStatsUpdater{}
	defer db.AssertExpectations(t)
	defer su.AssertExpectations(t)

	logger := testutil.TestLogger(t)
	cs := NewChatServer(logger, db, su, nil, testOptions())

	assert.NotNil(t, cs, "expected ChatServer to be non-nil")
	assert.Equal(t, logger, cs.log, "expected logger to be set")
	assert.Equal(t, db, cs.db, "expected database repository to be set")
	assert.NotNil(t, cs.registry, "expected registry to be initialized")
	assert.NotNil(t, cs.sessions, "expected session manager to be initialized")
	assert.NotNil(t, cs.dispatcher, "expected dispatcher to be initialized")
	assert.NotNil(t, cs.notifier, "expected notifier to be initialized")
	assert.IsType(t, NopGuard{}, cs.notifier.guard, "expected nil guard to default to NopGuard")
	assert.NotNil(t, cs.rooms, "expected rooms map to be initialized")
	assert.Equal(t, time.Second, cs.dbTimeout)
	assert.Equal(t, time.Hour, cs.roomIdleTimeout)
}

func TestChatServerShutdown(t *testing.T) {
	t.Run("successful shutdown", func(t *testing.T) {
		su := stats.NewPermissiveMock()
		cs := newTestChatServer(t, &database.MockRepository{}, su)
		c := newTestClient(t, cs, 1, "alice")
		go cs.Run()

		shutdown(t, cs)

		select {
		case <-c.stop:
		default:
			t.Error("expected client to be stopped on shutdown")
		}
		assert.False(t, c.queueMessage(&ServerMessage{Event: EventMessage}), "expected stopped client to refuse messages")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, stats.NewPermissiveMock())

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		// Run is never started so nothing receives the stop request
		err := cs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded error, got %v", err)
	})

	t.Run("route after shutdown does not block", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, stats.NewPermissiveMock())
		go cs.Run()
		shutdown(t, cs)

		done := make(chan struct{})
		go func() {
			for i := 0; i < cap(cs.sendChan)+1; i++ {
				cs.route(&sendReq{roomId: 1, text: "late"})
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("expected route to return once the chat server is closed")
		}
	})
}

func TestChatServerRegisterClient(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.NumActiveClients).Once()
	su.On("Decr", stats.NumActiveClients).Once()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockRepository{}, su)
	c := newTestClient(t, cs, 1, "alice")

	assert.Equal(t, []*Client{c}, cs.registry.ConnectionsOf(1))

	cs.unregisterClient(c)
	// a second unregister is a no-op and must not decrement again
	cs.unregisterClient(c)
	assert.Empty(t, cs.registry.ConnectionsOf(1))
}

func TestChatServer_RoomWorkerLifecycle(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	room := database.Room{Id: 7, Kind: database.RoomKindGame, GameId: 3}
	created := database.Message{Id: 70, RoomId: 7, SenderId: 1, SenderName: "alice", Content: "hi", CreatedAt: Now()}

	db.On("CreateMessage", mock.Anything, mock.MatchedBy(func(p database.CreateMessageParams) bool {
		return p.RoomId == 7 && p.SenderId == 1 && p.Content == "hi"
	})).Return(created, nil).Once()
	db.On("SetWatermark", mock.Anything, 7, 1, created.CreatedAt).Return(nil).Once()
	db.On("GetRoomMemberIds", mock.Anything, 7).Return([]int{1}, nil).Once()
	db.On("GetRoom", mock.Anything, 7).Return(room, nil).Once()

	unloaded := make(chan struct{})
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.NumActiveClients).Once()
	su.On("Incr", stats.NumActiveRooms).Once()
	su.On("Incr", stats.MessagesSent).Once()
	su.On("Decr", stats.NumActiveRooms).Run(func(mock.Arguments) { close(unloaded) }).Once()
	defer su.AssertExpectations(t)

	opts := testOptions()
	opts.RoomIdleTimeout = 50 * time.Millisecond
	cs := NewChatServer(testutil.TestLogger(t), db, su, NopGuard{}, opts)
	c := newTestClient(t, cs, 1, "alice")
	cs.registry.SetActiveRoom(c, 7)
	go cs.Run()
	defer shutdown(t, cs)

	cs.dispatcher.Send(c, 7, "  hi  ")

	msg := receive(t, c)
	assert.Equal(t, EventMessage, msg.Event)
	assert.Equal(t, types.NewMessage(created), msg.Data)

	select {
	case <-unloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("expected idle room to be unloaded")
	}
}

func TestChatServer_unloadRoom(t *testing.T) {
	t.Run("room with queued messages is kept", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, stats.NewPermissiveMock())
		r := newRoom(9, cs)
		r.queue <- &sendReq{roomId: 9, text: "pending"}
		cs.rooms[9] = r

		cs.unloadRoom(9)

		assert.Contains(t, cs.rooms, 9, "expected room with pending messages to stay loaded")
		select {
		case <-r.exit:
			t.Error("expected room exit channel to stay open")
		default:
		}
	})

	t.Run("idle room is stopped", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Decr", stats.NumActiveRooms).Once()
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, &database.MockRepository{}, su)
		r := newRoom(9, cs)
		cs.rooms[9] = r
		go r.start()

		cs.unloadRoom(9)

		assert.NotContains(t, cs.rooms, 9, "expected idle room to be removed")
		select {
		case <-r.done:
		default:
			t.Error("expected room worker to have exited")
		}
	})

	t.Run("unknown room", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		cs.unloadRoom(42)
		assert.Empty(t, cs.rooms)
	})
}
