package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Kimseongmin3790/gclip-relay/internal/database"
	"github.com/Kimseongmin3790/gclip-relay/internal/stats"
	"github.com/Kimseongmin3790/gclip-relay/internal/testutil"
	"github.com/Kimseongmin3790/gclip-relay/internal/types"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := newBareClient(t, 1)
		c.send = make(chan *ServerMessage, 1)

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})

	t.Run("channel full", func(t *testing.T) {
		c := newBareClient(t, 1)
		c.send = make(chan *ServerMessage, 1)

		c.send <- &ServerMessage{} // Pre-fill the send channel to simulate a full channel
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})

	t.Run("stopped client", func(t *testing.T) {
		c := newBareClient(t, 1)
		c.stopClient()

		assert.False(t, c.queueMessage(&ServerMessage{}), "expected queueMessage to refuse messages after stop")
		assert.Len(t, c.send, 0)
	})
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	c.stopClient()

	select {
	case <-c.stop:
		// Channel is closed as expected
	default:
		t.Error("expected stop channel to be closed")
	}
}

func TestNewClient(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, stats.NewPermissiveMock())
	user := types.User{Id: 1, Username: "alice"}

	c1 := NewClient(user, nil, cs, testutil.TestLogger(t))
	c2 := NewClient(user, nil, cs, testutil.TestLogger(t))

	assert.NotEmpty(t, c1.Id())
	assert.NotEqual(t, c1.Id(), c2.Id(), "expected every connection to get its own id")
	assert.Equal(t, user, c1.User())
	assert.Equal(t, 256, cap(c1.send))
}

func TestClient_handleFrame(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, stats.NewPermissiveMock())
		c := newTestClient(t, cs, 1, "alice")

		c.handleFrame([]byte("{not json"))

		msg := receive(t, c)
		assert.Equal(t, EventError, msg.Event)
		assert.Zero(t, msg.Id)
		assert.Equal(t, &ErrorPayload{Error: CodeInvalidMessage}, msg.Data)
	})

	t.Run("unknown event", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, stats.NewPermissiveMock())
		c := newTestClient(t, cs, 1, "alice")

		c.handleFrame([]byte(`{"id":4,"event":"leave"}`))

		msg := receive(t, c)
		assert.Equal(t, EventError, msg.Event)
		assert.Equal(t, 4, msg.Id)
	})

	t.Run("join dm failure", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("UserExists", mock.Anything, 1).Return(true, nil).Once()
		db.On("UserExists", mock.Anything, 2).Return(false, nil).Once()

		cs := newTestChatServer(t, db, stats.NewPermissiveMock())
		c := newTestClient(t, cs, 1, "alice")

		c.handleFrame([]byte(`{"id":8,"event":"joinDm","data":{"otherUserId":2}}`))

		msg := receive(t, c)
		assert.Equal(t, EventAck, msg.Event)
		assert.Equal(t, 8, msg.Id)
		assert.Equal(t, &ErrorAck{Ok: false, Error: CodeJoinDmFailed}, msg.Data)
	})

	t.Run("message for another room is dropped", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, stats.NewPermissiveMock())
		c := newTestClient(t, cs, 1, "alice")
		cs.registry.SetActiveRoom(c, 1)

		c.handleFrame([]byte(`{"event":"message","data":{"roomId":2,"text":"hi"}}`))

		assert.Len(t, cs.sendChan, 0)
		assertNoMessage(t, c, 20*time.Millisecond)
	})
}

func TestClient_Websocket(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	room := database.Room{Id: 10, Kind: database.RoomKindGame, GameId: 5}
	history := []database.Message{{Id: 1, RoomId: 10, SenderId: 2, SenderName: "bob", Content: "earlier", CreatedAt: Now()}}
	db.On("GameExists", mock.Anything, 5).Return(true, nil).Once()
	db.On("ResolveGameRoom", mock.Anything, 5).Return(room, nil).Once()
	db.On("EnsureRoomMember", mock.Anything, 10, 1).Return(nil).Once()
	db.On("GetRecentMessages", mock.Anything, 10, 50).Return(history, nil).Once()
	db.On("SetWatermark", mock.Anything, 10, 1, mock.AnythingOfType("time.Time")).Return(nil).Once()

	cs := newTestChatServer(t, db, stats.NewPermissiveMock())
	go cs.Run()
	defer shutdown(t, cs)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}

		c := NewClient(types.User{Id: 1, Username: "alice"}, conn, cs, testutil.TestLogger(t))
		cs.RegisterClient(c)
		go c.Write()
		go c.Read()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"event":"joinGame","data":{"gameId":5}}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var ack struct {
		Id    int     `json:"id"`
		Event string  `json:"event"`
		Data  JoinAck `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &ack))
	assert.Equal(t, 1, ack.Id)
	assert.Equal(t, EventAck, ack.Event)
	assert.True(t, ack.Data.Ok)
	assert.Equal(t, 10, ack.Data.RoomId)
	assert.Equal(t, database.RoomKindGame, ack.Data.Type)
	assert.Equal(t, 5, ack.Data.GameId)
	require.Len(t, ack.Data.Messages, 1)
	assert.Equal(t, "earlier", ack.Data.Messages[0].Content)

	require.Eventually(t, func() bool { return cs.registry.Count() == 1 }, time.Second, 10*time.Millisecond)
	conn.Close()
	assert.Eventually(t, func() bool { return cs.registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond,
		"expected the connection to be unregistered after disconnect")
}
