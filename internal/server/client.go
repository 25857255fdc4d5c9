package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Kimseongmin3790/gclip-relay/internal/types"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one websocket connection of an authenticated user.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	id, err := shortid.Generate()
	if err != nil {
		id = time.Now().Format("150405.000000")
	}

	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) User() types.User {
	return c.user
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("connection %s: write exiting", c.id)
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Printf("connection %s: read exiting", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		c.handleFrame(raw)
	}
}

func (c *Client) handleFrame(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Println("error parsing message:", err)
		c.queueMessage(ErrInvalidMessage(-1))
		return
	}

	switch msg.Event {
	case EventJoinGame:
		c.joinGame(&msg)
	case EventJoinDm:
		c.joinDm(&msg)
	case EventMessage:
		var req SendMessage
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.log.Println("error parsing send:", err)
			return
		}
		c.chatServer.dispatcher.Send(c, req.RoomId, req.Text)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) joinGame(msg *ClientMessage) {
	var req JoinGame
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.queueMessage(ErrJoinFailed(msg.Id, CodeJoinGameFailed))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.chatServer.dbTimeout)
	defer cancel()

	res, err := c.chatServer.sessions.JoinGame(ctx, c, req.GameId)
	if err != nil {
		c.logJoinError("game", req.GameId, err)
		c.queueMessage(ErrJoinFailed(msg.Id, CodeJoinGameFailed))
		return
	}

	c.queueMessage(NoErrJoined(msg.Id, res))
}

func (c *Client) joinDm(msg *ClientMessage) {
	var req JoinDm
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.queueMessage(ErrJoinFailed(msg.Id, CodeJoinDmFailed))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.chatServer.dbTimeout)
	defer cancel()

	res, err := c.chatServer.sessions.JoinDm(ctx, c, req.OtherUserId)
	if err != nil {
		c.logJoinError("dm", req.OtherUserId, err)
		c.queueMessage(ErrJoinFailed(msg.Id, CodeJoinDmFailed))
		return
	}

	c.queueMessage(NoErrJoined(msg.Id, res))
}

func (c *Client) logJoinError(kind string, target int, err error) {
	if errors.Is(err, ErrInvalidRoomTarget) {
		c.log.Printf("user %q: rejected %s join %d: %v", c.user.Username, kind, target, err)
		return
	}
	c.log.Printf("user %q: %s join %d: %v", c.user.Username, kind, target, err)
}

// queueMessage enqueues msg without blocking. It returns false when the
// connection is closed or its send buffer is full.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.log.Printf("connection %s: send buffer full, dropping %q", c.id, msg.Event)
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.chatServer.unregisterClient(c)
	c.stopClient()
}
