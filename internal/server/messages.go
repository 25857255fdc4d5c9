package server

import (
	"time"

	"github.com/Kimseongmin3790/gclip-relay/internal/database"
	"github.com/Kimseongmin3790/gclip-relay/internal/types"
	"github.com/goccy/go-json"
)

const (
	EventJoinGame     = "joinGame"
	EventJoinDm       = "joinDm"
	EventMessage      = "message"
	EventAck          = "ack"
	EventNotification = "notification"
	EventError        = "error"
)

const (
	CodeJoinGameFailed = "JOIN_GAME_FAILED"
	CodeJoinDmFailed   = "JOIN_DM_FAILED"
	CodeInvalidMessage = "INVALID_MESSAGE"
)

// ClientMessage is a frame received from a client. Data is decoded
// according to Event.
type ClientMessage struct {
	Id    int             `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ServerMessage struct {
	Id    int    `json:"id,omitempty"`
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type JoinGame struct {
	GameId int `json:"gameId"`
}

type JoinDm struct {
	OtherUserId int `json:"otherUserId"`
}

type SendMessage struct {
	RoomId int    `json:"roomId"`
	Text   string `json:"text"`
}

type JoinAck struct {
	Ok          bool              `json:"ok"`
	RoomId      int               `json:"roomId"`
	Type        database.RoomKind `json:"type"`
	GameId      int               `json:"gameId,omitempty"`
	OtherUserId int               `json:"otherUserId,omitempty"`
	Messages    []types.Message   `json:"messages"`
}

type ErrorAck struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func NoErrJoined(id int, res *JoinResult) *ServerMessage {
	ack := &JoinAck{
		Ok:       true,
		RoomId:   res.Room.Id,
		Type:     res.Room.Kind,
		Messages: types.NewMessages(res.Messages),
	}

	switch res.Room.Kind {
	case database.RoomKindGame:
		ack.GameId = res.Room.GameId
	case database.RoomKindDm:
		ack.OtherUserId = res.OtherUserId
	}

	return &ServerMessage{
		Id:    id,
		Event: EventAck,
		Data:  ack,
	}
}

func ErrJoinFailed(id int, code string) *ServerMessage {
	return &ServerMessage{
		Id:    id,
		Event: EventAck,
		Data:  &ErrorAck{Ok: false, Error: code},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		Event: EventError,
		Data:  &ErrorPayload{Error: CodeInvalidMessage},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func NewMessageEvent(msg database.Message) *ServerMessage {
	return &ServerMessage{
		Event: EventMessage,
		Data:  types.NewMessage(msg),
	}
}

func NewNotificationEvent(payload any) *ServerMessage {
	return &ServerMessage{
		Event: EventNotification,
		Data:  payload,
	}
}

// Now is the relay clock. Message timestamps and read watermarks both come
// from it so unread counts compare like with like.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
