// Package protocol defines the JSON messages exchanged between drawing
// clients and the relay. Every message is one JSON object with a "type"
// discriminant; snapshots and chat bodies are carried as opaque JSON.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the message discriminant.
type Type string

const (
	TypeJoinRoom        Type = "join_room"
	TypeLeaveRoom       Type = "leave_room"
	TypeChat            Type = "chat"
	TypeCanvasUpdate    Type = "canvas_update"
	TypeCanvasSnapshot  Type = "canvas_snapshot"
	TypeGetRoomUsers    Type = "get_room_users"
	TypeRequestSnapshot Type = "request_snapshot"
	TypeRoomUsers       Type = "room_users"
	TypeUserJoined      Type = "user_joined"
	TypeUserLeft        Type = "user_left"
)

// Close codes sent when a connection attempt is refused after the upgrade.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseMissingParam    = 4000
	CloseUnauthorized    = 4001
	ReasonMissingToken   = "missing token"
	ReasonUnauthorized   = "unauthorized"
	ReasonPingTimeout    = "ping timeout"
	ReasonServerShutdown = "server shutting down"
)

var (
	ErrMalformed       = errors.New("malformed message")
	ErrUnknownType     = errors.New("unknown message type")
	ErrMissingRoom     = errors.New("missing roomId")
	ErrMissingSnapshot = errors.New("missing snapshot")
	ErrMissingMessage  = errors.New("missing message")
)

// Envelope is the union of every field any message may carry. It is the
// decoding target for both directions; use DecodeInbound on the server to get
// a typed value.
type Envelope struct {
	Type     Type            `json:"type"`
	RoomID   string          `json:"roomId,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
	Users    []string        `json:"users,omitempty"`
	UserID   string          `json:"userId,omitempty"`
}

// Inbound is a client-to-server message. The set of implementations is
// closed: JoinRoom, LeaveRoom, Chat, CanvasUpdate, CanvasSnapshot and
// GetRoomUsers.
type Inbound interface {
	Kind() Type
	Room() string
	inbound()
}

type JoinRoom struct{ RoomID string }

type LeaveRoom struct{ RoomID string }

type GetRoomUsers struct{ RoomID string }

type Chat struct {
	RoomID  string
	Message json.RawMessage
}

type CanvasUpdate struct {
	RoomID   string
	Snapshot json.RawMessage
}

type CanvasSnapshot struct {
	RoomID   string
	Snapshot json.RawMessage
}

func (JoinRoom) Kind() Type       { return TypeJoinRoom }
func (LeaveRoom) Kind() Type      { return TypeLeaveRoom }
func (GetRoomUsers) Kind() Type   { return TypeGetRoomUsers }
func (Chat) Kind() Type           { return TypeChat }
func (CanvasUpdate) Kind() Type   { return TypeCanvasUpdate }
func (CanvasSnapshot) Kind() Type { return TypeCanvasSnapshot }

func (m JoinRoom) Room() string       { return m.RoomID }
func (m LeaveRoom) Room() string      { return m.RoomID }
func (m GetRoomUsers) Room() string   { return m.RoomID }
func (m Chat) Room() string           { return m.RoomID }
func (m CanvasUpdate) Room() string   { return m.RoomID }
func (m CanvasSnapshot) Room() string { return m.RoomID }

func (JoinRoom) inbound()       {}
func (LeaveRoom) inbound()      {}
func (GetRoomUsers) inbound()   {}
func (Chat) inbound()           {}
func (CanvasUpdate) inbound()   {}
func (CanvasSnapshot) inbound() {}

// DecodeInbound parses and validates one client message. Server-only types
// are rejected as unknown.
func DecodeInbound(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	var msg Inbound
	switch env.Type {
	case TypeJoinRoom:
		msg = JoinRoom{RoomID: env.RoomID}
	case TypeLeaveRoom:
		msg = LeaveRoom{RoomID: env.RoomID}
	case TypeGetRoomUsers:
		msg = GetRoomUsers{RoomID: env.RoomID}
	case TypeChat:
		if isAbsent(env.Message) {
			return nil, ErrMissingMessage
		}
		msg = Chat{RoomID: env.RoomID, Message: env.Message}
	case TypeCanvasUpdate:
		if isAbsent(env.Snapshot) {
			return nil, ErrMissingSnapshot
		}
		msg = CanvasUpdate{RoomID: env.RoomID, Snapshot: env.Snapshot}
	case TypeCanvasSnapshot:
		if isAbsent(env.Snapshot) {
			return nil, ErrMissingSnapshot
		}
		msg = CanvasSnapshot{RoomID: env.RoomID, Snapshot: env.Snapshot}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if msg.Room() == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRoom, env.Type)
	}
	return msg, nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// Decode parses any message into an Envelope without validation. Clients use
// it for server messages.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}
