package protocol

import "encoding/json"

// Outbound messages carry their own type on the wire. Users is always
// present in room_users, even when empty.

type RequestSnapshot struct {
	RoomID string `json:"roomId"`
}

type RoomUsers struct {
	RoomID string   `json:"roomId"`
	Users  []string `json:"users"`
}

type UserJoined struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type UserLeft struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// ChatRelay is the chat message as fanned out to room members.
type ChatRelay struct {
	RoomID  string          `json:"roomId"`
	Message json.RawMessage `json:"message"`
	UserID  string          `json:"userId,omitempty"`
}

// CanvasRelay carries a canvas_update or canvas_snapshot to recipients.
type CanvasRelay struct {
	Type     Type            `json:"type"`
	RoomID   string          `json:"roomId"`
	Snapshot json.RawMessage `json:"snapshot"`
}

func (m RequestSnapshot) MarshalJSON() ([]byte, error) {
	type wire RequestSnapshot
	return json.Marshal(struct {
		Type Type `json:"type"`
		wire
	}{TypeRequestSnapshot, wire(m)})
}

func (m RoomUsers) MarshalJSON() ([]byte, error) {
	type wire RoomUsers
	if m.Users == nil {
		m.Users = []string{}
	}
	return json.Marshal(struct {
		Type Type `json:"type"`
		wire
	}{TypeRoomUsers, wire(m)})
}

func (m UserJoined) MarshalJSON() ([]byte, error) {
	type wire UserJoined
	return json.Marshal(struct {
		Type Type `json:"type"`
		wire
	}{TypeUserJoined, wire(m)})
}

func (m UserLeft) MarshalJSON() ([]byte, error) {
	type wire UserLeft
	return json.Marshal(struct {
		Type Type `json:"type"`
		wire
	}{TypeUserLeft, wire(m)})
}

func (m ChatRelay) MarshalJSON() ([]byte, error) {
	type wire ChatRelay
	return json.Marshal(struct {
		Type Type `json:"type"`
		wire
	}{TypeChat, wire(m)})
}

// NewCanvasUpdate builds the canvas_update relayed to other members.
func NewCanvasUpdate(roomID string, snapshot json.RawMessage) CanvasRelay {
	return CanvasRelay{Type: TypeCanvasUpdate, RoomID: roomID, Snapshot: snapshot}
}

// NewCanvasSnapshot builds the canvas_snapshot relayed to a joiner.
func NewCanvasSnapshot(roomID string, snapshot json.RawMessage) CanvasRelay {
	return CanvasRelay{Type: TypeCanvasSnapshot, RoomID: roomID, Snapshot: snapshot}
}
