package types

import "time"

// User is a registered account as persisted by the record store. The
// password hash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// PublicUser is the subset of a user returned by the auth endpoints.
type PublicUser struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username"`
}

// ChatMessage is one archived chat line of a room.
type ChatMessage struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Room is the persisted metadata of a named drawing room. The relay does not
// need it: live rooms exist only while somebody is connected to them.
type Room struct {
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	AdminID   string    `json:"adminId"`
	CreatedAt time.Time `json:"created_at"`
}

type ServerStats struct {
	ConnectedClients    int   `json:"connected_clients"`
	ActiveRooms         int   `json:"active_rooms"`
	Participants        int   `json:"participants"`
	RoutedMessages      int64 `json:"routed_messages"`
	DroppedMessages     int64 `json:"dropped_messages"`
	DroppedDeliveries   int64 `json:"dropped_deliveries"`
	EventBufferLength   int   `json:"event_buffer_length"`
	EventBufferCapacity int   `json:"event_buffer_capacity"`
}
