package state

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/vipulgupta28/DrawIt/internal/types"
)

// Manager is the connection registry and the room membership index. Both
// structures change under the same lock so a connection's room set and the
// index always agree.
type Manager struct {
	mu          sync.RWMutex
	conns       map[*Conn]struct{}
	byTransport map[Transport]*Conn
	// rooms maps room id -> member -> join sequence number.
	rooms      map[string]map[*Conn]uint64
	seq        uint64
	sendBuffer int
}

func NewManager() *Manager {
	return NewManagerWithOptions(DefaultSendBuffer)
}

// NewManagerWithOptions sets the outbound queue length of admitted
// connections.
func NewManagerWithOptions(sendBuffer int) *Manager {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Manager{
		conns:       make(map[*Conn]struct{}),
		byTransport: make(map[Transport]*Conn),
		rooms:       make(map[string]map[*Conn]uint64),
		sendBuffer:  sendBuffer,
	}
}

// Admit registers a transport for participantID with an empty room set.
// Transports are used as map keys and must be comparable.
func (m *Manager) Admit(ctx context.Context, t Transport, participantID string) (*Conn, error) {
	if participantID == "" {
		return nil, ErrInvalidParticipantID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byTransport[t]; exists {
		return nil, ErrAlreadyRegistered
	}

	c := newConn(ctx, t, participantID, m.sendBuffer)
	m.conns[c] = struct{}{}
	m.byTransport[t] = c

	log.Debug().Str("module", "state").Str("conn", c.id).Str("user", participantID).Int("clients", len(m.conns)).Msg("connection admitted")
	return c, nil
}

// Remove drops the connection from the registry and from every room it had
// joined, then cancels its context and closes its queue. It returns the rooms
// the connection was in, sorted. Calling it again is a no-op.
func (m *Manager) Remove(c *Conn) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns[c]; !ok {
		return nil, false
	}

	left := sortedKeys(c.rooms)
	for _, roomID := range left {
		m.unindex(c, roomID)
	}
	c.rooms = make(map[string]struct{})

	delete(m.conns, c)
	if m.byTransport[c.transport] == c {
		delete(m.byTransport, c.transport)
	}
	c.shutdown()

	log.Debug().Str("module", "state").Str("conn", c.id).Strs("rooms", left).Int("clients", len(m.conns)).Msg("connection removed")
	return left, true
}

// Find maps a transport back to its connection.
func (m *Manager) Find(t Transport) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byTransport[t]
	return c, ok
}

// Join adds roomID to the connection's room set and indexes it. It reports
// whether the connection was newly joined.
func (m *Manager) Join(c *Conn, roomID string) (bool, error) {
	if roomID == "" {
		return false, ErrInvalidRoomID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns[c]; !ok {
		return false, ErrConnNotFound
	}
	if _, member := c.rooms[roomID]; member {
		return false, nil
	}

	members := m.rooms[roomID]
	if members == nil {
		members = make(map[*Conn]uint64)
		m.rooms[roomID] = members
	}
	m.seq++
	members[c] = m.seq
	c.rooms[roomID] = struct{}{}
	return true, nil
}

// Leave is the inverse of Join. It reports whether the connection was a
// member.
func (m *Manager) Leave(c *Conn, roomID string) (bool, error) {
	if roomID == "" {
		return false, ErrInvalidRoomID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns[c]; !ok {
		return false, ErrConnNotFound
	}
	if _, member := c.rooms[roomID]; !member {
		return false, nil
	}

	delete(c.rooms, roomID)
	m.unindex(c, roomID)
	return true, nil
}

// unindex must be called with m.mu held.
func (m *Manager) unindex(c *Conn, roomID string) {
	members := m.rooms[roomID]
	if members == nil {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(m.rooms, roomID)
	}
}

// IsMember reports whether c has joined roomID.
func (m *Manager) IsMember(c *Conn, roomID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[roomID][c]
	return ok
}

// MembersOf returns the distinct participant ids in roomID, sorted. The
// result is never nil.
func (m *Manager) MembersOf(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{}, len(m.rooms[roomID]))
	for c := range m.rooms[roomID] {
		seen[c.participantID] = struct{}{}
	}
	return sortedKeys(seen)
}

// Members returns every connection in roomID in join order.
func (m *Manager) Members(roomID string) []*Conn {
	return m.MembersExcluding(roomID, nil)
}

// MembersExcluding returns the connections in roomID other than exclude, in
// join order.
func (m *Manager) MembersExcluding(roomID string, exclude *Conn) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := m.rooms[roomID]
	out := make([]*Conn, 0, len(members))
	for c := range members {
		if c != exclude {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return members[out[i]] < members[out[j]]
	})
	return out
}

// Donor picks the member of roomID, other than exclude, that joined first.
func (m *Manager) Donor(roomID string, exclude *Conn) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		donor *Conn
		best  uint64
	)
	for c, seq := range m.rooms[roomID] {
		if c == exclude {
			continue
		}
		if donor == nil || seq < best {
			donor, best = c, seq
		}
	}
	return donor, donor != nil
}

// RoomsOf returns the rooms c has joined, sorted.
func (m *Manager) RoomsOf(c *Conn) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(c.rooms)
}

// All returns every registered connection.
func (m *Manager) All() []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Conn, 0, len(m.conns))
	for c := range m.conns {
		out = append(out, c)
	}
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// RoomSizes returns the number of connections per live room.
func (m *Manager) RoomSizes() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sizes := make(map[string]int, len(m.rooms))
	for roomID, members := range m.rooms {
		sizes[roomID] = len(members)
	}
	return sizes
}

func (m *Manager) GetStats() types.ServerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	participants := make(map[string]struct{}, len(m.conns))
	for c := range m.conns {
		participants[c.participantID] = struct{}{}
	}

	return types.ServerStats{
		ConnectedClients: len(m.conns),
		ActiveRooms:      len(m.rooms),
		Participants:     len(participants),
	}
}

func sortedKeys[V any](set map[string]V) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
