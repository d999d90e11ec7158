package relay

import (
	"github.com/rs/zerolog/log"

	"github.com/vipulgupta28/DrawIt/internal/state"
	"github.com/vipulgupta28/DrawIt/pkg/protocol"
)

// join runs the join protocol for c in roomID:
//
//  1. index the membership (no-op when already a member)
//  2. user_joined to the other connections, other tabs of the same
//     participant included
//  3. room_users to every member, the joiner included
//  4. request_snapshot to the earliest other member, with c recorded as a
//     pending snapshot recipient
//
// Without a donor the joiner starts from an empty canvas. A failed request is
// not retried; rejoining runs the protocol again.
func (h *Hub) join(c *state.Conn, roomID string) (int, error) {
	joined, err := h.state.Join(c, roomID)
	if err != nil || !joined {
		return 0, err
	}

	n := 0
	others := h.state.MembersExcluding(roomID, c)
	n += h.fanout(others, protocol.UserJoined{RoomID: roomID, UserID: c.ParticipantID()})
	roster := protocol.RoomUsers{RoomID: roomID, Users: h.state.MembersOf(roomID)}
	n += h.fanout(h.state.Members(roomID), roster)

	donor, ok := h.state.Donor(roomID, c)
	if !ok {
		log.Debug().Str("module", "relay.join").Str("conn", c.ID()).Str("room", roomID).Msg("no donor, empty canvas")
		return n, nil
	}

	h.addPending(roomID, c)
	if h.fanout([]*state.Conn{donor}, protocol.RequestSnapshot{RoomID: roomID}) == 0 {
		h.forgetPending(roomID, c)
		log.Debug().Str("module", "relay.join").Str("conn", c.ID()).Str("donor", donor.ID()).Str("room", roomID).Msg("snapshot request not delivered")
		return n, nil
	}
	log.Debug().Str("module", "relay.join").Str("conn", c.ID()).Str("donor", donor.ID()).Str("room", roomID).Msg("snapshot requested")
	return n + 1, nil
}

// canvasSnapshot forwards a donor's snapshot to every pending recipient of
// the room and clears them. A snapshot nobody is waiting for is dropped.
func (h *Hub) canvasSnapshot(c *state.Conn, m protocol.CanvasSnapshot) (int, error) {
	if err := h.requireMember(c, m.RoomID); err != nil {
		return 0, err
	}

	waiting := h.pending[m.RoomID]
	delete(h.pending, m.RoomID)

	targets := make([]*state.Conn, 0, len(waiting))
	for joiner := range waiting {
		if joiner != c && h.state.IsMember(joiner, m.RoomID) {
			targets = append(targets, joiner)
		}
	}
	if len(targets) == 0 {
		log.Debug().Str("module", "relay.join").Str("conn", c.ID()).Str("room", m.RoomID).Msg("unsolicited snapshot dropped")
		return 0, nil
	}
	return h.fanout(targets, protocol.NewCanvasSnapshot(m.RoomID, m.Snapshot)), nil
}

func (h *Hub) addPending(roomID string, c *state.Conn) {
	set := h.pending[roomID]
	if set == nil {
		set = make(map[*state.Conn]struct{})
		h.pending[roomID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) forgetPending(roomID string, c *state.Conn) {
	set := h.pending[roomID]
	if set == nil {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.pending, roomID)
	}
}

// pendingFor reports the pending snapshot recipients of roomID.
func (h *Hub) pendingFor(roomID string) int {
	return len(h.pending[roomID])
}
