package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	cidpkg "github.com/vipulgupta28/DrawIt/internal/cid"
	"github.com/vipulgupta28/DrawIt/internal/state"
	"github.com/vipulgupta28/DrawIt/pkg/protocol"
)

var ErrNotMember = errors.New("sender is not a member of the room")

// handleMessage decodes one inbound message from c and routes it. Protocol
// errors are logged and dropped; the connection stays open.
func (h *Hub) handleMessage(c *state.Conn, data []byte) {
	if c.Closed() {
		return
	}

	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		h.protocolError(c, "", err)
		return
	}

	_, span := h.tracer.Start(c.Context(), "relay."+string(msg.Kind()),
		trace.WithAttributes(
			attribute.String("room.id", msg.Room()),
			attribute.String("conn.id", c.ID()),
			attribute.String(cidpkg.AttributeName, cidpkg.CIDFromContext(c.Context())),
		))
	defer span.End()

	var recipients int
	switch m := msg.(type) {
	case protocol.JoinRoom:
		recipients, err = h.join(c, m.RoomID)
	case protocol.LeaveRoom:
		recipients, err = h.leave(c, m.RoomID)
	case protocol.GetRoomUsers:
		recipients = h.sendRoster(c, m.RoomID)
	case protocol.Chat:
		recipients, err = h.chat(c, m)
	case protocol.CanvasUpdate:
		recipients, err = h.canvasUpdate(c, m)
	case protocol.CanvasSnapshot:
		recipients, err = h.canvasSnapshot(c, m)
	default:
		err = fmt.Errorf("%w: %s", protocol.ErrUnknownType, msg.Kind())
	}

	span.SetAttributes(attribute.Int("relay.recipients", recipients))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.protocolError(c, msg.Room(), err)
		return
	}
	h.routed.Add(1)
}

func (h *Hub) protocolError(c *state.Conn, roomID string, err error) {
	h.dropped.Add(1)
	log.Warn().Str("module", "relay.router").Str("conn", c.ID()).Str("user", c.ParticipantID()).Str("room", roomID).Err(err).Msg("message dropped")
}

func (h *Hub) requireMember(c *state.Conn, roomID string) error {
	if !h.state.IsMember(c, roomID) {
		return fmt.Errorf("%w: %s", ErrNotMember, roomID)
	}
	return nil
}

func (h *Hub) chat(c *state.Conn, m protocol.Chat) (int, error) {
	if err := h.requireMember(c, m.RoomID); err != nil {
		return 0, err
	}
	out := protocol.ChatRelay{RoomID: m.RoomID, Message: m.Message, UserID: c.ParticipantID()}
	return h.fanout(h.state.Members(m.RoomID), out), nil
}

func (h *Hub) canvasUpdate(c *state.Conn, m protocol.CanvasUpdate) (int, error) {
	if err := h.requireMember(c, m.RoomID); err != nil {
		return 0, err
	}
	out := protocol.NewCanvasUpdate(m.RoomID, m.Snapshot)
	return h.fanout(h.state.MembersExcluding(m.RoomID, c), out), nil
}

func (h *Hub) leave(c *state.Conn, roomID string) (int, error) {
	left, err := h.state.Leave(c, roomID)
	if err != nil || !left {
		return 0, err
	}
	h.forgetPending(roomID, c)
	log.Debug().Str("module", "relay.router").Str("conn", c.ID()).Str("room", roomID).Msg("left room")
	return h.announceDeparture(roomID, c), nil
}

// sendRoster answers get_room_users to the sender only. Membership is not
// required.
func (h *Hub) sendRoster(c *state.Conn, roomID string) int {
	out := protocol.RoomUsers{RoomID: roomID, Users: h.state.MembersOf(roomID)}
	return h.fanout([]*state.Conn{c}, out)
}

// announceDeparture tells the remaining members of roomID that c is gone.
// The refreshed roster still lists the participant while another of its
// connections is in the room.
func (h *Hub) announceDeparture(roomID string, c *state.Conn) int {
	remaining := h.state.Members(roomID)
	if len(remaining) == 0 {
		return 0
	}
	n := h.fanout(remaining, protocol.UserLeft{RoomID: roomID, UserID: c.ParticipantID()})
	n += h.fanout(remaining, protocol.RoomUsers{RoomID: roomID, Users: h.state.MembersOf(roomID)})
	return n
}

// disconnect removes c from the registry and every room, notifies the
// rooms it left and closes the transport. It is safe to call more than once.
func (h *Hub) disconnect(c *state.Conn, reason string) {
	rooms, removed := h.state.Remove(c)
	if !removed {
		return
	}
	for _, roomID := range rooms {
		h.forgetPending(roomID, c)
		h.announceDeparture(roomID, c)
	}

	code := protocol.CloseNormal
	if reason == protocol.ReasonPingTimeout {
		code = protocol.CloseGoingAway
	}
	// The close handshake may block; keep it off the loop.
	go func() { _ = c.CloseTransport(code, reason) }()
	log.Info().Str("module", "relay.hub").Str("conn", c.ID()).Str("user", c.ParticipantID()).Strs("rooms", rooms).Str("reason", reason).Msg("connection closed")
}

// fanout encodes msg once and enqueues it for every recipient. Failures are
// counted per recipient and never stop the loop. It returns the number of
// successful deliveries.
func (h *Hub) fanout(to []*state.Conn, msg any) int {
	if len(to) == 0 {
		return 0
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Str("module", "relay.router").Err(err).Msgf("encode %T", msg)
		return 0
	}
	n := 0
	for _, c := range to {
		if h.deliver(c, data) {
			n++
		}
	}
	return n
}

func (h *Hub) deliver(c *state.Conn, data []byte) bool {
	if err := c.Enqueue(data); err != nil {
		h.droppedDeliveries.Add(1)
		log.Debug().Str("module", "relay.router").Str("conn", c.ID()).Str("user", c.ParticipantID()).Err(err).Msg("delivery failed")
		return false
	}
	return true
}
