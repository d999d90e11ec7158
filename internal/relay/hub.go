// Package relay moves drawing and chat messages between the connections of a
// room. A single event loop owns every routing decision; per-connection
// goroutines only read, write and ping.
package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	cidpkg "github.com/vipulgupta28/DrawIt/internal/cid"
	"github.com/vipulgupta28/DrawIt/internal/state"
	"github.com/vipulgupta28/DrawIt/internal/types"
	"github.com/vipulgupta28/DrawIt/pkg/protocol"
)

var ErrHubStopped = errors.New("relay hub stopped")

// Options tune the hub. Zero fields take the defaults from DefaultOptions.
type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMissedPings int
	EventBuffer    int
}

func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMissedPings: 2,
		EventBuffer:    1024,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = d.PongTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.MaxMissedPings <= 0 {
		o.MaxMissedPings = d.MaxMissedPings
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = d.EventBuffer
	}
	return o
}

type eventKind int

const (
	eventMessage eventKind = iota
	eventClose
)

type event struct {
	kind   eventKind
	conn   *state.Conn
	data   []byte
	reason string
}

// Hub serializes all routing through Run. Connection bookkeeping lives in the
// state.Manager; the hub only adds the pending snapshot recipients.
type Hub struct {
	state  *state.Manager
	opts   Options
	events chan event
	done   chan struct{}
	tracer trace.Tracer

	// pending is owned by the Run goroutine.
	pending map[string]map[*state.Conn]struct{}

	routed            atomic.Int64
	dropped           atomic.Int64
	droppedDeliveries atomic.Int64
}

func NewHub(sm *state.Manager, opts Options) *Hub {
	opts = opts.withDefaults()
	return &Hub{
		state:   sm,
		opts:    opts,
		events:  make(chan event, opts.EventBuffer),
		done:    make(chan struct{}),
		tracer:  otel.Tracer("drawit/relay"),
		pending: make(map[string]map[*state.Conn]struct{}),
	}
}

func (h *Hub) Options() Options { return h.opts }

// Run processes events until ctx is cancelled, then closes every remaining
// connection with 1001. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	log.Info().Str("module", "relay.hub").Int("event_buffer", cap(h.events)).Msg("hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case ev := <-h.events:
			switch ev.kind {
			case eventMessage:
				h.handleMessage(ev.conn, ev.data)
			case eventClose:
				h.disconnect(ev.conn, ev.reason)
			}
		}
	}
}

func (h *Hub) shutdown() {
	conns := h.state.All()
	var wg sync.WaitGroup
	for _, c := range conns {
		h.state.Remove(c)
		wg.Add(1)
		go func(c *state.Conn) {
			defer wg.Done()
			_ = c.CloseTransport(protocol.CloseGoingAway, protocol.ReasonServerShutdown)
		}(c)
	}
	wg.Wait()
	h.pending = make(map[string]map[*state.Conn]struct{})
	log.Info().Str("module", "relay.hub").Int("closed", len(conns)).Msg("hub stopped")
}

// post hands an event to the loop. It gives up when the hub has stopped or,
// for message events, when the connection is already gone.
func (h *Hub) post(ev event) bool {
	if ev.kind == eventMessage {
		select {
		case h.events <- ev:
			return true
		case <-ev.conn.Done():
			return false
		case <-h.done:
			return false
		}
	}
	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

// Serve runs one admitted connection until it is removed. The participant id
// must already be verified. A correlation id on ctx is attached to the
// connection's logs and spans.
func (h *Hub) Serve(ctx context.Context, t state.Transport, participantID string) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	c, err := h.state.Admit(ctx, t, participantID)
	if err != nil {
		return err
	}
	cid := cidpkg.CIDFromContext(ctx)
	log.Info().Str("module", "relay.hub").Str("conn", c.ID()).Str("user", participantID).Str("cid", cid).Msg("connection opened")

	go h.writePump(c)
	go h.monitor(c)

	reason := "connection closed"
	if err := h.readPump(c); err != nil && !errors.Is(err, context.Canceled) {
		log.Debug().Str("module", "relay.hub").Str("conn", c.ID()).Err(err).Msg("read pump stopped")
	}

	if !h.post(event{kind: eventClose, conn: c, reason: reason}) {
		if _, removed := h.state.Remove(c); removed {
			_ = c.CloseTransport(protocol.CloseGoingAway, protocol.ReasonServerShutdown)
		}
		return nil
	}

	select {
	case <-c.Done():
	case <-h.done:
	}
	return nil
}

// Stats merges the registry counts with the hub's routing counters.
func (h *Hub) Stats() types.ServerStats {
	stats := h.state.GetStats()
	stats.RoutedMessages = h.routed.Load()
	stats.DroppedMessages = h.dropped.Load()
	stats.DroppedDeliveries = h.droppedDeliveries.Load()
	stats.EventBufferLength = len(h.events)
	stats.EventBufferCapacity = cap(h.events)
	return stats
}
