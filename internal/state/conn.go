package state

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// Transport is the bidirectional message stream behind a connection. The
// relay only needs whole-message reads and writes, a liveness ping and a
// close with a status code.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(code int, reason string) error
}

// Conn is a live, admitted connection. The Manager owns it from Admit until
// Remove; its room set is only touched while holding the Manager lock.
type Conn struct {
	id            string
	participantID string
	transport     Transport
	connectedAt   time.Time

	// rooms is guarded by Manager.mu.
	rooms map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// io outlives ctx and ends in CloseTransport.
	io       context.Context
	ioCancel context.CancelFunc

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newConn(parent context.Context, t Transport, participantID string, sendBuffer int) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	io, ioCancel := context.WithCancel(context.WithoutCancel(parent))
	return &Conn{
		id:            ksuid.New().String(),
		participantID: participantID,
		transport:     t,
		connectedAt:   time.Now(),
		rooms:         make(map[string]struct{}),
		ctx:           ctx,
		cancel:        cancel,
		io:            io,
		ioCancel:      ioCancel,
		send:          make(chan []byte, sendBuffer),
	}
}

// DefaultSendBuffer is the outbound queue length used when none is given.
const DefaultSendBuffer = 256

// ID returns the handle id assigned at admission.
func (c *Conn) ID() string { return c.id }

// ParticipantID returns the verified identity that owns this connection.
func (c *Conn) ParticipantID() string { return c.participantID }

func (c *Conn) Transport() Transport { return c.transport }

func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// Context is cancelled when the connection is removed from the registry.
// Liveness timers and pumps stop on it.
func (c *Conn) Context() context.Context { return c.ctx }

// IOContext bounds calls into the transport. Removal does not cancel it, so
// a pending read is still running while the close frame is exchanged. It is
// cancelled once CloseTransport returns.
func (c *Conn) IOContext() context.Context { return c.io }

// CloseTransport closes the transport with code and reason, then releases
// any transport call still waiting on IOContext.
func (c *Conn) CloseTransport(code int, reason string) error {
	defer c.ioCancel()
	return c.transport.Close(code, reason)
}

// Done is shorthand for Context().Done().
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// Outbound returns the queue drained by the write pump. It is closed on
// removal.
func (c *Conn) Outbound() <-chan []byte { return c.send }

// Enqueue queues data for delivery without blocking.
func (c *Conn) Enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Closed reports whether the connection has been removed.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// shutdown stops the liveness context and closes the queue. It returns false
// if the connection was already shut down.
func (c *Conn) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.cancel()
	close(c.send)
	return true
}
