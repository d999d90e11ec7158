package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
)

// ErrTransportClosed is returned by transports whose peer or local side has
// closed the connection.
var ErrTransportClosed = errors.New("transport closed")

// WebSocketTransport adapts a coder/websocket connection to state.Transport.
type WebSocketTransport struct {
	conn      *websocket.Conn
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketTransport wraps conn. A positive readLimit caps the size of a
// single inbound message.
func NewWebSocketTransport(conn *websocket.Conn, readLimit int64) *WebSocketTransport {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &WebSocketTransport{conn: conn}
}

func (t *WebSocketTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, t.mapErr(err)
	}
	return data, nil
}

func (t *WebSocketTransport) Write(ctx context.Context, data []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return t.mapErr(err)
	}
	return nil
}

// Ping needs a concurrent Read to observe the pong; the hub's read pump
// provides it.
func (t *WebSocketTransport) Ping(ctx context.Context) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if err := t.conn.Ping(ctx); err != nil {
		return t.mapErr(err)
	}
	return nil
}

func (t *WebSocketTransport) Close(code int, reason string) error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.closeErr = t.conn.Close(websocket.StatusCode(code), reason)
	})
	return t.closeErr
}

func (t *WebSocketTransport) mapErr(err error) error {
	if websocket.CloseStatus(err) != -1 || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		t.closed.Store(true)
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return err
}
