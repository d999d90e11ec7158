package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vipulgupta28/DrawIt/internal/state"
	"github.com/vipulgupta28/DrawIt/pkg/protocol"
)

// mockTransport is an in-memory transport. Messages pushed with send are
// returned by Read; everything the hub writes is recorded.
type mockTransport struct {
	inbox    chan []byte
	closedCh chan struct{}
	once     sync.Once

	mu          sync.Mutex
	writes      [][]byte
	writeErr    error
	readAborted bool
	pingErr     error
	pings       int
	closeCode   int
	closeReason string
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		inbox:    make(chan []byte, 64),
		closedCh: make(chan struct{}),
	}
}

func (m *mockTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-m.inbox:
		return data, nil
	case <-m.closedCh:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		// A real socket is torn down without a close frame here.
		if !m.isClosed() {
			m.mu.Lock()
			m.readAborted = true
			m.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

func (m *mockTransport) Write(ctx context.Context, data []byte) error {
	select {
	case <-m.closedCh:
		return ErrTransportClosed
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes = append(m.writes, data)
	return nil
}

func (m *mockTransport) Ping(ctx context.Context) error {
	select {
	case <-m.closedCh:
		return ErrTransportClosed
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return m.pingErr
}

func (m *mockTransport) Close(code int, reason string) error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closeCode, m.closeReason = code, reason
		m.mu.Unlock()
		close(m.closedCh)
	})
	return nil
}

func (m *mockTransport) send(t *testing.T, msg any) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	m.inbox <- data
}

func (m *mockTransport) setPingErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

func (m *mockTransport) setWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// closedCleanly reports whether the transport was closed with a code before
// any pending read was cancelled.
func (m *mockTransport) closedCleanly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.readAborted
}

func (m *mockTransport) isClosed() bool {
	select {
	case <-m.closedCh:
		return true
	default:
		return false
	}
}

func (m *mockTransport) closeInfo() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCode, m.closeReason
}

// received decodes every message written so far.
func (m *mockTransport) received(t *testing.T) []protocol.Envelope {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(m.writes))
	for _, data := range m.writes {
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

// drain returns the messages queued on c without a write pump.
func drain(t *testing.T, c *state.Conn) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	for {
		select {
		case data, ok := <-c.Outbound():
			if !ok {
				return out
			}
			env, err := protocol.Decode(data)
			require.NoError(t, err)
			out = append(out, env)
		default:
			return out
		}
	}
}

func ofType(envs []protocol.Envelope, typ protocol.Type) []protocol.Envelope {
	var out []protocol.Envelope
	for _, env := range envs {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func typesOf(envs []protocol.Envelope) []protocol.Type {
	out := make([]protocol.Type, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.Type)
	}
	return out
}

// fixture drives the hub synchronously: messages go straight to
// handleMessage and nothing runs in the background.
type fixture struct {
	t   *testing.T
	sm  *state.Manager
	hub *Hub
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithBuffer(t, state.DefaultSendBuffer)
}

func newFixtureWithBuffer(t *testing.T, sendBuffer int) *fixture {
	sm := state.NewManagerWithOptions(sendBuffer)
	return &fixture{t: t, sm: sm, hub: NewHub(sm, Options{})}
}

func (f *fixture) connect(participantID string) *state.Conn {
	f.t.Helper()
	c, err := f.sm.Admit(context.Background(), newMockTransport(), participantID)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) send(c *state.Conn, msg any) {
	f.t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(f.t, err)
	f.hub.handleMessage(c, data)
}

func (f *fixture) sendRaw(c *state.Conn, raw string) {
	f.hub.handleMessage(c, []byte(raw))
}

func joinMsg(room string) map[string]any {
	return map[string]any{"type": "join_room", "roomId": room}
}

func leaveMsg(room string) map[string]any {
	return map[string]any{"type": "leave_room", "roomId": room}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
