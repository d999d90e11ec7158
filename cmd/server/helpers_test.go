package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/vipulgupta28/DrawIt/internal/config"
	"github.com/vipulgupta28/DrawIt/internal/store"
	"github.com/vipulgupta28/DrawIt/pkg/protocol"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestServer builds a started server on an httptest listener. st may be nil.
func newTestServer(t *testing.T, st *store.Store, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.JWTSecret = testSecret
	if mutate != nil {
		mutate(cfg)
	}
	s, err := NewServer(cfg, st)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	s.Start()
	ts := httptest.NewServer(s.router)
	t.Cleanup(func() {
		s.Stop()
		ts.Close()
	})
	return s, ts
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir()+"/drawit.db")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func mintToken(t *testing.T, s *Server, id string) string {
	t.Helper()
	token, err := s.issuer.Mint(id, id, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return token
}

// dialAs opens a WebSocket for participant id and waits until the hub has
// admitted it.
func dialAs(t *testing.T, s *Server, ts *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	before := s.stateManager.Len()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/ws?token="+mintToken(t, s, id)), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", id, err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })

	deadline := time.Now().Add(2 * time.Second)
	for s.stateManager.Len() <= before {
		if time.Now().After(deadline) {
			t.Fatalf("connection for %s was never admitted", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads envelopes until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want protocol.Type) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		env, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
		if env.Type == want {
			return env
		}
	}
}
