// Package client is a Go SDK for the DrawIt relay. It dials the WebSocket
// endpoint with a bearer token, sends room operations and dispatches server
// messages to a Handler.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	cidpkg "github.com/vipulgupta28/DrawIt/internal/cid"
	"github.com/vipulgupta28/DrawIt/pkg/protocol"
)

// ErrNotConnected is returned by send operations before Connect succeeds or
// after the connection ends.
var ErrNotConnected = errors.New("client not connected")

// Config describes how to reach the relay.
type Config struct {
	// ServerURL is the WebSocket endpoint, e.g. ws://localhost:3000/ws.
	ServerURL string
	// Token is a signed identity token; it is sent as the token query parameter.
	Token     string
	UserAgent string
}

// Handler receives server messages. Embed DefaultHandler to override only
// the callbacks you need.
type Handler interface {
	OnConnected()
	OnDisconnected(err error)
	OnRoomUsers(roomID string, users []string)
	OnUserJoined(roomID, userID string)
	OnUserLeft(roomID, userID string)
	OnChat(roomID, userID string, message json.RawMessage)
	OnCanvasUpdate(roomID string, snapshot json.RawMessage)
	OnCanvasSnapshot(roomID string, snapshot json.RawMessage)
	OnRequestSnapshot(roomID string)
}

// SnapshotProvider returns the current canvas of roomID. Returning false
// leaves a request_snapshot unanswered.
type SnapshotProvider func(roomID string) (json.RawMessage, bool)

// DefaultHandler logs every message.
type DefaultHandler struct{}

func (DefaultHandler) OnConnected() { log.Info().Str("module", "client").Msg("connected") }
func (DefaultHandler) OnDisconnected(err error) {
	log.Info().Str("module", "client").Err(err).Msg("disconnected")
}
func (DefaultHandler) OnRoomUsers(roomID string, users []string) {
	log.Info().Str("module", "client").Str("room", roomID).Strs("users", users).Msg("room users")
}
func (DefaultHandler) OnUserJoined(roomID, userID string) {
	log.Info().Str("module", "client").Str("room", roomID).Str("user", userID).Msg("user joined")
}
func (DefaultHandler) OnUserLeft(roomID, userID string) {
	log.Info().Str("module", "client").Str("room", roomID).Str("user", userID).Msg("user left")
}
func (DefaultHandler) OnChat(roomID, userID string, message json.RawMessage) {
	log.Info().Str("module", "client").Str("room", roomID).Str("user", userID).RawJSON("message", message).Msg("chat")
}
func (DefaultHandler) OnCanvasUpdate(roomID string, snapshot json.RawMessage) {
	log.Debug().Str("module", "client").Str("room", roomID).Int("bytes", len(snapshot)).Msg("canvas update")
}
func (DefaultHandler) OnCanvasSnapshot(roomID string, snapshot json.RawMessage) {
	log.Info().Str("module", "client").Str("room", roomID).Int("bytes", len(snapshot)).Msg("canvas snapshot")
}
func (DefaultHandler) OnRequestSnapshot(roomID string) {
	log.Debug().Str("module", "client").Str("room", roomID).Msg("snapshot requested")
}

// Client is one relay connection. Send methods are safe for concurrent use.
type Client struct {
	cfg       Config
	conn      *websocket.Conn
	connected atomic.Bool
	handler   Handler
	snapshots SnapshotProvider
}

func New(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "drawit-client/1.0.0"
	}
	return &Client{cfg: cfg, handler: DefaultHandler{}}
}

func (c *Client) SetHandler(h Handler) {
	if h == nil {
		h = DefaultHandler{}
	}
	c.handler = h
}

// SetSnapshotProvider makes Run answer request_snapshot automatically.
func (c *Client) SetSnapshotProvider(p SnapshotProvider) { c.snapshots = p }

func (c *Client) IsConnected() bool { return c.connected.Load() }

// buildDialHeaders constructs the HTTP header map used for websocket.Dial.
func buildDialHeaders(ctx context.Context, userAgent string) map[string][]string {
	headers := map[string][]string{"User-Agent": {userAgent}}
	cidpkg.AddHeaderFromContext(headers, ctx)
	return headers
}

// buildDialURL adds the token query parameter to serverURL.
func buildDialURL(serverURL, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url scheme %q", u.Scheme)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect dials the relay. A CID carried by ctx is sent as a header.
func (c *Client) Connect(ctx context.Context) error {
	dialURL, err := buildDialURL(c.cfg.ServerURL, c.cfg.Token)
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, dialURL, &websocket.DialOptions{
		HTTPHeader: buildDialHeaders(ctx, c.cfg.UserAgent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	// Snapshots can be large.
	conn.SetReadLimit(-1)

	c.conn = conn
	c.connected.Store(true)
	c.handler.OnConnected()
	return nil
}

// Close ends the connection with a normal closure.
func (c *Client) Close() error {
	if c.conn == nil || !c.connected.Swap(false) {
		return nil
	}
	return c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.send(ctx, protocol.Envelope{Type: protocol.TypeJoinRoom, RoomID: roomID})
}

func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	return c.send(ctx, protocol.Envelope{Type: protocol.TypeLeaveRoom, RoomID: roomID})
}

func (c *Client) RequestRoomUsers(ctx context.Context, roomID string) error {
	return c.send(ctx, protocol.Envelope{Type: protocol.TypeGetRoomUsers, RoomID: roomID})
}

// SendChat sends message, which must be valid JSON, to the room.
func (c *Client) SendChat(ctx context.Context, roomID string, message json.RawMessage) error {
	return c.send(ctx, protocol.Envelope{Type: protocol.TypeChat, RoomID: roomID, Message: message})
}

// SendCanvasUpdate broadcasts the full canvas to the other members.
func (c *Client) SendCanvasUpdate(ctx context.Context, roomID string, snapshot json.RawMessage) error {
	return c.send(ctx, protocol.Envelope{Type: protocol.TypeCanvasUpdate, RoomID: roomID, Snapshot: snapshot})
}

// SendCanvasSnapshot answers a request_snapshot for roomID.
func (c *Client) SendCanvasSnapshot(ctx context.Context, roomID string, snapshot json.RawMessage) error {
	return c.send(ctx, protocol.Envelope{Type: protocol.TypeCanvasSnapshot, RoomID: roomID, Snapshot: snapshot})
}

func (c *Client) send(ctx context.Context, env protocol.Envelope) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", env.Type, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Type, err)
	}
	return nil
}

// Run reads server messages until ctx ends or the connection closes. It
// must be running for pings to be answered.
func (c *Client) Run(ctx context.Context) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.connected.Store(false)
			c.handler.OnDisconnected(err)
			return fmt.Errorf("read error: %w", err)
		}
		env, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Str("module", "client").Err(err).Msg("failed to decode server message")
			continue
		}
		c.dispatch(ctx, env)
	}
}

func (c *Client) dispatch(ctx context.Context, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeRoomUsers:
		c.handler.OnRoomUsers(env.RoomID, env.Users)
	case protocol.TypeUserJoined:
		c.handler.OnUserJoined(env.RoomID, env.UserID)
	case protocol.TypeUserLeft:
		c.handler.OnUserLeft(env.RoomID, env.UserID)
	case protocol.TypeChat:
		c.handler.OnChat(env.RoomID, env.UserID, env.Message)
	case protocol.TypeCanvasUpdate:
		c.handler.OnCanvasUpdate(env.RoomID, env.Snapshot)
	case protocol.TypeCanvasSnapshot:
		c.handler.OnCanvasSnapshot(env.RoomID, env.Snapshot)
	case protocol.TypeRequestSnapshot:
		c.handler.OnRequestSnapshot(env.RoomID)
		c.answerSnapshot(ctx, env.RoomID)
	default:
		log.Debug().Str("module", "client").Str("type", string(env.Type)).Msg("ignoring unknown message")
	}
}

func (c *Client) answerSnapshot(ctx context.Context, roomID string) {
	if c.snapshots == nil {
		return
	}
	snapshot, ok := c.snapshots(roomID)
	if !ok {
		return
	}
	if err := c.SendCanvasSnapshot(ctx, roomID, snapshot); err != nil {
		log.Warn().Str("module", "client").Str("room", roomID).Err(err).Msg("failed to answer snapshot request")
	}
}
