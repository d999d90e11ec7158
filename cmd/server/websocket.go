package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	cidpkg "github.com/vipulgupta28/DrawIt/internal/cid"
	"github.com/vipulgupta28/DrawIt/internal/relay"
	"github.com/vipulgupta28/DrawIt/pkg/protocol"
)

// handleRoot serves the WebSocket on "/" like the browser client expects and
// answers plain GETs with service info.
func (s *Server) handleRoot(c *gin.Context) {
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		s.handleWebSocket(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "DrawIt relay",
		"version": version,
	})
}

// handleWebSocket admits one drawing client. The configured origin allow-list
// runs before the upgrade and replaces the library's same-host check. The
// token is checked after the upgrade, so the browser sees the close code.
func (s *Server) handleWebSocket(c *gin.Context) {
	cid := cidpkg.CIDFromContext(c.Request.Context())
	origin := c.GetHeader("Origin")
	if !s.cfg.OriginAllowed(origin) {
		log.Warn().Str("module", "http").Str("origin", origin).Str("cid", cid).Msg("websocket origin rejected")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Warn().Str("module", "http").Err(err).Str("cid", cid).Msg("websocket upgrade failed")
		return
	}

	token := c.Query("token")
	if token == "" {
		_ = conn.Close(websocket.StatusCode(protocol.CloseMissingParam), protocol.ReasonMissingToken)
		return
	}
	participantID, err := s.verifier.Verify(token)
	if err != nil {
		log.Warn().Str("module", "http").Err(err).Str("cid", cid).Msg("websocket token rejected")
		_ = conn.Close(websocket.StatusCode(protocol.CloseUnauthorized), protocol.ReasonUnauthorized)
		return
	}

	transport := relay.NewWebSocketTransport(conn, s.cfg.MaxMessageSize)
	ctx := cidpkg.WithCID(context.Background(), cid)
	if err := s.hub.Serve(ctx, transport, participantID); err != nil {
		code := websocket.StatusInternalError
		if errors.Is(err, relay.ErrHubStopped) {
			code = websocket.StatusGoingAway
		}
		log.Warn().Str("module", "http").Err(err).Str("user", participantID).Str("cid", cid).Msg("connection not served")
		_ = transport.Close(int(code), err.Error())
	}
}
