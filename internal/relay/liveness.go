package relay

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vipulgupta28/DrawIt/internal/state"
	"github.com/vipulgupta28/DrawIt/pkg/protocol"
)

// monitor pings c every PingInterval. A transport that is already closed is
// reaped on the next ping; otherwise MaxMissedPings consecutive failures
// reap it. The loop ends when the connection is removed, whoever removed it.
func (h *Hub) monitor(c *state.Conn) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-c.Done():
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(c.IOContext(), h.opts.PongTimeout)
		err := c.Transport().Ping(ctx)
		cancel()

		switch {
		case err == nil:
			missed = 0
		case c.Context().Err() != nil:
			return
		case errors.Is(err, ErrTransportClosed):
			h.post(event{kind: eventClose, conn: c, reason: "connection closed"})
			return
		default:
			missed++
			log.Debug().Str("module", "relay.liveness").Str("conn", c.ID()).Int("missed", missed).Err(err).Msg("ping failed")
			if missed >= h.opts.MaxMissedPings {
				log.Info().Str("module", "relay.liveness").Str("conn", c.ID()).Str("user", c.ParticipantID()).Int("missed", missed).Msg("reaping dead connection")
				h.post(event{kind: eventClose, conn: c, reason: protocol.ReasonPingTimeout})
				return
			}
		}
	}
}
