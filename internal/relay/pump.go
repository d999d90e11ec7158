package relay

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/vipulgupta28/DrawIt/internal/state"
)

// readPump posts every inbound message to the loop in read order until the
// transport fails or the connection is removed.
func (h *Hub) readPump(c *state.Conn) error {
	for {
		data, err := c.Transport().Read(c.IOContext())
		if err != nil {
			return err
		}
		if !h.post(event{kind: eventMessage, conn: c, data: data}) {
			return nil
		}
	}
}

// writePump drains the outbound queue. Each write gets WriteTimeout; a failed
// write closes the connection. Messages still queued at removal are dropped.
func (h *Hub) writePump(c *state.Conn) {
	for data := range c.Outbound() {
		if c.Closed() {
			return
		}
		ctx, cancel := context.WithTimeout(c.IOContext(), h.opts.WriteTimeout)
		err := c.Transport().Write(ctx, data)
		cancel()
		if err != nil {
			if c.Context().Err() == nil {
				log.Debug().Str("module", "relay.hub").Str("conn", c.ID()).Err(err).Msg("write failed")
				h.post(event{kind: eventClose, conn: c, reason: "write failed"})
			}
			return
		}
	}
}
