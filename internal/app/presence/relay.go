package presence

import (
	"encoding/json"

	"github.com/dkeye/gridvoice/internal/core"
	"github.com/dkeye/gridvoice/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Relay forwards payload from one connection to exactly one other. The payload
// is never inspected. Destinations not in the roster are dropped silently;
// the sender learns about it from the next roster broadcast.
func (h *Hub) Relay(from, to core.ConnID, payload json.RawMessage) bool {
	frame, err := protocol.Marshal(protocol.SignalFrom{Type: protocol.TypeSignal, From: from, Signal: payload})
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("relay marshal")
		return false
	}

	h.mu.Lock()
	_, joined := h.roster[to]
	c, attached := h.conns[to]
	h.mu.Unlock()
	if !joined || !attached {
		log.Debug().Str("module", "app.presence").Str("from", string(from)).Str("to", string(to)).Msg("relay: unknown destination, dropped")
		return false
	}

	if err := c.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("from", string(from)).Str("to", string(to)).Msg("relay send failed")
		h.applyPolicy(core.PublishResult{Dropped: []core.ConnID{to}})
		return false
	}
	return true
}
