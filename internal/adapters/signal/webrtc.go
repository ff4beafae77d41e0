package signal

import (
	"encoding/json"

	"github.com/dkeye/gridvoice/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards the signal payload as raw bytes; the server never
// interprets offers, answers or candidates.
func (ctl *SignalWSController) handleRelay(c *WsSignalConn, data []byte) {
	var p protocol.SignalTo
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad signal payload")
		ctl.sendJSON(c, protocol.NewError(protocol.CodeBadPayload))
		return
	}
	ctl.hub.Relay(c.id, p.To, p.Signal)
}
