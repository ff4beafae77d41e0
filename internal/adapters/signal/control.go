package signal

import (
	"encoding/json"

	"github.com/dkeye/gridvoice/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(c *WsSignalConn, data []byte) {
	var p protocol.Join
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendJSON(c, protocol.NewError(protocol.CodeBadPayload))
		return
	}
	if ctl.limiter != nil && !ctl.limiter.Allow(c.id) {
		log.Warn().Str("module", "signal").Str("conn", string(c.id)).Msg("join rate limited")
		ctl.sendJSON(c, protocol.NewError(protocol.CodeRateLimited))
		return
	}
	token := p.Token
	if token == "" {
		token = c.sessionToken
	}
	// Authentication failures are already reported to this connection by the hub.
	_ = ctl.hub.Join(c.id, token, p.AvatarID, p.Position)
}

func (ctl *SignalWSController) handleMove(c *WsSignalConn, data []byte) {
	var p protocol.Move
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad move payload")
		ctl.sendJSON(c, protocol.NewError(protocol.CodeBadPayload))
		return
	}
	ctl.hub.Move(c.id, p.Position)
}

func (ctl *SignalWSController) handlePing(c *WsSignalConn) {
	ctl.sendJSON(c, protocol.Envelope{Type: protocol.TypePong})
}
