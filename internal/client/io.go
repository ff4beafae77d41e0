package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/gridvoice/internal/core"
	"github.com/dkeye/gridvoice/internal/domain"
	"github.com/dkeye/gridvoice/internal/protocol"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// maxReauth bounds re-login attempts after the server rejects a join.
const maxReauth = 1

func (c *Client) writePump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return ctx.Err()
		case b, ok := <-c.send:
			if !ok {
				return nil
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context) error {
	reauth := 0
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log().Warn().Err(err).Msg("bad frame from server")
			continue
		}

		switch env.Type {
		case protocol.TypeWelcome:
			var w protocol.Welcome
			if err := json.Unmarshal(data, &w); err != nil {
				return fmt.Errorf("welcome: %w", err)
			}
			c.onWelcome(w)
			if err := c.join(); err != nil {
				return err
			}
		case protocol.TypeRoster:
			var r protocol.Roster
			if err := json.Unmarshal(data, &r); err != nil {
				c.log().Warn().Err(err).Msg("bad roster")
				continue
			}
			if c.inRoster(r.Users) {
				reauth = 0
			}
			if m := c.meshOf(); m != nil {
				m.OnRoster(r.Users)
			}
		case protocol.TypeSignal:
			var s protocol.SignalFrom
			if err := json.Unmarshal(data, &s); err != nil {
				c.log().Warn().Err(err).Msg("bad signal envelope")
				continue
			}
			var sig protocol.Signal
			if err := json.Unmarshal(s.Signal, &sig); err != nil {
				c.log().Warn().Err(err).Str("from", string(s.From)).Msg("bad signal payload")
				continue
			}
			if m := c.meshOf(); m != nil {
				m.OnSignal(s.From, sig)
			}
		case protocol.TypeError:
			var e protocol.Error
			_ = json.Unmarshal(data, &e)
			c.log().Warn().Str("code", e.Error).Msg("server error")
			if !isAuthCode(e.Error) {
				continue
			}
			if reauth >= maxReauth {
				return fmt.Errorf("%w: %s", ErrRejected, e.Error)
			}
			reauth++
			if _, err := c.Login(ctx); err != nil {
				return err
			}
			if err := c.join(); err != nil {
				return err
			}
		case protocol.TypeEvicted:
			c.log().Warn().Msg("evicted")
			return ErrEvicted
		case protocol.TypePong:
			c.log().Debug().Msg("pong")
		default:
			c.log().Debug().Str("type", string(env.Type)).Msg("ignored message")
		}
	}
}

func (c *Client) onWelcome(w protocol.Welcome) {
	c.mu.Lock()
	c.self = w.ConnectionID
	if w.GridSize > 0 {
		c.grid = domain.NewGrid(w.GridSize)
		c.pos = c.grid.Clamp(c.pos)
	}
	c.logger = c.logger.With().Str("conn", string(w.ConnectionID)).Logger()
	m := c.mesh
	c.mu.Unlock()
	c.log().Info().Int("grid", w.GridSize).Int("threshold", w.Threshold).Msg("welcome")
	if m != nil {
		m.SetSelf(w.ConnectionID)
	}
}

func (c *Client) inRoster(users []core.RosterEntry) bool {
	self := c.Self()
	for _, u := range users {
		if u.ConnectionID == self {
			return true
		}
	}
	return false
}

func (c *Client) meshOf() Mesh {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mesh
}

func isAuthCode(code string) bool {
	switch code {
	case protocol.CodeInvalidToken, protocol.CodeTokenExpired, protocol.CodeUnknownParticipant:
		return true
	}
	return false
}
