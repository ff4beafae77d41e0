// Package presence holds the authoritative roster of joined connections and
// relays opaque signaling payloads between them.
package presence

import (
	"errors"
	"sync"

	"github.com/dkeye/gridvoice/internal/app/identity"
	"github.com/dkeye/gridvoice/internal/core"
	"github.com/dkeye/gridvoice/internal/domain"
	"github.com/dkeye/gridvoice/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrAuthentication = errors.New("authentication failed")

// AvatarCatalog reports whether an avatar id may be selected.
type AvatarCatalog interface {
	Known(id domain.AvatarID) bool
}

type entry struct {
	participant domain.Participant
	avatar      domain.AvatarID
	position    domain.Position
}

// Hub serializes every roster mutation together with its broadcast under mu,
// so all connections observe the same sequence of snapshots.
type Hub struct {
	validator core.SessionValidator
	policy    Policy
	avatars   AvatarCatalog

	mu     sync.Mutex
	conns  map[core.ConnID]core.SignalConnection
	roster map[core.ConnID]*entry
	owner  map[domain.ParticipantID]core.ConnID
}

func NewHub(validator core.SessionValidator, policy Policy) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{
		validator: validator,
		policy:    policy,
		conns:     make(map[core.ConnID]core.SignalConnection),
		roster:    make(map[core.ConnID]*entry),
		owner:     make(map[domain.ParticipantID]core.ConnID),
	}
}

// UseCatalog makes Join ignore avatar ids the catalog does not know; the
// participant keeps the avatar it already has. Call before serving.
func (h *Hub) UseCatalog(c AvatarCatalog) {
	h.avatars = c
}

// Attach registers a live connection as a broadcast target. It is not in the
// roster until it joins.
func (h *Hub) Attach(id core.ConnID, conn core.SignalConnection) {
	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()
	log.Info().Str("module", "app.presence").Str("conn", string(id)).Msg("connection attached")
}

// Join validates token and puts the connection into the roster. A participant
// already present under another connection is evicted first (last join wins).
func (h *Hub) Join(id core.ConnID, token string, avatar domain.AvatarID, pos domain.Position) error {
	p, err := h.validator.Validate(token)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("conn", string(id)).Msg("join rejected")
		h.sendTo(id, protocol.NewError(authCode(err)))
		return errors.Join(ErrAuthentication, err)
	}
	if h.avatars != nil && !h.avatars.Known(avatar) {
		log.Warn().Str("module", "app.presence").Str("participant", string(p.ID)).Int("avatar", int(avatar)).Msg("unknown avatar ignored")
		avatar = p.AvatarID
	} else if err := h.validator.SetAvatar(p.ID, avatar); err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("participant", string(p.ID)).Msg("avatar not recorded")
	}

	h.mu.Lock()
	var evicted core.SignalConnection
	if prev, ok := h.owner[p.ID]; ok && prev != id {
		delete(h.roster, prev)
		if c, ok := h.conns[prev]; ok {
			delete(h.conns, prev)
			evicted = c
			h.send(c, protocol.Envelope{Type: protocol.TypeEvicted})
		}
		log.Info().Str("module", "app.presence").Str("conn", string(prev)).Str("participant", string(p.ID)).Msg("evicted by newer join")
	}
	if old, ok := h.roster[id]; ok && old.participant.ID != p.ID {
		delete(h.owner, old.participant.ID)
	}
	h.roster[id] = &entry{participant: p, avatar: avatar, position: pos}
	h.owner[p.ID] = id
	dropped := h.broadcastLocked()
	h.mu.Unlock()

	if evicted != nil {
		evicted.Close()
	}
	h.applyPolicy(dropped)
	log.Info().Str("module", "app.presence").Str("conn", string(id)).Str("participant", string(p.ID)).Int("x", pos.X).Int("y", pos.Y).Msg("joined")
	return nil
}

// Move updates the position of a joined connection. Unknown connections are a
// silent no-op without broadcast.
func (h *Hub) Move(id core.ConnID, pos domain.Position) bool {
	h.mu.Lock()
	e, ok := h.roster[id]
	if !ok {
		h.mu.Unlock()
		return false
	}
	e.position = pos
	dropped := h.broadcastLocked()
	h.mu.Unlock()

	h.applyPolicy(dropped)
	log.Debug().Str("module", "app.presence").Str("conn", string(id)).Int("x", pos.X).Int("y", pos.Y).Msg("moved")
	return true
}

// Leave detaches the connection and removes its roster entry. A broadcast
// happens only if an entry was actually removed.
func (h *Hub) Leave(id core.ConnID) {
	h.mu.Lock()
	delete(h.conns, id)
	e, ok := h.roster[id]
	if !ok {
		h.mu.Unlock()
		log.Info().Str("module", "app.presence").Str("conn", string(id)).Msg("connection detached")
		return
	}
	delete(h.roster, id)
	if h.owner[e.participant.ID] == id {
		delete(h.owner, e.participant.ID)
	}
	dropped := h.broadcastLocked()
	h.mu.Unlock()

	h.applyPolicy(dropped)
	log.Info().Str("module", "app.presence").Str("conn", string(id)).Str("participant", string(e.participant.ID)).Msg("left")
}

// Snapshot returns the current roster. Order is unspecified.
func (h *Hub) Snapshot() []core.RosterEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Hub) snapshotLocked() []core.RosterEntry {
	out := make([]core.RosterEntry, 0, len(h.roster))
	for id, e := range h.roster {
		out = append(out, core.RosterEntry{
			ConnectionID: id,
			Identifier:   e.participant.ID,
			DisplayName:  e.participant.DisplayName,
			AvatarID:     e.avatar,
			Position:     e.position,
		})
	}
	return out
}

// broadcastLocked sends the full roster to every attached connection.
// Callers hold mu.
func (h *Hub) broadcastLocked() core.PublishResult {
	frame, err := protocol.Marshal(protocol.Roster{Type: protocol.TypeRoster, Users: h.snapshotLocked()})
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("roster marshal")
		return core.PublishResult{}
	}
	res := core.PublishResult{}
	for id, c := range h.conns {
		if err := c.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "app.presence").Int("entries", len(h.roster)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast roster")
	return res
}

// applyPolicy runs outside mu: closing a connection ends its read loop,
// which calls Leave and takes mu again.
func (h *Hub) applyPolicy(res core.PublishResult) {
	for _, id := range res.Dropped {
		if h.policy.OnBackPressure(id) != KickMember {
			continue
		}
		h.mu.Lock()
		c, ok := h.conns[id]
		h.mu.Unlock()
		if !ok {
			continue
		}
		log.Warn().Str("module", "app.presence").Str("conn", string(id)).Msg("kicking slow connection")
		c.Close()
	}
}

func (h *Hub) sendTo(id core.ConnID, v any) {
	h.mu.Lock()
	c, ok := h.conns[id]
	h.mu.Unlock()
	if ok {
		h.send(c, v)
	}
}

func (h *Hub) send(c core.SignalConnection, v any) {
	frame, err := protocol.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("marshal")
		return
	}
	_ = c.TrySend(frame)
}

func authCode(err error) string {
	switch {
	case errors.Is(err, identity.ErrTokenExpired):
		return protocol.CodeTokenExpired
	case errors.Is(err, identity.ErrUnknownParticipant):
		return protocol.CodeUnknownParticipant
	default:
		return protocol.CodeInvalidToken
	}
}
