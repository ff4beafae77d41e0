// Package mesh decides, on every client, which direct voice links should exist
// and drives each one through its handshake. All clients run the same logic;
// the initiator of a pair is whichever side has the smaller connection id.
package mesh

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/gridvoice/internal/core"
	"github.com/dkeye/gridvoice/internal/domain"
	"github.com/dkeye/gridvoice/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int

const (
	Absent State = iota
	Pending
	Active
	Closing
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Closing:
		return "closing"
	}
	return "unknown"
}

// IsInitiator is the tie-break both sides evaluate independently.
func IsInitiator(self, remote core.ConnID) bool { return self < remote }

// InProximity reports whether two positions are within threshold.
func InProximity(a, b domain.Position, threshold int) bool {
	return domain.Manhattan(a, b) <= threshold
}

type Config struct {
	Threshold        int
	HandshakeTimeout time.Duration
	// RetryBackoff is how long the initiator waits before re-offering after a
	// link to an in-range peer fails.
	RetryBackoff time.Duration
	// OnStatus, if set, is called from the controller loop after each change.
	OnStatus func([]PeerStatus)
}

// PeerStatus is presentation-only state for one remote participant.
type PeerStatus struct {
	ID          core.ConnID `json:"id"`
	DisplayName string      `json:"displayName"`
	InProximity bool        `json:"inProximity"`
	State       State       `json:"state"`
	HasMedia    bool        `json:"hasMedia"`
}

type peer struct {
	link      Link
	gen       uint64
	state     State
	initiator bool
	media     bool
	timer     *time.Timer
}

type Controller struct {
	cfg      Config
	factory  LinkFactory
	signaler Signaler
	box      *mailbox
	logger   zerolog.Logger

	// Owned by the Run goroutine.
	self      core.ConnID
	roster    map[core.ConnID]core.RosterEntry
	proximity map[core.ConnID]bool
	peers     map[core.ConnID]*peer
	gen       uint64

	mu     sync.RWMutex
	status []PeerStatus
}

func NewController(cfg Config, factory LinkFactory, signaler Signaler) *Controller {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 20 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Controller{
		cfg:       cfg,
		factory:   factory,
		signaler:  signaler,
		box:       newMailbox(),
		logger:    log.With().Str("module", "mesh").Logger(),
		roster:    make(map[core.ConnID]core.RosterEntry),
		proximity: make(map[core.ConnID]bool),
		peers:     make(map[core.ConnID]*peer),
	}
}

// SetSelf tells the controller its own connection id (from the server welcome).
func (c *Controller) SetSelf(id core.ConnID) { c.box.put(selfEvent{id: id}) }

// OnRoster hands over a roster broadcast. Rosters are applied in arrival order.
func (c *Controller) OnRoster(users []core.RosterEntry) { c.box.put(rosterEvent{users: users}) }

// OnSignal hands over a relayed handshake fragment.
func (c *Controller) OnSignal(from core.ConnID, sig protocol.Signal) {
	c.box.put(signalEvent{from: from, sig: sig})
}

// Status returns the latest presentation snapshot, sorted by id.
func (c *Controller) Status() []PeerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PeerStatus, len(c.status))
	copy(out, c.status)
	return out
}

// Run processes events until ctx is done, then closes every link.
func (c *Controller) Run(ctx context.Context) error {
	defer c.closeAll("controller stopped")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.box.notify:
		}
		batch := c.box.drain()
		for i, ev := range batch {
			// Only the newest of consecutive rosters matters.
			if _, ok := ev.(rosterEvent); ok && i+1 < len(batch) {
				if _, next := batch[i+1].(rosterEvent); next {
					continue
				}
			}
			c.handle(ev)
		}
		c.publish()
	}
}

func (c *Controller) handle(ev event) {
	switch ev := ev.(type) {
	case selfEvent:
		c.self = ev.id
		c.logger = log.With().Str("module", "mesh").Str("self", string(ev.id)).Logger()
		c.reconcile()
	case rosterEvent:
		c.roster = make(map[core.ConnID]core.RosterEntry, len(ev.users))
		for _, u := range ev.users {
			c.roster[u.ConnectionID] = u
		}
		c.reconcile()
	case signalEvent:
		c.handleSignal(ev.from, ev.sig)
	case linkEvent:
		c.handleLinkEvent(ev)
	case retryEvent:
		c.retry(ev.remote)
	}
}

// reconcile recomputes the proximity set from the current roster and applies
// the transition table to every known peer.
func (c *Controller) reconcile() {
	c.proximity = make(map[core.ConnID]bool, len(c.roster))
	me, joined := c.roster[c.self]
	if c.self == "" || !joined {
		c.closeAll("local connection not in roster")
		return
	}
	for id, u := range c.roster {
		if id == c.self {
			continue
		}
		c.proximity[id] = InProximity(me.Position, u.Position, c.cfg.Threshold)
	}

	for id := range c.peers {
		inProx, inRoster := c.proximity[id]
		switch {
		case !inRoster:
			c.closePeer(id, "left roster")
		case !inProx:
			c.closePeer(id, "out of range")
		}
	}

	for id, inProx := range c.proximity {
		if !inProx || !IsInitiator(c.self, id) {
			continue
		}
		if _, exists := c.peers[id]; exists {
			continue
		}
		c.initiate(id)
	}
}

func (c *Controller) newPeer(remote core.ConnID, initiator bool) (*peer, error) {
	c.gen++
	gen := c.gen
	link, err := c.factory.NewLink(remote, c.linkEvents(remote, gen))
	if err != nil {
		return nil, err
	}
	p := &peer{link: link, gen: gen, state: Pending, initiator: initiator}
	p.timer = time.AfterFunc(c.cfg.HandshakeTimeout, func() {
		c.box.put(linkEvent{remote: remote, gen: gen, kind: linkTimeout})
	})
	c.peers[remote] = p
	c.logger.Info().Str("remote", string(remote)).Bool("initiator", initiator).Msg("absent -> pending")
	return p, nil
}

func (c *Controller) initiate(remote core.ConnID) {
	p, err := c.newPeer(remote, true)
	if err != nil {
		c.logger.Error().Err(err).Str("remote", string(remote)).Msg("create link")
		return
	}
	offer, err := p.link.CreateOffer()
	if err != nil {
		c.logger.Warn().Err(err).Str("remote", string(remote)).Msg("create offer")
		c.failPeer(remote, "handshake failure")
		return
	}
	c.send(remote, protocol.Signal{SDP: &offer})
}

func (c *Controller) handleSignal(from core.ConnID, sig protocol.Signal) {
	switch {
	case sig.SDP != nil && sig.SDP.Type == webrtc.SDPTypeOffer:
		c.handleOffer(from, *sig.SDP)
	case sig.SDP != nil && sig.SDP.Type == webrtc.SDPTypeAnswer:
		c.handleAnswer(from, *sig.SDP)
	case sig.Candidate != nil:
		p, ok := c.peers[from]
		if !ok {
			c.logger.Debug().Str("remote", string(from)).Msg("candidate for absent link dropped")
			return
		}
		if err := p.link.AddRemoteCandidate(*sig.Candidate); err != nil {
			c.logger.Warn().Err(err).Str("remote", string(from)).Msg("add remote candidate")
		}
	default:
		c.logger.Warn().Str("remote", string(from)).Msg("empty or unsupported signal")
	}
}

func (c *Controller) handleOffer(from core.ConnID, offer webrtc.SessionDescription) {
	if !c.proximity[from] {
		c.logger.Debug().Str("remote", string(from)).Msg("offer from peer out of range ignored")
		return
	}
	if IsInitiator(c.self, from) {
		c.logger.Warn().Str("remote", string(from)).Msg("offer from peer that should answer ignored")
		return
	}
	if _, exists := c.peers[from]; exists {
		// The initiator only re-offers after dropping its side of the old link.
		c.closePeer(from, "superseded by new offer")
	}
	p, err := c.newPeer(from, false)
	if err != nil {
		c.logger.Error().Err(err).Str("remote", string(from)).Msg("create link")
		return
	}
	answer, err := p.link.AcceptOffer(offer)
	if err != nil {
		c.logger.Warn().Err(err).Str("remote", string(from)).Msg("accept offer")
		c.failPeer(from, "handshake failure")
		return
	}
	c.send(from, protocol.Signal{SDP: &answer})
}

func (c *Controller) handleAnswer(from core.ConnID, answer webrtc.SessionDescription) {
	p, ok := c.peers[from]
	if !ok || !p.initiator || p.state != Pending {
		c.logger.Debug().Str("remote", string(from)).Msg("unexpected answer dropped")
		return
	}
	if err := p.link.AcceptAnswer(answer); err != nil {
		c.logger.Warn().Err(err).Str("remote", string(from)).Msg("accept answer")
		c.failPeer(from, "handshake failure")
	}
}

func (c *Controller) handleLinkEvent(ev linkEvent) {
	p, ok := c.peers[ev.remote]
	if !ok || p.gen != ev.gen {
		// Event from a link that has already been closed.
		return
	}
	switch ev.kind {
	case linkCandidate:
		c.send(ev.remote, protocol.Signal{Candidate: &ev.candidate})
	case linkConnected:
		if p.state == Pending {
			p.state = Active
			p.timer.Stop()
			c.logger.Info().Str("remote", string(ev.remote)).Msg("pending -> active")
		}
	case linkMedia:
		p.media = true
	case linkDegraded:
		c.failPeer(ev.remote, ev.reason)
	case linkTimeout:
		if p.state == Pending {
			c.failPeer(ev.remote, "handshake timeout")
		}
	}
}

// closePeer runs closing -> absent for one remote.
func (c *Controller) closePeer(remote core.ConnID, reason string) {
	p, ok := c.peers[remote]
	if !ok {
		return
	}
	from := p.state
	p.state = Closing
	p.timer.Stop()
	p.link.Close()
	delete(c.peers, remote)
	c.logger.Info().Str("remote", string(remote)).Str("from", from.String()).Str("reason", reason).Msg("closing -> absent")
}

// failPeer closes a link that broke while its peer may still be in range and,
// on the initiating side, schedules a re-offer. The remote may have dropped the
// link on a roster this side never saw.
func (c *Controller) failPeer(remote core.ConnID, reason string) {
	if _, ok := c.peers[remote]; !ok {
		return
	}
	c.closePeer(remote, reason)
	if !IsInitiator(c.self, remote) {
		return
	}
	time.AfterFunc(c.cfg.RetryBackoff, func() {
		c.box.put(retryEvent{remote: remote})
	})
}

// retry re-offers if remote is still in range and nothing replaced the link.
func (c *Controller) retry(remote core.ConnID) {
	if _, exists := c.peers[remote]; exists || !c.proximity[remote] {
		return
	}
	c.logger.Info().Str("remote", string(remote)).Msg("retrying link")
	c.initiate(remote)
}

func (c *Controller) closeAll(reason string) {
	for id := range c.peers {
		c.closePeer(id, reason)
	}
}

func (c *Controller) send(to core.ConnID, sig protocol.Signal) {
	if err := c.signaler.SendSignal(to, sig); err != nil {
		c.logger.Warn().Err(err).Str("remote", string(to)).Msg("send signal")
		c.failPeer(to, "signaling failure")
	}
}

func (c *Controller) linkEvents(remote core.ConnID, gen uint64) LinkEvents {
	return LinkEvents{
		OnCandidate: func(ci webrtc.ICECandidateInit) {
			c.box.put(linkEvent{remote: remote, gen: gen, kind: linkCandidate, candidate: ci})
		},
		OnConnected: func() {
			c.box.put(linkEvent{remote: remote, gen: gen, kind: linkConnected})
		},
		OnMedia: func() {
			c.box.put(linkEvent{remote: remote, gen: gen, kind: linkMedia})
		},
		OnDegraded: func(reason string) {
			c.box.put(linkEvent{remote: remote, gen: gen, kind: linkDegraded, reason: reason})
		},
	}
}

func (c *Controller) publish() {
	out := make([]PeerStatus, 0, len(c.roster))
	for id, u := range c.roster {
		if id == c.self {
			continue
		}
		st := PeerStatus{ID: id, DisplayName: u.DisplayName, InProximity: c.proximity[id]}
		if p, ok := c.peers[id]; ok {
			st.State = p.state
			st.HasMedia = p.media
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	c.mu.Lock()
	c.status = out
	c.mu.Unlock()
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(out)
	}
}
