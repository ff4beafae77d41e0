package mesh

import (
	"github.com/dkeye/gridvoice/internal/core"
	"github.com/dkeye/gridvoice/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// Link is one handshake and the media channel it produces.
type Link interface {
	// CreateOffer starts the handshake on the initiating side.
	CreateOffer() (webrtc.SessionDescription, error)
	// AcceptOffer consumes a remote offer and returns the answer to relay back.
	AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// AcceptAnswer completes the initiating side.
	AcceptAnswer(answer webrtc.SessionDescription) error
	// AddRemoteCandidate may be called before the remote description is set;
	// such candidates are buffered and applied once it is.
	AddRemoteCandidate(c webrtc.ICECandidateInit) error
	// Close releases everything. Safe to call more than once.
	Close()
}

// LinkEvents are invoked by a Link from arbitrary goroutines.
type LinkEvents struct {
	OnCandidate func(webrtc.ICECandidateInit)
	OnConnected func()
	OnMedia     func()
	OnDegraded  func(reason string)
}

type LinkFactory interface {
	NewLink(remote core.ConnID, ev LinkEvents) (Link, error)
}

type LinkFactoryFunc func(remote core.ConnID, ev LinkEvents) (Link, error)

func (f LinkFactoryFunc) NewLink(remote core.ConnID, ev LinkEvents) (Link, error) {
	return f(remote, ev)
}

// Signaler delivers a handshake fragment to another controller through the relay.
type Signaler interface {
	SendSignal(to core.ConnID, sig protocol.Signal) error
}

type SignalerFunc func(to core.ConnID, sig protocol.Signal) error

func (f SignalerFunc) SendSignal(to core.ConnID, sig protocol.Signal) error { return f(to, sig) }
