package mesh

import (
	"github.com/dkeye/gridvoice/internal/core"
	"github.com/dkeye/gridvoice/internal/protocol"
	"github.com/pion/webrtc/v4"
)

type event interface{ isEvent() }

type selfEvent struct{ id core.ConnID }

type rosterEvent struct{ users []core.RosterEntry }

type signalEvent struct {
	from core.ConnID
	sig  protocol.Signal
}

// retryEvent asks the loop to re-offer to remote after a failed link.
type retryEvent struct{ remote core.ConnID }

type linkEventKind int

const (
	linkCandidate linkEventKind = iota
	linkConnected
	linkMedia
	linkDegraded
	linkTimeout
)

// linkEvent carries the generation of the link that raised it, so events from
// a closed link never touch its successor.
type linkEvent struct {
	remote    core.ConnID
	gen       uint64
	kind      linkEventKind
	candidate webrtc.ICECandidateInit
	reason    string
}

func (selfEvent) isEvent()   {}
func (rosterEvent) isEvent() {}
func (signalEvent) isEvent() {}
func (linkEvent) isEvent()   {}
func (retryEvent) isEvent()  {}
