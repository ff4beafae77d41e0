package presence

import "github.com/dkeye/gridvoice/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a connection whose send queue overflowed.
// A dropped roster broadcast leaves that client on a stale snapshot, so the
// default is to kick it and let the client reconnect.
type Policy interface {
	OnBackPressure(id core.ConnID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.ConnID) BackpressureAction {
	return KickMember
}
