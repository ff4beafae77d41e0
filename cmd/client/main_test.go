package main

import (
	"testing"

	"github.com/dkeye/gridvoice/internal/core"
	"github.com/dkeye/gridvoice/internal/mesh"
)

type recordingMuter struct {
	calls []core.ConnID
}

func (m *recordingMuter) MutePeer(remote core.ConnID, muted bool) bool {
	if muted {
		m.calls = append(m.calls, remote)
	}
	return true
}

func TestStatusWatcherMutesNamedPeers(t *testing.T) {
	m := &recordingMuter{}
	w := newStatusWatcher(m, []string{" Bob ", ""})

	w.handle([]mesh.PeerStatus{
		{ID: "b", DisplayName: "Bob", State: mesh.Absent},
		{ID: "c", DisplayName: "Carol", State: mesh.Pending},
	})
	if len(m.calls) != 0 {
		t.Fatalf("muted %v before Bob had a link", m.calls)
	}

	w.handle([]mesh.PeerStatus{
		{ID: "b", DisplayName: "Bob", InProximity: true, State: mesh.Pending},
		{ID: "c", DisplayName: "Carol", InProximity: true, State: mesh.Active},
	})
	// Unchanged status still reapplies the mute.
	w.handle([]mesh.PeerStatus{
		{ID: "b", DisplayName: "Bob", InProximity: true, State: mesh.Pending},
	})
	if len(m.calls) != 2 || m.calls[0] != "b" || m.calls[1] != "b" {
		t.Fatalf("mute calls = %v, want [b b]", m.calls)
	}
	if _, ok := w.last["c"]; ok {
		t.Fatal("departed peer kept in last status")
	}
}
