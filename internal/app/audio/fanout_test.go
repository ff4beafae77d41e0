package audio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pion/rtp"
)

// chanSource replays packets pushed into ch; a closed channel ends the stream.
type chanSource struct {
	ch chan *rtp.Packet
}

func (s *chanSource) ReadRTP() (*rtp.Packet, error) {
	p, ok := <-s.ch
	if !ok {
		return nil, io.EOF
	}
	return p, nil
}

func packet(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: seq}, Payload: opusSilence}
}

func TestAttachDetach(t *testing.T) {
	f := NewFanout("me")
	tr, err := f.Attach("b")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if tr.Kind().String() != "audio" || tr.StreamID() != "me" {
		t.Fatalf("unexpected track kind=%s stream=%s", tr.Kind(), tr.StreamID())
	}
	if _, err := f.Attach("c"); err != nil {
		t.Fatal(err)
	}
	if f.Attached() != 2 {
		t.Fatalf("attached = %d", f.Attached())
	}
	f.Detach("b")
	f.Detach("unknown")
	if f.Attached() != 1 {
		t.Fatalf("attached after detach = %d", f.Attached())
	}
}

func TestReattachReplacesTrack(t *testing.T) {
	f := NewFanout("me")
	first, _ := f.Attach("b")
	second, _ := f.Attach("b")
	if first == second {
		t.Fatal("reattach returned the same track")
	}
	if f.Attached() != 1 {
		t.Fatalf("attached = %d, want 1", f.Attached())
	}
}

func TestRunForwardsAndCleansUp(t *testing.T) {
	f := NewFanout("me")
	_, _ = f.Attach("b")
	_, _ = f.Attach("c")
	f.Detach("c")

	src := &chanSource{ch: make(chan *rtp.Packet, 4)}
	src.ch <- packet(1)
	src.ch <- packet(2)
	close(src.ch)

	err := f.Run(context.Background(), src)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("run err = %v", err)
	}
	f.mu.RLock()
	_, stillC := f.tracks["c"]
	f.mu.RUnlock()
	if stillC {
		t.Fatal("deleted track was not cleaned up")
	}
	if f.Attached() != 0 {
		t.Fatal("tracks must be marked deleted once the source ends")
	}
}

func TestMutePeer(t *testing.T) {
	f := NewFanout("me")
	if f.MutePeer("b", true) {
		t.Fatal("muting a remote with no track must report false")
	}
	_, _ = f.Attach("b")
	if !f.MutePeer("b", true) {
		t.Fatal("mute b")
	}
	if got := f.track("b").state.Load(); got != trackMuted {
		t.Fatalf("state = %d, want muted", got)
	}
	if f.Attached() != 1 {
		t.Fatal("a muted track still counts as attached")
	}
	f.MutePeer("b", false)
	if got := f.track("b").state.Load(); got != trackLive {
		t.Fatalf("state = %d, want live", got)
	}
	f.Detach("b")
	if f.MutePeer("b", false) {
		t.Fatal("a detached track must not come back")
	}
	if !f.track("b").gone() {
		t.Fatal("unmute revived a detached track")
	}
}

func TestRunStopsOnContext(t *testing.T) {
	f := NewFanout("me")
	ctx, cancel := context.WithCancel(context.Background())
	src := NewSilenceSource(ctx)

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, src) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fanout did not stop")
	}
}

func TestSilenceSourceSequence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewSilenceSource(ctx)
	a, err := s.ReadRTP()
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.ReadRTP()
	if err != nil {
		t.Fatal(err)
	}
	if b.SequenceNumber != a.SequenceNumber+1 || b.Timestamp-a.Timestamp != opusFrameTicks || a.SSRC != b.SSRC {
		t.Fatalf("bad sequencing: %+v then %+v", a.Header, b.Header)
	}
	cancel()
	if _, err := s.ReadRTP(); !errors.Is(err, io.EOF) {
		t.Fatalf("after cancel err = %v", err)
	}
}
