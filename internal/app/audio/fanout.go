// Package audio fans one local capture out to a track per peer link.
package audio

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/gridvoice/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Source yields encoded Opus RTP packets. ReadRTP blocks until one is ready.
type Source interface {
	ReadRTP() (*rtp.Packet, error)
}

var OpusCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: 48000,
	Channels:  2,
}

const (
	trackLive int32 = iota
	trackMuted
	trackGone
)

// peerTrack is the local audio track sent on one link. Once gone it stays gone.
type peerTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func (t *peerTrack) setMuted(muted bool) {
	if muted {
		t.state.CompareAndSwap(trackLive, trackMuted)
	} else {
		t.state.CompareAndSwap(trackMuted, trackLive)
	}
}

func (t *peerTrack) drop()      { t.state.Store(trackGone) }
func (t *peerTrack) gone() bool { return t.state.Load() == trackGone }

type Fanout struct {
	streamID string
	muted    atomic.Bool

	mu     sync.RWMutex
	tracks map[core.ConnID]*peerTrack
}

func NewFanout(streamID string) *Fanout {
	return &Fanout{
		streamID: streamID,
		tracks:   make(map[core.ConnID]*peerTrack),
	}
}

// Attach creates the local track for a new link to remote. An older track for
// the same remote is marked for deletion.
func (f *Fanout) Attach(remote core.ConnID) (*webrtc.TrackLocalStaticRTP, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(OpusCapability, "audio", f.streamID)
	if err != nil {
		return nil, err
	}
	pt := &peerTrack{track: track}

	f.mu.Lock()
	if old, ok := f.tracks[remote]; ok {
		old.drop()
	}
	f.tracks[remote] = pt
	f.mu.Unlock()

	log.Debug().Str("module", "audio").Str("remote", string(remote)).Msg("track attached")
	return track, nil
}

// Detach stops feeding the track of remote; it is dropped on the next packet.
func (f *Fanout) Detach(remote core.ConnID) {
	if pt := f.track(remote); pt != nil {
		pt.drop()
		log.Debug().Str("module", "audio").Str("remote", string(remote)).Msg("track detached")
	}
}

func (f *Fanout) track(remote core.ConnID) *peerTrack {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.tracks[remote]
}

// MutePeer stops (or resumes) sending to a single remote. It reports false
// when remote has no live track yet.
func (f *Fanout) MutePeer(remote core.ConnID, muted bool) bool {
	pt := f.track(remote)
	if pt == nil || pt.gone() {
		return false
	}
	pt.setMuted(muted)
	return true
}

func (f *Fanout) SetMuted(muted bool) { f.muted.Store(muted) }

// Attached returns the number of live tracks.
func (f *Fanout) Attached() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, pt := range f.tracks {
		if !pt.gone() {
			n++
		}
	}
	return n
}

// Run pumps src into every attached track until ctx is done or src fails.
func (f *Fanout) Run(ctx context.Context, src Source) error {
	logger := log.With().Str("module", "audio").Str("stream", f.streamID).Logger()
	return f.loop(ctx, src, &logger)
}
