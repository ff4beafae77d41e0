package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/gridvoice/internal/app/audio"
	"github.com/dkeye/gridvoice/internal/core"
	"github.com/dkeye/gridvoice/internal/mesh"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrLinkClosed = errors.New("peer link closed")

// PeerLink is one PeerConnection to a remote participant with trickle ICE.
type PeerLink struct {
	pc     *webrtc.PeerConnection
	remote core.ConnID
	ev     mesh.LinkEvents
	fanout *audio.Fanout
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	closed        atomic.Bool
	closeOnce     sync.Once
	connectedOnce sync.Once
	mediaOnce     sync.Once
}

func newPeerLink(pc *webrtc.PeerConnection, remote core.ConnID, ev mesh.LinkEvents, fanout *audio.Fanout) (*PeerLink, error) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &PeerLink{
		pc:     pc,
		remote: remote,
		ev:     ev,
		fanout: fanout,
		logger: log.With().Str("module", "webrtc").Str("remote", string(remote)).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := l.attachAudio(); err != nil {
		l.Close()
		return nil, err
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || l.closed.Load() || l.ev.OnCandidate == nil {
			return
		}
		l.ev.OnCandidate(cand.ToJSON())
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		l.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if l.closed.Load() {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			l.connectedOnce.Do(func() {
				if l.ev.OnConnected != nil {
					l.ev.OnConnected()
				}
			})
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			if l.ev.OnDegraded != nil {
				l.ev.OnDegraded(s.String())
			}
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		l.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		l.mediaOnce.Do(func() {
			if l.ev.OnMedia != nil {
				l.ev.OnMedia()
			}
		})
		go l.drain(track)
	})

	return l, nil
}

// attachAudio sends the local fan-out track, or only receives when there is none.
func (l *PeerLink) attachAudio() error {
	if l.fanout == nil {
		_, err := l.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
		return err
	}
	track, err := l.fanout.Attach(l.remote)
	if err != nil {
		return err
	}
	sender, err := l.pc.AddTrack(track)
	if err != nil {
		return err
	}
	// RTCP must be read for interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// drain consumes remote RTP. Headless participants have no playback device.
func (l *PeerLink) drain(track *webrtc.TrackRemote) {
	var packets int
	defer func() {
		l.logger.Debug().Int("packets", packets).Msg("remote track ended")
	}()
	for {
		if l.ctx.Err() != nil {
			return
		}
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
		packets++
	}
}

func (l *PeerLink) CreateOffer() (webrtc.SessionDescription, error) {
	if l.closed.Load() {
		return webrtc.SessionDescription{}, ErrLinkClosed
	}
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (l *PeerLink) AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if l.closed.Load() {
		return webrtc.SessionDescription{}, ErrLinkClosed
	}
	if err := l.setRemote(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (l *PeerLink) AcceptAnswer(answer webrtc.SessionDescription) error {
	if l.closed.Load() {
		return ErrLinkClosed
	}
	return l.setRemote(answer)
}

// setRemote applies the remote description and then every buffered candidate
// in arrival order.
func (l *PeerLink) setRemote(desc webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			l.logger.Warn().Err(err).Str("candidate", c.Candidate).Msg("buffered candidate rejected")
		}
	}
	return nil
}

func (l *PeerLink) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	if l.closed.Load() {
		return ErrLinkClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return nil
	}
	return l.pc.AddICECandidate(c)
}

// Buffered returns the number of candidates waiting for a remote description.
func (l *PeerLink) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *PeerLink) Close() {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.cancel()
		if l.fanout != nil {
			l.fanout.Detach(l.remote)
		}
		if err := l.pc.Close(); err != nil {
			l.logger.Error().Err(err).Msg("close error")
		} else {
			l.logger.Info().Msg("closed")
		}
	})
}
