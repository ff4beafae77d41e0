package audio

import (
	"context"
	"maps"

	"github.com/dkeye/gridvoice/internal/core"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// loop reads packets from src and forwards each to every live track.
func (f *Fanout) loop(ctx context.Context, src Source, logger *zerolog.Logger) error {
	defer f.markAllDelete()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("fanout stopped, dropping all tracks")
			return ctx.Err()
		default:
		}
		pkt, err := src.ReadRTP()
		if err != nil {
			logger.Error().Err(err).Msg("fanout read RTP error, stopping")
			return err
		}
		if f.muted.Load() {
			continue
		}
		f.forward(pkt, logger)
	}
}

func (f *Fanout) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	f.mu.RLock()
	snapshot := make(map[core.ConnID]*peerTrack, len(f.tracks))
	maps.Copy(snapshot, f.tracks)
	f.mu.RUnlock()

	var dirty []core.ConnID
	for dst, pt := range snapshot {
		switch pt.state.Load() {
		case trackGone:
			dirty = append(dirty, dst)
		case trackLive:
			if err := pt.track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("remote", string(dst)).
					Msg("fanout write RTP error, dropping track")
				pt.drop()
				dirty = append(dirty, dst)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		f.cleanupDeleted(dirty)
	}
}

func (f *Fanout) cleanupDeleted(dirty []core.ConnID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range dirty {
		// Attach may have replaced the entry since the snapshot.
		if pt, ok := f.tracks[id]; ok && pt.gone() {
			delete(f.tracks, id)
		}
	}
}

func (f *Fanout) markAllDelete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pt := range f.tracks {
		pt.drop()
	}
}
