package audio

import (
	"context"
	"io"
	"math/rand/v2"
	"time"

	"github.com/pion/rtp"
)

const (
	opusPayloadType = 111
	opusFrame       = 20 * time.Millisecond
	opusFrameTicks  = 960 // 20ms at 48kHz
)

// opusSilence is a single Opus TOC+payload encoding 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceSource emits an Opus silence frame every 20ms. Headless participants
// use it so links carry a real, if quiet, media stream.
type SilenceSource struct {
	ctx    context.Context
	ticker *time.Ticker
	seq    uint16
	ts     uint32
	ssrc   uint32
}

func NewSilenceSource(ctx context.Context) *SilenceSource {
	return &SilenceSource{
		ctx:    ctx,
		ticker: time.NewTicker(opusFrame),
		seq:    uint16(rand.Uint32()),
		ts:     rand.Uint32(),
		ssrc:   rand.Uint32(),
	}
}

func (s *SilenceSource) ReadRTP() (*rtp.Packet, error) {
	if s.ctx.Err() != nil {
		s.ticker.Stop()
		return nil, io.EOF
	}
	select {
	case <-s.ctx.Done():
		s.ticker.Stop()
		return nil, io.EOF
	case <-s.ticker.C:
	}
	s.seq++
	s.ts += opusFrameTicks
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           s.ssrc,
		},
		Payload: opusSilence,
	}, nil
}
