// Package rtc implements mesh links on top of pion PeerConnections.
package rtc

import (
	"github.com/dkeye/gridvoice/internal/app/audio"
	"github.com/dkeye/gridvoice/internal/core"
	"github.com/dkeye/gridvoice/internal/mesh"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

type Factory struct {
	api    *webrtc.API
	cfg    webrtc.Configuration
	fanout *audio.Fanout
}

// NewFactory builds the shared pion API. fanout may be nil for receive-only links.
func NewFactory(iceServers []string, fanout *audio.Fanout) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)
	return &Factory{api: api, cfg: Configuration(iceServers), fanout: fanout}, nil
}

func Configuration(iceServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}

func (f *Factory) NewLink(remote core.ConnID, ev mesh.LinkEvents) (mesh.Link, error) {
	return f.NewPeerLink(remote, ev)
}

func (f *Factory) NewPeerLink(remote core.ConnID, ev mesh.LinkEvents) (*PeerLink, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	return newPeerLink(pc, remote, ev, f.fanout)
}
