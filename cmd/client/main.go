package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"

	"github.com/dkeye/gridvoice/internal/adapters/rtc"
	"github.com/dkeye/gridvoice/internal/app/audio"
	"github.com/dkeye/gridvoice/internal/client"
	"github.com/dkeye/gridvoice/internal/config"
	"github.com/dkeye/gridvoice/internal/core"
	"github.com/dkeye/gridvoice/internal/domain"
	"github.com/dkeye/gridvoice/internal/mesh"
)

const defaultStep = time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := pflag.NewFlagSet("gridvoice-client", pflag.ExitOnError)
	fs.String("server", "http://localhost:8080", "server base URL")
	fs.String("email", "", "participant email")
	fs.String("name", "", "display name")
	fs.Int("avatar", 0, "avatar id")
	fs.Int("x", 0, "start column")
	fs.Int("y", 0, "start row")
	fs.String("path", "", "moves to make after joining, e.g. r,r,down")
	fs.Duration("step", defaultStep, "delay between moves")
	fs.Bool("mute", false, "join muted")
	fs.StringSlice("mute-peer", nil, "display names not to send audio to")
	fs.Bool("debug", false, "debug logging")
	_ = fs.Parse(os.Args[1:])

	v := config.New()
	if err := v.BindPFlags(fs); err != nil {
		log.Fatal().Err(err).Msg("bind flags")
	}
	cfg, err := config.Decode(v)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if v.GetBool("debug") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	email, name := v.GetString("email"), v.GetString("name")
	if email == "" {
		log.Fatal().Msg("--email is required")
	}
	if name == "" {
		name = email
	}
	steps, err := client.ParsePath(v.GetString("path"))
	if err != nil {
		log.Fatal().Err(err).Msg("bad --path")
	}
	stepEvery := v.GetDuration("step")
	if stepEvery <= 0 {
		stepEvery = defaultStep
	}

	fanout := audio.NewFanout(email)
	fanout.SetMuted(v.GetBool("mute"))
	factory, err := rtc.NewFactory(cfg.ICEServers, fanout)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc setup")
	}

	c, err := client.New(client.Options{
		Server:   v.GetString("server"),
		Email:    email,
		Name:     name,
		AvatarID: domain.AvatarID(v.GetInt("avatar")),
		Start:    domain.Position{X: v.GetInt("x"), Y: v.GetInt("y")},
		GridSize: cfg.GridSize,
		Queue:    cfg.SendQueue,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("client setup")
	}
	ctrl := mesh.NewController(mesh.Config{
		Threshold:        cfg.ProximityThreshold,
		HandshakeTimeout: cfg.HandshakeTimeout,
		OnStatus:         newStatusWatcher(fanout, v.GetStringSlice("mute-peer")).handle,
	}, factory, c)
	c.SetMesh(ctrl)

	if _, err := c.Login(ctx); err != nil {
		log.Fatal().Err(err).Msg("login")
	}
	if err := c.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect")
	}

	runCtx, stop := context.WithCancel(ctx)
	var wg conc.WaitGroup
	wg.Go(func() {
		if err := fanout.Run(runCtx, audio.NewSilenceSource(runCtx)); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("module", "audio").Msg("fan-out stopped")
		}
	})
	wg.Go(func() { _ = ctrl.Run(runCtx) })
	wg.Go(func() {
		if err := c.Walk(runCtx, steps, stepEvery); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("module", "client").Msg("walk stopped")
		}
	})

	err = c.Run(runCtx)
	stop()
	wg.Wait()
	if err != nil {
		log.Error().Err(err).Msg("client stopped")
		os.Exit(1)
	}
	log.Info().Msg("client exited")
}

type peerMuter interface {
	MutePeer(remote core.ConnID, muted bool) bool
}

// statusWatcher logs peers whose status changed and keeps outgoing audio muted
// for the named peers. Called from the controller loop only.
type statusWatcher struct {
	muter peerMuter
	mute  map[string]bool
	last  map[core.ConnID]mesh.PeerStatus
}

func newStatusWatcher(muter peerMuter, names []string) *statusWatcher {
	w := &statusWatcher{muter: muter, mute: make(map[string]bool), last: make(map[core.ConnID]mesh.PeerStatus)}
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			w.mute[n] = true
		}
	}
	return w
}

func (w *statusWatcher) handle(peers []mesh.PeerStatus) {
	seen := make(map[core.ConnID]mesh.PeerStatus, len(peers))
	for _, p := range peers {
		seen[p.ID] = p
		muted := false
		// Reapplied on every update: a replaced link has a fresh track.
		if w.mute[p.DisplayName] && p.State != mesh.Absent {
			muted = w.muter.MutePeer(p.ID, true)
		}
		if prev, ok := w.last[p.ID]; ok && prev == p {
			continue
		}
		log.Info().
			Str("module", "mesh").
			Str("remote", string(p.ID)).
			Str("name", p.DisplayName).
			Bool("in_proximity", p.InProximity).
			Str("state", p.State.String()).
			Bool("media", p.HasMedia).
			Bool("muted", muted).
			Msg("peer")
	}
	w.last = seen
}
