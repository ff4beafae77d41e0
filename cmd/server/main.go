package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/gridvoice/internal/adapters/http"
	"github.com/dkeye/gridvoice/internal/app/avatars"
	"github.com/dkeye/gridvoice/internal/app/identity"
	"github.com/dkeye/gridvoice/internal/app/presence"
	"github.com/dkeye/gridvoice/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	store, err := openStore(cfg.Identity)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Identity.Store).Msg("failed to open identity store")
	}
	defer store.Close()

	catalog, err := avatars.Load(cfg.AvatarCatalog)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.AvatarCatalog).Msg("failed to load avatar catalog")
	}
	go func() {
		if err := catalog.Watch(ctx); err != nil {
			log.Warn().Err(err).Str("module", "app.avatars").Msg("catalog watch stopped")
		}
	}()

	ids := identity.NewService(store, cfg.Secret, cfg.TokenTTL)
	hub := presence.NewHub(ids, presence.SimplePolicy{})
	hub.UseCatalog(catalog)

	r := router.SetupRouter(ctx, cfg, router.Deps{Identity: ids, Avatars: catalog, Hub: hub})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("gridvoice server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func openStore(cfg config.IdentityConfig) (identity.Store, error) {
	switch cfg.Store {
	case "", "memory":
		return identity.NewMemoryStore(), nil
	case "sqlite":
		return identity.OpenSQLite(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown identity store %q", cfg.Store)
	}
}
