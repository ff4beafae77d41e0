package http

import (
	"context"

	"github.com/dkeye/gridvoice/internal/adapters/signal"
	"github.com/dkeye/gridvoice/internal/app/avatars"
	"github.com/dkeye/gridvoice/internal/app/identity"
	"github.com/dkeye/gridvoice/internal/app/presence"
	"github.com/dkeye/gridvoice/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type Deps struct {
	Identity *identity.Service
	Avatars  *avatars.Catalog
	Hub      *presence.Hub
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: int(cfg.TokenTTL.Seconds()), HttpOnly: true})
	r.Use(sessions.Sessions("GridVoiceSession", store))

	r.Static("/static", cfg.StaticPath)
	r.Static("/avatars", cfg.AvatarDir)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Str("avatars", cfg.AvatarDir).Msg("router setup")

	h := &handlers{deps: deps}
	ws := signal.NewSignalWSController(deps.Hub, signal.NewJoinRateLimiter(cfg.JoinRate.Limit, cfg.JoinRate.Interval), signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendQueue:  cfg.SendQueue,
		GridSize:   cfg.GridSize,
		Threshold:  cfg.ProximityThreshold,
	})

	api := r.Group("/api")
	api.POST("/login", h.login)
	api.GET("/avatars", h.avatars)
	api.POST("/set-avatar", h.setAvatar)
	api.GET("/roster", h.roster)
	api.GET("/ws", func(c *gin.Context) {
		ws.HandleSignal(ctx, c)
	})

	return r
}
