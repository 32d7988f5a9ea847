package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Arena/internal/adapters/ws"
	"github.com/dkeye/Arena/internal/app/orch"
	"github.com/dkeye/Arena/internal/config"
)

const cookieSessionName = "ArenaSessions"

// SetupRouter wires the matchmaking REST endpoints, the session websocket and the
// operational endpoints. ctx bounds the lifetime of websocket connections; the returned
// controller reports when they have all closed.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) (*gin.Engine, *ws.Controller) {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600, HttpOnly: true})
	r.Use(sessions.Sessions(cookieSessionName, store))

	h := &handlers{orch: o}
	ctl := ws.NewController(o, ws.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		PongWait:     cfg.PongWait,
		WriteWait:    cfg.WriteWait,
		RateLimit:    cfg.RateLimit.Messages,
		RateInterval: cfg.RateLimit.Interval,
	})

	r.GET("/healthz", h.health)
	if o.Metrics != nil {
		r.GET("/metrics", gin.WrapH(o.Metrics.Handler()))
	}

	api := r.Group("/api")
	api.POST("/matching/create", h.createMatching)
	api.POST("/matching/join", h.joinMatching)
	api.GET("/matching/:session_id", h.sessionStatus)
	api.GET("/matching/:session_id/wait", h.waitMatching)
	api.GET("/models", h.listModels)
	api.GET("/ws", func(c *gin.Context) {
		ctl.Handle(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r, ctl
}
