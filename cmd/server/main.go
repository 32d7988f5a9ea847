package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Arena/internal/adapters/http"
	"github.com/dkeye/Arena/internal/app"
	"github.com/dkeye/Arena/internal/app/orch"
	"github.com/dkeye/Arena/internal/config"
	"github.com/dkeye/Arena/internal/core"
	"github.com/dkeye/Arena/internal/domain"
	"github.com/dkeye/Arena/internal/observability"
	"github.com/dkeye/Arena/internal/storage/memory"
	"github.com/dkeye/Arena/internal/storage/postgres"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console logger until the configured one is ready.
	if _, err := observability.InitLogger("arena", observability.LoggingConfig{Level: "info", Format: "console"}); err != nil {
		log.Fatal().Err(err).Msg("init logger")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if _, err := observability.InitLogger("arena", cfg.Logging); err != nil {
		log.Fatal().Err(err).Msg("init logger")
	}

	assets, closeAssets, err := openAssets(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open asset store")
	}
	defer closeAssets()

	fanout := app.ExcludeSender
	if cfg.Matchmaking.EchoToSender {
		fanout = app.EchoToSender
	}
	relay := app.NewRelay(fanout)
	mm := app.NewMatchmaking(app.MatchmakingConfig{
		Capacity: cfg.Matchmaking.Capacity,
		Timeout:  cfg.Matchmaking.Timeout,
	}, relay)
	defer mm.Close()

	o := orch.New(mm, relay, assets, observability.NewMetrics())

	r, conns := router.SetupRouter(ctx, cfg, o)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("fanout", fanout.String()).Msg("Arena server started")
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
	if err := conns.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("websocket connections still open at exit")
	}
	o.Wait()
	log.Info().Msg("Server exited gracefully")
}

func openAssets(ctx context.Context, cfg *config.Config) (core.AssetStore, func(), error) {
	if cfg.Assets.Driver != "postgres" {
		var seed []domain.Asset
		if cfg.Assets.SeedFile != "" {
			loaded, err := memory.LoadSeedFile(cfg.Assets.SeedFile)
			if err != nil {
				return nil, nil, err
			}
			seed = loaded
		}
		log.Info().Str("module", "main").Int("models", len(seed)).Msg("using in-memory asset store")
		return memory.NewAssetStore(seed...), func() {}, nil
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(cfg.Database.DSN()); err != nil {
			return nil, nil, err
		}
	}
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("module", "main").Str("host", cfg.Database.Host).Str("db", cfg.Database.Name).Msg("using postgres asset store")
	return postgres.NewAssetRepository(pool.DB()), pool.Close, nil
}
