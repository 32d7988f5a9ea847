// Package postgres is the models store behind assets.driver: postgres.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Arena/internal/config"
)

const connectTimeout = 10 * time.Second

type Pool struct {
	pool *pgxpool.Pool
}

// NewPool opens the models database and fails unless it answers a ping within connectTimeout.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing models database dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening models database %s/%s: %w", cfg.Host, cfg.Name, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("models database %s/%s unreachable: %w", cfg.Host, cfg.Name, err)
	}

	log.Info().Str("module", "storage.postgres").
		Str("host", cfg.Host).
		Str("db", cfg.Name).
		Int32("max_conns", poolCfg.MaxConns).
		Int32("min_conns", poolCfg.MinConns).
		Dur("max_conn_lifetime", poolCfg.MaxConnLifetime).
		Msg("models database connected")
	return &Pool{pool: pool}, nil
}

func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.pool.Ping(ctx)
}

func (p *Pool) Close() {
	p.pool.Close()
	log.Info().Str("module", "storage.postgres").Msg("models database closed")
}

func (p *Pool) DB() *pgxpool.Pool { return p.pool }
