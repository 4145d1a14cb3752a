package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/impact/go/internal/dbconfig"
	"github.com/mcdev12/impact/go/internal/gameconfig"
	"github.com/mcdev12/impact/go/internal/history"
)

// setupHistory connects the round history store. It returns a nil store
// when no database is configured.
func setupHistory(ctx context.Context, cfg gameconfig.DatabaseConfig) (*history.Store, io.Closer, error) {
	dsn, ok := dbconfig.ResolveDSN(cfg.URL)
	if !ok {
		log.Info().Msg("no database configured, round history disabled")
		return nil, nil, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := history.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	log.Info().Msg("connected to database, recording round history")
	return store, closerFunc(func() error {
		pool.Close()
		return nil
	}), nil
}
