package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/blaze-intel/nil-valuation/internal/resilience"
	"github.com/blaze-intel/nil-valuation/internal/store"
)

// initStore opens the configured warehouse and applies migrations. Postgres
// connections are retried while the server is unreachable or starting up.
func initStore(ctx context.Context) (store.Warehouse, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}

	var st store.Warehouse
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "nil.db"
		}
		s, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		st = s
	case "postgres":
		b := resilience.DefaultBackoff()
		b.OnRetry = resilience.LogRetry("store.connect")
		s, err := resilience.Retry(ctx, b, func(ctx context.Context) (*store.PostgresStore, error) {
			return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
				MaxConns: cfg.Store.MaxConns,
				MinConns: cfg.Store.MinConns,
			})
		})
		if err != nil {
			return nil, err
		}
		st = s
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	zap.L().Debug("store opened", zap.String("driver", cfg.Store.Driver))
	return st, nil
}
