package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/pgstore"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// runtime holds the process-wide connections shared by every command.
type runtime struct {
	cfg     *app.Config
	logger  *slog.Logger
	pool    *pgxpool.Pool
	redis   *redis.Client
	metrics *observability.Metrics
}

func bootstrap(ctx context.Context) (*runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{ApplicationName: "odyssey", ConnectTimeout: 10 * time.Second, MaxConns: cfg.PGMaxConns})
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger, pool: pool, metrics: observability.NewMetrics()}
	client, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, canonical cache disabled", slog.Any("error", err))
	} else {
		rt.redis = client
	}
	return rt, nil
}

func (rt *runtime) ledger(audit posting.AuditPort) *app.Ledger {
	return app.NewLedger(app.LedgerParams{
		Config:  rt.cfg,
		Store:   pgstore.New(rt.pool),
		Redis:   rt.redis,
		Audit:   audit,
		Logger:  rt.logger,
		Metrics: rt.metrics,
	})
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	rt.pool.Close()
}
