// Package backend opens the ledger store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"dailyroll/internal/attendance/service"
	"dailyroll/internal/attendance/store/ledger"
	"dailyroll/internal/platform/config"
	"dailyroll/internal/platform/mysql"
	"dailyroll/internal/platform/postgres"
	"dailyroll/internal/platform/redis"
	"dailyroll/internal/platform/sqlite"
)

// Backend is the selected ledger store plus its health check and teardown.
type Backend struct {
	Store  service.Store
	Health func(ctx context.Context) error
	Close  func() error
}

// Open connects the store named by cfg.Ledger.Backend and ensures its schema.
func Open(ctx context.Context, cfg *config.Config, observer ledger.Observer, logger *slog.Logger) (*Backend, error) {
	opts := []ledger.Option{
		ledger.WithObserver(observer),
		ledger.WithTxTimeout(cfg.Ledger.TxTimeout),
	}

	switch cfg.Ledger.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory ledger; check-ins are lost on restart")
		return &Backend{
			Store:  ledger.NewInMemory(opts...),
			Health: func(context.Context) error { return nil },
			Close:  func() error { return nil },
		}, nil

	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		store := ledger.NewSQLite(db, opts...)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("using sqlite ledger", "path", cfg.SQLite.Path)
		return &Backend{Store: store, Health: db.PingContext, Close: db.Close}, nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store := ledger.NewPostgres(db, opts...)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("using postgres ledger")
		return &Backend{Store: store, Health: db.PingContext, Close: db.Close}, nil

	case config.BackendMySQL:
		db, err := mysql.Open(ctx, cfg.MySQL)
		if err != nil {
			return nil, err
		}
		store := ledger.NewMySQL(db, opts...)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("using mysql ledger")
		return &Backend{Store: store, Health: db.PingContext, Close: db.Close}, nil

	case config.BackendRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		store := ledger.NewRedis(client.Client,
			ledger.WithKeyPrefix(cfg.Redis.KeyPrefix),
			ledger.WithTTL(cfg.Redis.TTL),
			ledger.WithMaxRetries(cfg.Redis.MaxRetries),
			ledger.WithStoreOptions(opts...),
		)
		logger.Info("using redis ledger", "prefix", cfg.Redis.KeyPrefix)
		return &Backend{Store: store, Health: client.Health, Close: client.Close}, nil

	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}
