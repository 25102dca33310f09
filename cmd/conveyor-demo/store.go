package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/store"
	bunstore "github.com/xraph/conveyor/store/bun"
	"github.com/xraph/conveyor/store/memory"
	"github.com/xraph/conveyor/store/mongo"
	"github.com/xraph/conveyor/store/postgres"
	redisstore "github.com/xraph/conveyor/store/redis"
)

// openStore builds the backend named by demo.Store. The returned cleanup
// releases connections the store does not own.
func openStore(ctx context.Context, demo demoConfig, cfg conveyor.Config, logger *slog.Logger) (store.Store, func(), error) {
	noop := func() {}

	switch demo.Store {
	case "memory":
		return memory.New(
			memory.WithLockTimeout(cfg.LockTimeout),
			memory.WithMaxAttempts(cfg.MaxAttempts),
		), noop, nil

	case "postgres":
		s, err := postgres.New(ctx, demo.DatabaseURL,
			postgres.WithLogger(logger),
			postgres.WithLockTimeout(cfg.LockTimeout),
			postgres.WithMaxAttempts(cfg.MaxAttempts),
		)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil

	case "bun":
		db := bun.NewDB(sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(demo.DatabaseURL))), pgdialect.New())
		s := bunstore.New(db,
			bunstore.WithLogger(logger),
			bunstore.WithLockTimeout(cfg.LockTimeout),
			bunstore.WithMaxAttempts(cfg.MaxAttempts),
		)
		return s, func() { _ = db.Close() }, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: demo.RedisAddr})
		s := redisstore.New(client,
			redisstore.WithLogger(logger),
			redisstore.WithLockTimeout(cfg.LockTimeout),
			redisstore.WithMaxAttempts(cfg.MaxAttempts),
		)
		return s, func() { _ = client.Close() }, nil

	case "mongo":
		s, err := mongo.Open(demo.MongoURI, demo.MongoDB,
			mongo.WithLogger(logger),
			mongo.WithLockTimeout(cfg.LockTimeout),
			mongo.WithMaxAttempts(cfg.MaxAttempts),
		)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown store %q (want memory, postgres, bun, redis or mongo)",
			conveyor.ErrInvalidConfig, demo.Store)
	}
}
