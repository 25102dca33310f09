package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/store"
)

var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithLockTimeout sets how long a running job may go without a heartbeat
// before it is reclaimed.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithMaxAttempts sets the default applied to jobs enqueued without one.
func WithMaxAttempts(n int) Option {
	return func(s *Store) { s.maxAttempts = n }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client      redis.Cmdable
	logger      *slog.Logger
	lockTimeout time.Duration
	maxAttempts int
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	cfg := conveyor.DefaultConfig()
	s := &Store{
		client:      client,
		logger:      slog.Default(),
		lockTimeout: cfg.LockTimeout,
		maxAttempts: cfg.MaxAttempts,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Setup verifies the connection and preloads the Lua scripts. Redis needs
// no schema.
func (s *Store) Setup(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &conveyor.StorageInitError{Backend: "redis", Err: err}
	}
	for _, script := range scripts {
		if err := script.Load(ctx, s.client).Err(); err != nil {
			return &conveyor.StorageInitError{Backend: "redis", Err: err}
		}
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op. The caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
