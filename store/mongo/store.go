package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/store"
)

// colJobs is the jobs collection name.
const colJobs = "conveyor_jobs"

var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	db          *mongod.Database
	client      *mongod.Client
	logger      *slog.Logger
	lockTimeout time.Duration
	maxAttempts int
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithLockTimeout sets how long a running job may go without a heartbeat
// before it is reclaimed.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

// WithMaxAttempts sets the default applied to jobs enqueued without one.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		s.maxAttempts = n
	}
}

// New creates a store over db. The caller owns the client lifecycle; Close
// does not disconnect it.
func New(db *mongod.Database, opts ...Option) *Store {
	cfg := conveyor.DefaultConfig()
	s := &Store{
		db:          db,
		logger:      slog.Default(),
		lockTimeout: cfg.LockTimeout,
		maxAttempts: cfg.MaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to uri and returns a store over database. The store owns
// the client and disconnects it on Close.
func Open(uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: connect: %w", err)
	}
	s := New(client.Database(database), opts...)
	s.client = client
	return s, nil
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Setup creates the collection indexes. CreateMany is idempotent for
// identical index definitions.
func (s *Store) Setup(ctx context.Context) error {
	_, err := s.jobs().Indexes().CreateMany(ctx, []mongod.IndexModel{
		// Claim index: state + run_at + _id.
		{Keys: bson.D{
			{Key: "state", Value: 1},
			{Key: "run_at", Value: 1},
			{Key: "_id", Value: 1},
		}},
		// Stall index for reclaiming expired locks.
		{Keys: bson.D{
			{Key: "state", Value: 1},
			{Key: "lock_at", Value: 1},
		}},
		// Name index for filtered claims and listings.
		{Keys: bson.D{
			{Key: "name", Value: 1},
			{Key: "state", Value: 1},
		}},
	})
	if err != nil {
		return &conveyor.StorageInitError{Backend: "mongo", Err: err}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close disconnects the client when the store opened it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

func (s *Store) jobs() *mongod.Collection {
	return s.db.Collection(colJobs)
}

// now returns the current UTC time truncated to MongoDB's millisecond
// precision.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
