package conveyor

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the runtime settings shared by workers, the monitor and
// the stores. Fields carry env tags for LoadConfig.
type Config struct {
	// Workers is the number of workers a monitor starts by default.
	Workers int `env:"WORKERS"`

	// PollInterval is how long an idle worker sleeps before polling again.
	PollInterval time.Duration `env:"POLL_INTERVAL"`

	// ErrorBackoff is how long a worker sleeps after a failed claim.
	ErrorBackoff time.Duration `env:"ERROR_BACKOFF"`

	// ExecutionTimeout bounds a single handler invocation. Zero disables it.
	ExecutionTimeout time.Duration `env:"EXECUTION_TIMEOUT"`

	// HeartbeatInterval is how often a running job renews its lock.
	// Zero disables heartbeats, which requires an ExecutionTimeout shorter
	// than LockTimeout so that no live execution is reclaimed.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL"`

	// LockTimeout is how long a claim may go without a heartbeat before
	// another worker can reclaim it.
	LockTimeout time.Duration `env:"LOCK_TIMEOUT"`

	// ShutdownTimeout is how long in-flight jobs may run after shutdown
	// before they are cancelled.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`

	// MaxAttempts is the default attempt ceiling for new envelopes.
	MaxAttempts int `env:"MAX_ATTEMPTS"`
}

// DefaultMaxAttempts is the attempt ceiling used when none is configured.
const DefaultMaxAttempts = 25

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		PollInterval:      1 * time.Second,
		ErrorBackoff:      1 * time.Second,
		ExecutionTimeout:  5 * time.Minute,
		HeartbeatInterval: 10 * time.Second,
		LockTimeout:       30 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		MaxAttempts:       DefaultMaxAttempts,
	}
}

// LoadConfig starts from DefaultConfig and overrides every field whose
// environment variable is set. With prefix "CONVEYOR_" the worker count
// is read from CONVEYOR_WORKERS.
func LoadConfig(prefix string) (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: prefix}); err != nil {
		return Config{}, fmt.Errorf("conveyor: load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Workers)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be positive, got %d", ErrInvalidConfig, c.MaxAttempts)
	case c.LockTimeout <= 0:
		return fmt.Errorf("%w: lock timeout must be positive", ErrInvalidConfig)
	case c.HeartbeatInterval > 0 && c.HeartbeatInterval >= c.LockTimeout:
		return fmt.Errorf("%w: heartbeat interval %s must be shorter than lock timeout %s",
			ErrInvalidConfig, c.HeartbeatInterval, c.LockTimeout)
	case c.HeartbeatInterval <= 0 && (c.ExecutionTimeout <= 0 || c.ExecutionTimeout >= c.LockTimeout):
		return fmt.Errorf("%w: without heartbeats execution timeout %s must be set and shorter than lock timeout %s",
			ErrInvalidConfig, c.ExecutionTimeout, c.LockTimeout)
	}
	return nil
}
