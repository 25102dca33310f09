// Package ext defines lifecycle hooks for conveyor.
//
// Extensions are notified when workers start, finish, retry or kill jobs,
// when the cron scheduler fires and when a monitor shuts down. Each hook is
// a separate interface so an extension opts in only to the events it cares
// about. Hook errors are logged and never change how a job is settled.
package ext

import (
	"context"
	"time"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobStarted is called after a worker claims a job, before the handler runs.
type JobStarted interface {
	OnJobStarted(ctx context.Context, env *job.Envelope) error
}

// JobCompleted is called after a job is acked.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, env *job.Envelope, elapsed time.Duration) error
}

// JobRetrying is called after a job is released for another attempt.
// fault is nil when the handler asked for the retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, env *job.Envelope, nextRunAt time.Time, fault error) error
}

// JobKilled is called after a job is killed, by request or because its
// attempts ran out.
type JobKilled interface {
	OnJobKilled(ctx context.Context, env *job.Envelope, reason string) error
}

// ──────────────────────────────────────────────────
// Scheduler and supervision hooks
// ──────────────────────────────────────────────────

// CronFired is called after a recurring entry schedules a job.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error
}

// Shutdown is called when a monitor stops.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
