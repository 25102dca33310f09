package audithook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobStarted   = (*Extension)(nil)
	_ ext.JobCompleted = (*Extension)(nil)
	_ ext.JobRetrying  = (*Extension)(nil)
	_ ext.JobKilled    = (*Extension)(nil)
	_ ext.CronFired    = (*Extension)(nil)
	_ ext.Shutdown     = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges conveyor lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, env *job.Envelope) error {
	return e.record(ctx, &AuditEvent{
		Action: ActionJobStarted, Severity: SeverityInfo, Outcome: OutcomeSuccess,
		Resource: ResourceJob, ResourceID: env.ID.String(), Category: CategoryJob,
		Metadata: jobMeta(env),
	})
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, env *job.Envelope, elapsed time.Duration) error {
	meta := jobMeta(env)
	meta["elapsed_ms"] = elapsed.Milliseconds()
	return e.record(ctx, &AuditEvent{
		Action: ActionJobCompleted, Severity: SeverityInfo, Outcome: OutcomeSuccess,
		Resource: ResourceJob, ResourceID: env.ID.String(), Category: CategoryJob,
		Metadata: meta,
	})
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, env *job.Envelope, nextRunAt time.Time, fault error) error {
	meta := jobMeta(env)
	meta["next_run_at"] = nextRunAt.UTC().Format(time.RFC3339)
	evt := &AuditEvent{
		Action: ActionJobRetrying, Severity: SeverityWarning, Outcome: OutcomeSuccess,
		Resource: ResourceJob, ResourceID: env.ID.String(), Category: CategoryJob,
		Metadata: meta,
	}
	if fault != nil {
		evt.Outcome = OutcomeFailure
		evt.Reason = fault.Error()
		meta["error"] = fault.Error()
	}
	return e.record(ctx, evt)
}

// OnJobKilled implements ext.JobKilled.
func (e *Extension) OnJobKilled(ctx context.Context, env *job.Envelope, reason string) error {
	return e.record(ctx, &AuditEvent{
		Action: ActionJobKilled, Severity: SeverityCritical, Outcome: OutcomeFailure,
		Resource: ResourceJob, ResourceID: env.ID.String(), Category: CategoryJob,
		Metadata: jobMeta(env), Reason: reason,
	})
}

// OnCronFired implements ext.CronFired.
func (e *Extension) OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error {
	return e.record(ctx, &AuditEvent{
		Action: ActionCronFired, Severity: SeverityInfo, Outcome: OutcomeSuccess,
		Resource: ResourceCron, ResourceID: entryName, Category: CategoryCron,
		Metadata: map[string]any{"job_id": jobID.String()},
	})
}

// OnShutdown implements ext.Shutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, &AuditEvent{
		Action: ActionShutdown, Severity: SeverityInfo, Outcome: OutcomeSuccess,
		Resource: ResourceMonitor, Category: CategoryMonitor,
	})
}

func jobMeta(env *job.Envelope) map[string]any {
	return map[string]any{
		"job_name":     env.Name,
		"attempt":      env.Attempts,
		"max_attempts": env.MaxAttempts,
	}
}

// record sends evt unless its action is filtered out. Recorder failures are
// logged and swallowed.
func (e *Extension) record(ctx context.Context, evt *AuditEvent) error {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return nil
	}
	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
