package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Emitter emits cron lifecycle events.
// ext.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, jobID id.JobID)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithEmitter sets the receiver of CronFired events.
func WithEmitter(e Emitter) Option {
	return func(s *Scheduler) { s.emitter = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler fires registered entries on a tick loop.
type Scheduler struct {
	logger       *slog.Logger
	emitter      Emitter
	tickInterval time.Duration
	now          func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:       slog.Default(),
		tickInterval: time.Second,
		now:          time.Now,
		entries:      make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a recurring entry that schedules def with payload on store
// each time schedule fires. Entry names are unique within a scheduler.
func Register[T any](s *Scheduler, name, schedule string, store job.Store, def *job.Definition[T], payload T) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("%w: cron %q: %w", conveyor.ErrInvalidConfig, schedule, err)
	}
	data, err := def.Encode(payload)
	if err != nil {
		return fmt.Errorf("cron: encode %q payload: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", conveyor.ErrCronEntryExists, name)
	}
	s.entries[name] = &Entry{
		Name:        name,
		Schedule:    schedule,
		JobName:     def.Name,
		Payload:     data,
		MaxAttempts: def.Opts.MaxAttempts,
		NextRunAt:   sched.Next(s.now().UTC()),
		Enabled:     true,
		sched:       sched,
		store:       store,
	}
	return nil
}

// Entries returns a snapshot of all entries sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Entry returns a snapshot of the named entry.
func (s *Scheduler) Entry(name string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// SetEnabled turns firing on or off for the named entry. Re-enabling an
// entry computes its next run from now so it does not fire for the time
// it was disabled.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", conveyor.ErrCronEntryNotFound, name)
	}
	if enabled && !e.Enabled {
		e.NextRunAt = e.sched.Next(s.now().UTC())
	}
	e.Enabled = enabled
	return nil
}

// Run checks due entries every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.logger.Info("cron scheduler started", slog.Duration("tick_interval", s.tickInterval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cron scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx, s.now().UTC())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*Entry
	for _, e := range s.entries {
		if e.due(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].Name < due[j].Name })
	for _, e := range due {
		s.fire(ctx, e, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, e *Entry, now time.Time) {
	s.mu.Lock()
	firedAt := e.NextRunAt
	env := job.NewEnvelope(e.JobName, e.Payload, e.MaxAttempts)
	store := e.store
	s.mu.Unlock()

	jobID, err := store.Schedule(ctx, env, firedAt)
	if err != nil {
		// The entry stays due and is retried on the next tick.
		s.logger.Error("cron schedule error",
			slog.String("cron_name", e.Name),
			slog.String("job_name", e.JobName),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	e.LastRunAt = &firedAt
	e.NextRunAt = e.sched.Next(now)
	s.mu.Unlock()

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, e.Name, jobID)
	}

	s.logger.Info("cron fired",
		slog.String("cron_name", e.Name),
		slog.String("job_name", e.JobName),
		slog.String("job_id", jobID.String()),
	)
}
