package cron

import (
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/conveyor/job"
)

// Entry is a recurring job schedule.
type Entry struct {
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	JobName     string     `json:"job_name"`
	Payload     []byte     `json:"payload,omitempty"`
	MaxAttempts int        `json:"max_attempts"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   time.Time  `json:"next_run_at"`
	Enabled     bool       `json:"enabled"`

	sched cronlib.Schedule
	store job.Store
}

// due reports whether the entry should fire at now.
func (e *Entry) due(now time.Time) bool {
	return e.Enabled && !e.NextRunAt.After(now)
}

func (e *Entry) snapshot() Entry {
	out := *e
	out.sched = nil
	out.store = nil
	if e.LastRunAt != nil {
		t := *e.LastRunAt
		out.LastRunAt = &t
	}
	return out
}
