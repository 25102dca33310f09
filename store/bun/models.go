package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

type jobModel struct {
	bun.BaseModel `bun:"table:conveyor_jobs"`

	ID          string     `bun:"id,pk"`
	Name        string     `bun:"name,notnull"`
	Payload     []byte     `bun:"payload,notnull,type:bytea"`
	State       string     `bun:"state,notnull,default:'pending'"`
	RunAt       time.Time  `bun:"run_at,notnull"`
	Attempts    int        `bun:"attempts,notnull"`
	MaxAttempts int        `bun:"max_attempts,notnull"`
	LockBy      string     `bun:"lock_by,notnull"`
	LockAt      *time.Time `bun:"lock_at"`
	LastError   string     `bun:"last_error,notnull"`
	DoneAt      *time.Time `bun:"done_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
}

func fromJobModel(m *jobModel) (*job.Envelope, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse job id %q: %w", m.ID, err)
	}
	env := &job.Envelope{
		Entity: conveyor.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:          jobID,
		Name:        m.Name,
		Payload:     m.Payload,
		State:       job.State(m.State),
		RunAt:       m.RunAt.UTC(),
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		LockAt:      utcPtr(m.LockAt),
		LastError:   m.LastError,
		DoneAt:      utcPtr(m.DoneAt),
	}
	if m.LockBy != "" {
		lockBy, err := id.ParseWorkerID(m.LockBy)
		if err != nil {
			return nil, fmt.Errorf("conveyor/bun: parse lock_by %q: %w", m.LockBy, err)
		}
		env.LockBy = lockBy
	}
	return env, nil
}

func fromJobModels(models []jobModel) ([]*job.Envelope, error) {
	envs := make([]*job.Envelope, 0, len(models))
	for i := range models {
		env, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
