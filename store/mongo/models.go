package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

type jobModel struct {
	ID          string     `bson:"_id"`
	Name        string     `bson:"name"`
	Payload     []byte     `bson:"payload"`
	State       string     `bson:"state"`
	RunAt       time.Time  `bson:"run_at"`
	Attempts    int        `bson:"attempts"`
	MaxAttempts int        `bson:"max_attempts"`
	LockBy      string     `bson:"lock_by"`
	LockAt      *time.Time `bson:"lock_at"`
	LastError   string     `bson:"last_error"`
	DoneAt      *time.Time `bson:"done_at"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func fromJobModel(m *jobModel) (*job.Envelope, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: parse job id %q: %w", m.ID, err)
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
			return nil, fmt.Errorf("conveyor/mongo: parse lock_by %q: %w", m.LockBy, err)
		}
		env.LockBy = lockBy
	}
	return env, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
