package bunstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Enqueue persists env as pending and runnable now.
func (s *Store) Enqueue(ctx context.Context, env *job.Envelope) (id.JobID, error) {
	return s.Schedule(ctx, env, time.Time{})
}

// Schedule persists env as pending at runAt. A zero runAt means the
// database's NOW().
func (s *Store) Schedule(ctx context.Context, env *job.Envelope, runAt time.Time) (id.JobID, error) {
	if env.ID.IsNil() {
		env.ID = id.NewJobID()
	}
	if env.MaxAttempts <= 0 {
		env.MaxAttempts = s.maxAttempts
	}
	payload := env.Payload
	if payload == nil {
		payload = []byte{}
	}

	m := &jobModel{
		ID:          env.ID.String(),
		Name:        env.Name,
		Payload:     payload,
		State:       string(job.StatePending),
		RunAt:       runAt.UTC(),
		MaxAttempts: env.MaxAttempts,
	}
	q := s.db.NewInsert().Model(m).
		Value("created_at", "NOW()").
		Value("updated_at", "NOW()")
	if runAt.IsZero() {
		q = q.Value("run_at", "NOW()")
	}

	if _, err := q.Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return id.Nil, conveyor.ErrJobAlreadyExists
		}
		return id.Nil, fmt.Errorf("conveyor/bun: enqueue: %w", err)
	}
	return env.ID, nil
}

// FetchNext claims the earliest runnable job using FOR UPDATE SKIP LOCKED
// via raw SQL. Stalled jobs with no attempts left are killed first.
func (s *Store) FetchNext(ctx context.Context, workerID id.WorkerID, names ...string) (*job.Envelope, error) {
	secs := s.lockTimeout.Seconds()
	filter := pgdialect.Array(textArray(names))

	res, err := s.db.NewRaw(`
		UPDATE conveyor_jobs
		SET state = 'killed', last_error = 'lock expired with no attempts left',
			done_at = NOW(), updated_at = NOW()
		WHERE state = 'running'
		  AND lock_at <= NOW() - make_interval(secs => ?0)
		  AND attempts >= max_attempts
		  AND (cardinality(?1::text[]) = 0 OR name = ANY(?1::text[]))`,
		secs, filter,
	).Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: kill exhausted: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 { //nolint:errcheck // driver always returns nil
		s.logger.Warn("killed stalled jobs with no attempts left", slog.Int64("count", n))
	}

	var m jobModel
	err = s.db.NewRaw(`
		WITH next AS (
			SELECT id FROM conveyor_jobs
			WHERE (cardinality(?1::text[]) = 0 OR name = ANY(?1::text[]))
			  AND (
				(state IN ('pending', 'failed') AND run_at <= NOW())
				OR (state = 'running'
					AND lock_at <= NOW() - make_interval(secs => ?0)
					AND attempts < max_attempts)
			  )
			ORDER BY run_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE conveyor_jobs j
		SET state = 'running', attempts = j.attempts + 1,
			lock_by = ?2, lock_at = NOW(), updated_at = NOW()
		FROM next
		WHERE j.id = next.id
		RETURNING j.*`,
		secs, filter, workerID.String(),
	).Scan(ctx, &m)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conveyor/bun: fetch next: %w", err)
	}
	return fromJobModel(&m)
}

// Ack moves a held job to done.
func (s *Store) Ack(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	res, err := s.db.NewUpdate().Model((*jobModel)(nil)).
		Set("state = ?", string(job.StateDone)).
		Set("done_at = NOW()").
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state = ?", string(job.StateRunning)).
		Where("lock_by = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: ack: %w", err)
	}
	return s.checkAffected(ctx, res, jobID, "ack")
}

// Retry releases a held job for another attempt, or kills it when no
// attempts remain.
func (s *Store) Retry(ctx context.Context, jobID id.JobID, workerID id.WorkerID, opts job.RetryOpts) (job.State, error) {
	var runAt *time.Time
	if !opts.RunAt.IsZero() {
		t := opts.RunAt.UTC()
		runAt = &t
	}

	var state string
	err := s.db.NewRaw(`
		UPDATE conveyor_jobs SET
			state      = CASE WHEN attempts < max_attempts THEN ?2::text ELSE 'killed' END,
			run_at     = CASE WHEN attempts < max_attempts THEN COALESCE(?3::timestamptz, NOW()) ELSE run_at END,
			lock_by    = CASE WHEN attempts < max_attempts THEN '' ELSE lock_by END,
			lock_at    = CASE WHEN attempts < max_attempts THEN NULL ELSE lock_at END,
			done_at    = CASE WHEN attempts < max_attempts THEN NULL ELSE NOW() END,
			last_error = ?4,
			updated_at = NOW()
		WHERE id = ?0 AND state = 'running' AND lock_by = ?1
		RETURNING state`,
		jobID.String(), workerID.String(), string(job.RetryState(opts.Fault != "")), runAt, opts.Fault,
	).Scan(ctx, &state)
	if err != nil {
		if isNoRows(err) {
			return "", s.staleOrMissing(ctx, jobID, "retry")
		}
		return "", fmt.Errorf("conveyor/bun: retry: %w", err)
	}
	return job.State(state), nil
}

// Kill moves a running job to killed. A Nil opts.WorkerID skips the
// holder check.
func (s *Store) Kill(ctx context.Context, jobID id.JobID, opts job.KillOpts) error {
	q := s.db.NewUpdate().Model((*jobModel)(nil)).
		Set("state = ?", string(job.StateKilled)).
		Set("last_error = ?", opts.Reason).
		Set("done_at = NOW()").
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state = ?", string(job.StateRunning))
	if !opts.WorkerID.IsNil() {
		q = q.Where("lock_by = ?", opts.WorkerID.String())
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: kill: %w", err)
	}
	return s.checkAffected(ctx, res, jobID, "kill")
}

// Heartbeat renews the lock of a held job.
func (s *Store) Heartbeat(ctx context.Context, workerID id.WorkerID, jobID id.JobID) error {
	res, err := s.db.NewUpdate().Model((*jobModel)(nil)).
		Set("lock_at = NOW()").
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state = ?", string(job.StateRunning)).
		Where("lock_by = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: heartbeat: %w", err)
	}
	return s.checkAffected(ctx, res, jobID, "heartbeat")
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Envelope, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/bun: get: %w", err)
	}
	return fromJobModel(m)
}

// List returns jobs matching opts ordered by run_at then id.
func (s *Store) List(ctx context.Context, opts job.ListOpts) ([]*job.Envelope, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		OrderExpr("run_at ASC, id ASC")
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	if opts.Name != "" {
		q = q.Where("name = ?", opts.Name)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/bun: list: %w", err)
	}
	return fromJobModels(models)
}

// Count returns the number of jobs matching opts.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().Model((*jobModel)(nil))
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	if opts.Name != "" {
		q = q.Where("name = ?", opts.Name)
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("conveyor/bun: count: %w", err)
	}
	return int64(n), nil
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func (s *Store) checkAffected(ctx context.Context, res rowsAffecter, jobID id.JobID, op string) error {
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return s.staleOrMissing(ctx, jobID, op)
	}
	return nil
}

// staleOrMissing explains a guarded update that matched no row.
func (s *Store) staleOrMissing(ctx context.Context, jobID id.JobID, op string) error {
	var state string
	err := s.db.NewSelect().Model((*jobModel)(nil)).
		Column("state").
		Where("id = ?", jobID.String()).
		Scan(ctx, &state)
	if err != nil {
		if isNoRows(err) {
			return conveyor.ErrJobNotFound
		}
		return fmt.Errorf("conveyor/bun: %s: %w", op, err)
	}
	return &conveyor.StaleTransitionError{JobID: jobID.String(), Op: op, State: state}
}
