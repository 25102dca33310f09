package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

const jobColumns = `id, name, payload, state, run_at, attempts, max_attempts,
	lock_by, lock_at, last_error, done_at, created_at, updated_at`

// claimedColumns qualifies jobColumns for the claim CTE, where next.id
// would otherwise be ambiguous.
const claimedColumns = `j.id, j.name, j.payload, j.state, j.run_at, j.attempts, j.max_attempts,
	j.lock_by, j.lock_at, j.last_error, j.done_at, j.created_at, j.updated_at`

// Enqueue persists env as pending and runnable now.
func (s *Store) Enqueue(ctx context.Context, env *job.Envelope) (id.JobID, error) {
	return s.insert(ctx, env, nil)
}

// Schedule persists env as pending at runAt.
func (s *Store) Schedule(ctx context.Context, env *job.Envelope, runAt time.Time) (id.JobID, error) {
	if runAt.IsZero() {
		return s.insert(ctx, env, nil)
	}
	return s.insert(ctx, env, &runAt)
}

func (s *Store) insert(ctx context.Context, env *job.Envelope, runAt *time.Time) (id.JobID, error) {
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

	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_jobs (id, name, payload, state, run_at, max_attempts)
		VALUES ($1, $2, $3, 'pending', COALESCE($4::timestamptz, NOW()), $5)`,
		env.ID.String(), env.Name, payload, runAt, env.MaxAttempts,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return id.Nil, conveyor.ErrJobAlreadyExists
		}
		return id.Nil, fmt.Errorf("conveyor/postgres: enqueue: %w", err)
	}
	return env.ID, nil
}

// FetchNext claims the earliest runnable job using FOR UPDATE SKIP LOCKED.
// Stalled jobs with no attempts left are killed first.
func (s *Store) FetchNext(ctx context.Context, workerID id.WorkerID, names ...string) (*job.Envelope, error) {
	secs := s.lockTimeout.Seconds()
	filter := textArray(names)

	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET state = 'killed', last_error = 'lock expired with no attempts left',
			done_at = NOW(), updated_at = NOW()
		WHERE state = 'running'
		  AND lock_at <= NOW() - make_interval(secs => $1)
		  AND attempts >= max_attempts
		  AND (cardinality($2::text[]) = 0 OR name = ANY($2::text[]))`,
		secs, filter,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: kill exhausted: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Warn("killed stalled jobs with no attempts left", slog.Int64("count", n))
	}

	row := s.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id FROM conveyor_jobs
			WHERE (cardinality($2::text[]) = 0 OR name = ANY($2::text[]))
			  AND (
				(state IN ('pending', 'failed') AND run_at <= NOW())
				OR (state = 'running'
					AND lock_at <= NOW() - make_interval(secs => $1)
					AND attempts < max_attempts)
			  )
			ORDER BY run_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE conveyor_jobs j
		SET state = 'running', attempts = j.attempts + 1,
			lock_by = $3, lock_at = NOW(), updated_at = NOW()
		FROM next
		WHERE j.id = next.id
		RETURNING `+claimedColumns,
		secs, filter, workerID.String(),
	)

	env, err := scanEnvelope(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conveyor/postgres: fetch next: %w", err)
	}
	return env, nil
}

// Ack moves a held job to done.
func (s *Store) Ack(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET state = 'done', done_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = 'running' AND lock_by = $2`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: ack: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.staleOrMissing(ctx, jobID, "ack")
	}
	return nil
}

// Retry releases a held job for another attempt, or kills it when no
// attempts remain.
func (s *Store) Retry(ctx context.Context, jobID id.JobID, workerID id.WorkerID, opts job.RetryOpts) (job.State, error) {
	var runAt *time.Time
	if !opts.RunAt.IsZero() {
		runAt = &opts.RunAt
	}

	var state string
	err := s.pool.QueryRow(ctx, `
		UPDATE conveyor_jobs SET
			state      = CASE WHEN attempts < max_attempts THEN $3::text ELSE 'killed' END,
			run_at     = CASE WHEN attempts < max_attempts THEN COALESCE($4::timestamptz, NOW()) ELSE run_at END,
			lock_by    = CASE WHEN attempts < max_attempts THEN '' ELSE lock_by END,
			lock_at    = CASE WHEN attempts < max_attempts THEN NULL ELSE lock_at END,
			done_at    = CASE WHEN attempts < max_attempts THEN NULL ELSE NOW() END,
			last_error = $5,
			updated_at = NOW()
		WHERE id = $1 AND state = 'running' AND lock_by = $2
		RETURNING state`,
		jobID.String(), workerID.String(), string(job.RetryState(opts.Fault != "")), runAt, opts.Fault,
	).Scan(&state)
	if err != nil {
		if isNoRows(err) {
			return "", s.staleOrMissing(ctx, jobID, "retry")
		}
		return "", fmt.Errorf("conveyor/postgres: retry: %w", err)
	}
	return job.State(state), nil
}

// Kill moves a running job to killed. A Nil opts.WorkerID skips the
// holder check.
func (s *Store) Kill(ctx context.Context, jobID id.JobID, opts job.KillOpts) error {
	holder := ""
	if !opts.WorkerID.IsNil() {
		holder = opts.WorkerID.String()
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET state = 'killed', last_error = $3, done_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = 'running' AND ($2::text = '' OR lock_by = $2::text)`,
		jobID.String(), holder, opts.Reason,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: kill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.staleOrMissing(ctx, jobID, "kill")
	}
	return nil
}

// Heartbeat renews the lock of a held job.
func (s *Store) Heartbeat(ctx context.Context, workerID id.WorkerID, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET lock_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = 'running' AND lock_by = $2`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.staleOrMissing(ctx, jobID, "heartbeat")
	}
	return nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Envelope, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM conveyor_jobs WHERE id = $1`,
		jobID.String(),
	)
	env, err := scanEnvelope(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get: %w", err)
	}
	return env, nil
}

// List returns jobs matching opts ordered by run_at then id.
func (s *Store) List(ctx context.Context, opts job.ListOpts) ([]*job.Envelope, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM conveyor_jobs
		WHERE ($1::text = '' OR state = $1::text)
		  AND ($2::text = '' OR name = $2::text)
		ORDER BY run_at, id
		LIMIT $3 OFFSET $4`,
		string(opts.State), opts.Name, nullableLimit(opts.Limit), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list: %w", err)
	}
	defer rows.Close()

	return collectEnvelopes(rows)
}

// Count returns the number of jobs matching opts.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM conveyor_jobs
		WHERE ($1::text = '' OR state = $1::text)
		  AND ($2::text = '' OR name = $2::text)`,
		string(opts.State), opts.Name,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count: %w", err)
	}
	return n, nil
}

// staleOrMissing explains a guarded update that matched no row.
func (s *Store) staleOrMissing(ctx context.Context, jobID id.JobID, op string) error {
	var state string
	err := s.pool.QueryRow(ctx, `SELECT state FROM conveyor_jobs WHERE id = $1`, jobID.String()).Scan(&state)
	if err != nil {
		if isNoRows(err) {
			return conveyor.ErrJobNotFound
		}
		return fmt.Errorf("conveyor/postgres: %s: %w", op, err)
	}
	return &conveyor.StaleTransitionError{JobID: jobID.String(), Op: op, State: state}
}

func scanEnvelope(row pgx.Row) (*job.Envelope, error) {
	var (
		env      job.Envelope
		idStr    string
		stateStr string
		lockBy   string
	)
	err := row.Scan(
		&idStr, &env.Name, &env.Payload, &stateStr, &env.RunAt,
		&env.Attempts, &env.MaxAttempts,
		&lockBy, &env.LockAt, &env.LastError, &env.DoneAt,
		&env.CreatedAt, &env.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse job id %q: %w", idStr, err)
	}
	env.ID = parsedID
	env.State = job.State(stateStr)
	env.LockBy, err = id.ParseOptional(lockBy)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse lock_by %q: %w", lockBy, err)
	}
	normalizeTimes(&env)
	return &env, nil
}

func collectEnvelopes(rows pgx.Rows) ([]*job.Envelope, error) {
	envs := []*job.Envelope{}
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan row: %w", err)
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: rows: %w", err)
	}
	return envs, nil
}

func normalizeTimes(env *job.Envelope) {
	env.RunAt = env.RunAt.UTC()
	env.CreatedAt = env.CreatedAt.UTC()
	env.UpdatedAt = env.UpdatedAt.UTC()
	if env.LockAt != nil {
		t := env.LockAt.UTC()
		env.LockAt = &t
	}
	if env.DoneAt != nil {
		t := env.DoneAt.UTC()
		env.DoneAt = &t
	}
}
