package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Enqueue stores the job as a Hash and adds it to its name's queue.
func (s *Store) Enqueue(ctx context.Context, env *job.Envelope) (id.JobID, error) {
	return s.Schedule(ctx, env, time.Time{})
}

// Schedule is Enqueue with an explicit run_at. A zero runAt means now.
func (s *Store) Schedule(ctx context.Context, env *job.Envelope, runAt time.Time) (id.JobID, error) {
	now := time.Now().UTC()
	if runAt.IsZero() {
		runAt = now
	}
	if env.ID.IsNil() {
		env.ID = id.NewJobID()
	}
	if env.MaxAttempts <= 0 {
		env.MaxAttempts = s.maxAttempts
	}
	jID := env.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return id.Nil, fmt.Errorf("conveyor/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return id.Nil, conveyor.ErrJobAlreadyExists
	}

	runAt = runAt.UTC()
	fields := map[string]any{
		"id":           jID,
		"name":         env.Name,
		"payload":      string(env.Payload),
		"state":        string(job.StatePending),
		"run_at":       formatTime(runAt),
		"run_at_ms":    strconv.FormatInt(runAt.UnixMilli(), 10),
		"attempts":     "0",
		"max_attempts": strconv.Itoa(env.MaxAttempts),
		"lock_by":      "",
		"lock_at":      "",
		"last_error":   "",
		"done_at":      "",
		"created_at":   formatTime(now),
		"updated_at":   formatTime(now),
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, jobIDsKey, jID)
	pipe.SAdd(ctx, namesKey, env.Name)
	pipe.ZAdd(ctx, queueKey(env.Name), goredis.Z{Score: float64(runAt.UnixMilli()), Member: jID})
	if _, err := pipe.Exec(ctx); err != nil {
		return id.Nil, fmt.Errorf("conveyor/redis: enqueue: %w", err)
	}
	return env.ID, nil
}

// FetchNext claims the earliest claimable job with a Lua script.
func (s *Store) FetchNext(ctx context.Context, workerID id.WorkerID, names ...string) (*job.Envelope, error) {
	if len(names) == 0 {
		all, err := s.client.SMembers(ctx, namesKey).Result()
		if err != nil {
			return nil, fmt.Errorf("conveyor/redis: fetch names: %w", err)
		}
		names = all
	}
	if len(names) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, 2*len(names))
	for _, n := range names {
		keys = append(keys, queueKey(n), runningKey(n))
	}

	now := time.Now().UTC()
	jID, err := fetchScript.Run(ctx, s.client, keys,
		now.UnixMilli(), s.lockTimeout.Milliseconds(), workerID.String(), formatTime(now), jobKeyPrefix,
	).Text()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("conveyor/redis: fetch next: %w", err)
	}
	return s.get(ctx, jID)
}

// Ack moves a held job to done.
func (s *Store) Ack(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	_, err := s.transition(ctx, ackScript, "ack", jobID, workerID.String())
	return err
}

// Retry releases a held job for another attempt, or kills it when no
// attempts remain.
func (s *Store) Retry(ctx context.Context, jobID id.JobID, workerID id.WorkerID, opts job.RetryOpts) (job.State, error) {
	runAt := opts.RunAt.UTC()
	if opts.RunAt.IsZero() {
		runAt = time.Now().UTC()
	}
	state := job.RetryState(opts.Fault != "")
	return s.transition(ctx, retryScript, "retry", jobID, workerID.String(),
		string(state), runAt.UnixMilli(), formatTime(runAt), opts.Fault,
	)
}

// Kill moves a running job to killed. A Nil opts.WorkerID skips the
// holder check.
func (s *Store) Kill(ctx context.Context, jobID id.JobID, opts job.KillOpts) error {
	holder := ""
	if !opts.WorkerID.IsNil() {
		holder = opts.WorkerID.String()
	}
	_, err := s.transition(ctx, killScript, "kill", jobID, holder, opts.Reason)
	return err
}

// Heartbeat renews the lock of a held job.
func (s *Store) Heartbeat(ctx context.Context, workerID id.WorkerID, jobID id.JobID) error {
	_, err := s.transition(ctx, heartbeatScript, "heartbeat", jobID, workerID.String(), time.Now().UnixMilli())
	return err
}

// transition runs a guarded script. Every such script takes the worker id,
// the current time and the key prefix first, followed by extra.
func (s *Store) transition(ctx context.Context, script *goredis.Script, op string, jobID id.JobID, holder string, extra ...any) (job.State, error) {
	args := append([]any{holder, formatTime(time.Now().UTC()), keyPrefix}, extra...)
	reply, err := script.Run(ctx, s.client, []string{jobKey(jobID.String())}, args...).Text()
	if err != nil {
		return "", fmt.Errorf("conveyor/redis: %s: %w", op, err)
	}

	switch {
	case reply == "missing":
		return "", conveyor.ErrJobNotFound
	case strings.HasPrefix(reply, "stale:"):
		return "", &conveyor.StaleTransitionError{
			JobID: jobID.String(),
			Op:    op,
			State: strings.TrimPrefix(reply, "stale:"),
		}
	case strings.HasPrefix(reply, "ok:"):
		return job.State(strings.TrimPrefix(reply, "ok:")), nil
	default:
		return "", nil
	}
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Envelope, error) {
	return s.get(ctx, jobID.String())
}

// List returns jobs matching opts ordered by run_at then id.
func (s *Store) List(ctx context.Context, opts job.ListOpts) ([]*job.Envelope, error) {
	envs, err := s.scan(ctx, opts.State, opts.Name)
	if err != nil {
		return nil, err
	}
	sort.Slice(envs, func(i, k int) bool {
		if !envs[i].RunAt.Equal(envs[k].RunAt) {
			return envs[i].RunAt.Before(envs[k].RunAt)
		}
		return envs[i].ID.String() < envs[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(envs) {
			return []*job.Envelope{}, nil
		}
		envs = envs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(envs) {
		envs = envs[:opts.Limit]
	}
	return envs, nil
}

// Count returns the number of jobs matching opts.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	envs, err := s.scan(ctx, opts.State, opts.Name)
	if err != nil {
		return 0, err
	}
	return int64(len(envs)), nil
}

// scan loads every job hash in one pipeline and filters it.
func (s *Store) scan(ctx context.Context, state job.State, name string) ([]*job.Envelope, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list smembers: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(jID))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("conveyor/redis: list hgetall: %w", err)
		}
	}

	envs := make([]*job.Envelope, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		env, err := mapToEnvelope(vals)
		if err != nil {
			return nil, err
		}
		if state != "" && env.State != state {
			continue
		}
		if name != "" && env.Name != name {
			continue
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (s *Store) get(ctx context.Context, jID string) (*job.Envelope, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jID)).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrJobNotFound
	}
	return mapToEnvelope(vals)
}

// ── helpers ──

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func mapToEnvelope(m map[string]string) (*job.Envelope, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse job id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempts"])        //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"]) //nolint:errcheck // best-effort parse from trusted Redis data

	env := &job.Envelope{
		ID:          jID,
		Name:        m["name"],
		Payload:     []byte(m["payload"]),
		State:       job.State(m["state"]),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		LockAt:      parseTime(m["lock_at"]),
		LastError:   m["last_error"],
		DoneAt:      parseTime(m["done_at"]),
	}
	if t := parseTime(m["run_at"]); t != nil {
		env.RunAt = *t
	}
	if t := parseTime(m["created_at"]); t != nil {
		env.CreatedAt = *t
	}
	if t := parseTime(m["updated_at"]); t != nil {
		env.UpdatedAt = *t
	}
	if holder := m["lock_by"]; holder != "" {
		if env.LockBy, err = id.ParseWorkerID(holder); err != nil {
			return nil, fmt.Errorf("conveyor/redis: parse lock_by %q: %w", holder, err)
		}
	}
	return env, nil
}
