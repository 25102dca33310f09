package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Enqueue persists env as pending and runnable now.
func (s *Store) Enqueue(ctx context.Context, env *job.Envelope) (id.JobID, error) {
	return s.Schedule(ctx, env, time.Time{})
}

// Schedule persists env as pending at runAt. A zero runAt means now.
func (s *Store) Schedule(ctx context.Context, env *job.Envelope, runAt time.Time) (id.JobID, error) {
	t := now()
	if runAt.IsZero() {
		runAt = t
	}
	if env.ID.IsNil() {
		env.ID = id.NewJobID()
	}
	if env.MaxAttempts <= 0 {
		env.MaxAttempts = s.maxAttempts
	}

	m := &jobModel{
		ID:          env.ID.String(),
		Name:        env.Name,
		Payload:     env.Payload,
		State:       string(job.StatePending),
		RunAt:       runAt.UTC(),
		MaxAttempts: env.MaxAttempts,
		CreatedAt:   t,
		UpdatedAt:   t,
	}
	if _, err := s.jobs().InsertOne(ctx, m); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return id.Nil, conveyor.ErrJobAlreadyExists
		}
		return id.Nil, fmt.Errorf("conveyor/mongo: enqueue: %w", err)
	}
	return env.ID, nil
}

// FetchNext claims the earliest claimable job with FindOneAndUpdate.
// Stalled jobs with no attempts left are killed first.
func (s *Store) FetchNext(ctx context.Context, workerID id.WorkerID, names ...string) (*job.Envelope, error) {
	t := now()
	cutoff := t.Add(-s.lockTimeout)

	exhausted := bson.M{
		"state":   string(job.StateRunning),
		"lock_at": bson.M{"$lte": cutoff},
		"$expr":   bson.M{"$gte": bson.A{"$attempts", "$max_attempts"}},
	}
	withNames(exhausted, names)
	res, err := s.jobs().UpdateMany(ctx, exhausted, bson.M{"$set": bson.M{
		"state":      string(job.StateKilled),
		"last_error": "lock expired with no attempts left",
		"done_at":    t,
		"updated_at": t,
	}})
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: kill exhausted: %w", err)
	}
	if res.ModifiedCount > 0 {
		s.logger.Warn("killed stalled jobs with no attempts left", slog.Int64("count", res.ModifiedCount))
	}

	filter := bson.M{
		"$or": bson.A{
			bson.M{
				"state":  bson.M{"$in": bson.A{string(job.StatePending), string(job.StateFailed)}},
				"run_at": bson.M{"$lte": t},
			},
			bson.M{
				"state":   string(job.StateRunning),
				"lock_at": bson.M{"$lte": cutoff},
				"$expr":   bson.M{"$lt": bson.A{"$attempts", "$max_attempts"}},
			},
		},
	}
	withNames(filter, names)

	update := bson.M{
		"$set": bson.M{
			"state":      string(job.StateRunning),
			"lock_by":    workerID.String(),
			"lock_at":    t,
			"updated_at": t,
		},
		"$inc": bson.M{"attempts": 1},
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "run_at", Value: 1},
			{Key: "_id", Value: 1},
		})

	var m jobModel
	if err := s.jobs().FindOneAndUpdate(ctx, filter, update, opts).Decode(&m); err != nil {
		if errors.Is(err, mongod.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("conveyor/mongo: fetch next: %w", err)
	}
	return fromJobModel(&m)
}

// Ack moves a held job to done.
func (s *Store) Ack(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	t := now()
	return s.guarded(ctx, "ack", jobID, workerID, bson.M{"$set": bson.M{
		"state":      string(job.StateDone),
		"done_at":    t,
		"updated_at": t,
	}})
}

// Retry releases a held job for another attempt, or kills it when no
// attempts remain. The decision is made by a pipeline update.
func (s *Store) Retry(ctx context.Context, jobID id.JobID, workerID id.WorkerID, opts job.RetryOpts) (job.State, error) {
	t := now()
	runAt := opts.RunAt.UTC()
	if opts.RunAt.IsZero() {
		runAt = t
	}
	hasAttempts := bson.M{"$lt": bson.A{"$attempts", "$max_attempts"}}
	cond := func(then, otherwise any) bson.M {
		return bson.M{"$cond": bson.A{hasAttempts, then, otherwise}}
	}
	literal := func(v any) bson.M { return bson.M{"$literal": v} }

	pipeline := mongod.Pipeline{
		{{Key: "$set", Value: bson.M{
			"state":      cond(literal(string(job.RetryState(opts.Fault != ""))), literal(string(job.StateKilled))),
			"run_at":     cond(literal(runAt), "$run_at"),
			"lock_by":    cond(literal(""), "$lock_by"),
			"lock_at":    cond(nil, "$lock_at"),
			"done_at":    cond(nil, literal(t)),
			"last_error": literal(opts.Fault),
			"updated_at": literal(t),
		}}},
	}

	filter := bson.M{"_id": jobID.String(), "state": string(job.StateRunning), "lock_by": workerID.String()}
	var m jobModel
	err := s.jobs().FindOneAndUpdate(ctx, filter, pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&m)
	if err != nil {
		if errors.Is(err, mongod.ErrNoDocuments) {
			return "", s.staleOrMissing(ctx, jobID, "retry")
		}
		return "", fmt.Errorf("conveyor/mongo: retry: %w", err)
	}
	return job.State(m.State), nil
}

// Kill moves a running job to killed. A Nil opts.WorkerID skips the
// holder check.
func (s *Store) Kill(ctx context.Context, jobID id.JobID, opts job.KillOpts) error {
	t := now()
	return s.guarded(ctx, "kill", jobID, opts.WorkerID, bson.M{"$set": bson.M{
		"state":      string(job.StateKilled),
		"last_error": opts.Reason,
		"done_at":    t,
		"updated_at": t,
	}})
}

// Heartbeat renews the lock of a held job.
func (s *Store) Heartbeat(ctx context.Context, workerID id.WorkerID, jobID id.JobID) error {
	t := now()
	return s.guarded(ctx, "heartbeat", jobID, workerID, bson.M{"$set": bson.M{
		"lock_at":    t,
		"updated_at": t,
	}})
}

// guarded applies update to a running job, also matching lock_by unless
// workerID is Nil.
func (s *Store) guarded(ctx context.Context, op string, jobID id.JobID, workerID id.WorkerID, update bson.M) error {
	filter := bson.M{"_id": jobID.String(), "state": string(job.StateRunning)}
	if !workerID.IsNil() {
		filter["lock_by"] = workerID.String()
	}
	res, err := s.jobs().UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: %s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return s.staleOrMissing(ctx, jobID, op)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Envelope, error) {
	var m jobModel
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongod.ErrNoDocuments) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/mongo: get: %w", err)
	}
	return fromJobModel(&m)
}

// List returns jobs matching opts ordered by run_at then _id.
func (s *Store) List(ctx context.Context, opts job.ListOpts) ([]*job.Envelope, error) {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "run_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cursor, err := s.jobs().Find(ctx, matchFilter(opts.State, opts.Name), findOpts)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list: %w", err)
	}
	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list decode: %w", err)
	}

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

// Count returns the number of jobs matching opts.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	n, err := s.jobs().CountDocuments(ctx, matchFilter(opts.State, opts.Name))
	if err != nil {
		return 0, fmt.Errorf("conveyor/mongo: count: %w", err)
	}
	return n, nil
}

// staleOrMissing explains a guarded update that matched no document.
func (s *Store) staleOrMissing(ctx context.Context, jobID id.JobID, op string) error {
	var m struct {
		State string `bson:"state"`
	}
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()},
		options.FindOne().SetProjection(bson.M{"state": 1})).Decode(&m)
	if err != nil {
		if errors.Is(err, mongod.ErrNoDocuments) {
			return conveyor.ErrJobNotFound
		}
		return fmt.Errorf("conveyor/mongo: %s: %w", op, err)
	}
	return &conveyor.StaleTransitionError{JobID: jobID.String(), Op: op, State: m.State}
}

func withNames(filter bson.M, names []string) {
	if len(names) > 0 {
		filter["name"] = bson.M{"$in": names}
	}
}

func matchFilter(state job.State, name string) bson.M {
	filter := bson.M{}
	if state != "" {
		filter["state"] = string(state)
	}
	if name != "" {
		filter["name"] = name
	}
	return filter
}
