package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"listingopt/internal/domain"
	"listingopt/internal/infra"
)

const (
	defaultKeyPrefix = "listingopt"
	maxTxRetries     = 5
)

// RedisOptions configures the Redis-backed repository.
type RedisOptions struct {
	// Prefix namespaces every key; defaults to "listingopt".
	Prefix    string
	Capacity  int
	Retention time.Duration
	Now       func() time.Time
	Logger    *infra.Logger
}

// RedisJobRepository implements domain.JobRepository on Redis.
// Jobs are JSON documents at <prefix>:job:<id>; a sorted set at <prefix>:jobs
// indexes ids by creation time.
type RedisJobRepository struct {
	rdb       redis.UniversalClient
	prefix    string
	capacity  int
	retention time.Duration
	now       func() time.Time
	logger    *infra.Logger
}

// NewRedisJobRepository creates a repository using the provided client.
func NewRedisJobRepository(rdb redis.UniversalClient, opts RedisOptions) *RedisJobRepository {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &RedisJobRepository{
		rdb:       rdb,
		prefix:    prefix,
		capacity:  capacity,
		retention: opts.Retention,
		now:       now,
		logger:    infra.OrNop(opts.Logger),
	}
}

func (r *RedisJobRepository) jobKey(id string) string { return r.prefix + ":job:" + id }
func (r *RedisJobRepository) indexKey() string { return r.prefix + ":jobs" }

// Create stores a new job. Re-creating an existing id behaves as Update.
func (r *RedisJobRepository) Create(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	exists, err := r.rdb.Exists(ctx, r.jobKey(job.ID)).Result()
	if err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if exists > 0 {
		return r.Update(ctx, job)
	}

	if err := r.evictIfFull(ctx); err != nil {
		return err
	}

	now := r.now()
	stored := job.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.jobKey(stored.ID), payload, r.retention)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(stored.CreatedAt.UnixNano()), Member: stored.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// FindByID returns the stored job.
func (r *RedisJobRepository) FindByID(ctx context.Context, jobID string) (*domain.Job, error) {
	raw, err := r.rdb.Get(ctx, r.jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return decodeJob(raw)
}

// Update replaces the stored job and bumps UpdatedAt.
func (r *RedisJobRepository) Update(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return errors.New("job is required")
	}
	return r.mutate(ctx, job.ID, func(existing *domain.Job, now time.Time) (*domain.Job, error) {
		if !domain.CanTransition(existing.Status, job.Status) {
			return nil, domain.ErrInvalidTransition
		}
		stored := job.Clone()
		stored.CreatedAt = existing.CreatedAt
		stored.UpdatedAt = now
		if stored.Status.IsTerminal() && stored.CompletedAt == nil {
			stored.CompletedAt = &now
		}
		return stored, nil
	})
}

// UpdateStatus changes only the status (and error message) of a job.
func (r *RedisJobRepository) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) error {
	return r.mutate(ctx, jobID, func(existing *domain.Job, now time.Time) (*domain.Job, error) {
		if !domain.CanTransition(existing.Status, status) {
			return nil, domain.ErrInvalidTransition
		}
		existing.Status = status
		existing.UpdatedAt = now
		if errMsg != "" {
			existing.Error = errMsg
		}
		if status.IsTerminal() {
			existing.CompletedAt = &now
		}
		return existing, nil
	})
}

// mutate applies fn under WATCH so concurrent writers cannot overwrite a
// terminal job.
func (r *RedisJobRepository) mutate(ctx context.Context, jobID string, fn func(*domain.Job, time.Time) (*domain.Job, error)) error {
	key := r.jobKey(jobID)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		existing, err := decodeJob(raw)
		if err != nil {
			return err
		}
		if existing.Status.IsTerminal() {
			return domain.ErrJobTerminal
		}
		next, err := fn(existing, r.now())
		if err != nil {
			return err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update job %s: %w", jobID, redis.TxFailedErr)
}

// FindByStatus returns all jobs with the given status, oldest first.
func (r *RedisJobRepository) FindByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	ids, err := r.rdb.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := jobs[:0]
	for _, j := range jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

// FindExpiredJobs returns jobs created more than olderThan ago.
func (r *RedisJobRepository) FindExpiredJobs(ctx context.Context, olderThan time.Duration) ([]*domain.Job, error) {
	cutoff := r.now().Add(-olderThan).UnixNano()
	ids, err := r.rdb.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	return r.load(ctx, ids)
}

// Delete removes a job and its index entry.
func (r *RedisJobRepository) Delete(ctx context.Context, jobID string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.jobKey(jobID))
		pipe.ZRem(ctx, r.indexKey(), jobID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// Count returns the number of indexed jobs.
func (r *RedisJobRepository) Count(ctx context.Context) (int, error) {
	n, err := r.rdb.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return int(n), nil
}

// load fetches jobs by id in index order. Ids whose document already expired
// are pruned from the index.
func (r *RedisJobRepository) load(ctx context.Context, ids []string) ([]*domain.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.jobKey(id)
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(values))
	var stale []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		job, err := decodeJob([]byte(s))
		if err != nil {
			r.logger.Warn().Err(err).Str("job_id", ids[i]).Msg("repo: skipping undecodable job")
			continue
		}
		jobs = append(jobs, job)
	}
	if len(stale) > 0 {
		if err := r.rdb.ZRem(ctx, r.indexKey(), stale...).Err(); err != nil {
			r.logger.Warn().Err(err).Int("stale", len(stale)).Msg("repo: prune index failed")
		}
	}
	return jobs, nil
}

// evictIfFull drops the oldest tenth of the jobs (at least one) when the index
// is at capacity.
func (r *RedisJobRepository) evictIfFull(ctx context.Context) error {
	n, err := r.rdb.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("count jobs: %w", err)
	}
	if int(n) < r.capacity {
		return nil
	}
	evict := n / 10
	if evict < 1 {
		evict = 1
	}
	ids, err := r.rdb.ZRange(ctx, r.indexKey(), 0, evict-1).Result()
	if err != nil {
		return fmt.Errorf("list oldest jobs: %w", err)
	}
	for _, id := range ids {
		if err := r.Delete(ctx, id); err != nil {
			return err
		}
	}
	r.logger.Info().Int("evicted", len(ids)).Int("capacity", r.capacity).Msg("repo: evicted oldest jobs")
	return nil
}

func decodeJob(raw []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

var _ domain.JobRepository = (*RedisJobRepository)(nil)
