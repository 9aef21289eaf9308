package repo

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"listingopt/internal/domain"
	"listingopt/internal/infra"
)

// DefaultCapacity bounds the number of jobs kept in memory.
const DefaultCapacity = 1000

// MemoryOptions configures the in-memory repository.
type MemoryOptions struct {
	Capacity int
	Now      func() time.Time
	Logger   *infra.Logger
}

// MemoryJobRepository implements domain.JobRepository on a process-local map.
// State is lost on restart.
type MemoryJobRepository struct {
	mu       sync.RWMutex
	jobs     map[string]*domain.Job
	capacity int
	now      func() time.Time
	logger   *infra.Logger
}

// NewMemoryJobRepository creates an empty in-memory job repository.
func NewMemoryJobRepository(opts MemoryOptions) *MemoryJobRepository {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &MemoryJobRepository{
		jobs:     make(map[string]*domain.Job),
		capacity: capacity,
		now:      now,
		logger:   infra.OrNop(opts.Logger),
	}
}

// Create stores a new job. Re-creating an existing id behaves as Update.
func (r *MemoryJobRepository) Create(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return r.updateLocked(job)
	}
	if len(r.jobs) >= r.capacity {
		r.evictLocked()
	}

	now := r.now()
	stored := job.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.jobs[stored.ID] = stored
	return nil
}

// FindByID returns a copy of the stored job.
func (r *MemoryJobRepository) FindByID(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

// Update replaces the stored job and bumps UpdatedAt.
func (r *MemoryJobRepository) Update(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return errors.New("job is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(job)
}

func (r *MemoryJobRepository) updateLocked(job *domain.Job) error {
	existing, ok := r.jobs[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if existing.Status.IsTerminal() {
		return domain.ErrJobTerminal
	}
	if !domain.CanTransition(existing.Status, job.Status) {
		return domain.ErrInvalidTransition
	}

	now := r.now()
	stored := job.Clone()
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = now
	if stored.Status.IsTerminal() && stored.CompletedAt == nil {
		stored.CompletedAt = &now
	}
	r.jobs[job.ID] = stored
	return nil
}

// UpdateStatus changes only the status (and error message) of a job.
func (r *MemoryJobRepository) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return domain.ErrJobTerminal
	}
	if !domain.CanTransition(job.Status, status) {
		return domain.ErrInvalidTransition
	}

	now := r.now()
	job.Status = status
	job.UpdatedAt = now
	if errMsg != "" {
		job.Error = errMsg
	}
	if status.IsTerminal() {
		job.CompletedAt = &now
	}
	return nil
}

// FindByStatus returns copies of all jobs with the given status, oldest first.
func (r *MemoryJobRepository) FindByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	return r.filter(func(j *domain.Job) bool { return j.Status == status }), nil
}

// FindExpiredJobs returns copies of jobs created more than olderThan ago.
func (r *MemoryJobRepository) FindExpiredJobs(ctx context.Context, olderThan time.Duration) ([]*domain.Job, error) {
	cutoff := r.now().Add(-olderThan)
	return r.filter(func(j *domain.Job) bool { return j.CreatedAt.Before(cutoff) }), nil
}

// Delete removes a job. Unknown ids are ignored.
func (r *MemoryJobRepository) Delete(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
	return nil
}

// Count returns the number of stored jobs.
func (r *MemoryJobRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs), nil
}

func (r *MemoryJobRepository) filter(keep func(*domain.Job) bool) []*domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Job
	for _, j := range r.jobs {
		if keep(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// evictLocked drops the oldest tenth of the jobs (at least one).
func (r *MemoryJobRepository) evictLocked() {
	all := make([]*domain.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		all = append(all, j)
	}
	sort.Slice(all, func(i, k int) bool { return all[i].CreatedAt.Before(all[k].CreatedAt) })

	n := len(all) / 10
	if n < 1 {
		n = 1
	}
	for _, j := range all[:n] {
		delete(r.jobs, j.ID)
	}
	r.logger.Info().Int("evicted", n).Int("capacity", r.capacity).Msg("repo: evicted oldest jobs")
}

var _ domain.JobRepository = (*MemoryJobRepository)(nil)
