package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"listingopt/internal/domain"
	"listingopt/internal/infra"
)

// DefaultStatusCacheTTL is how long terminal snapshots are served from cache.
const DefaultStatusCacheTTL = 5 * time.Minute

// ErrStatusUnavailable wraps job store failures other than not-found.
var ErrStatusUnavailable = errors.New("job status unavailable")

// ProgressMetadata carries timestamps and per-image counters.
type ProgressMetadata struct {
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	TotalImages     int        `json:"totalImages"`
	CompletedImages int        `json:"completedImages"`
	FailedImages    int        `json:"failedImages"`
}

// JobProgress is the client-facing status snapshot. Job, Images and
// ImagePairs are only set once the job is completed or failed.
type JobProgress struct {
	JobID       string             `json:"jobId"`
	Status      domain.JobStatus   `json:"status"`
	Progress    domain.Progress    `json:"progress"`
	CurrentStep string             `json:"currentStep"`
	Error       string             `json:"error,omitempty"`
	Metadata    *ProgressMetadata  `json:"metadata,omitempty"`
	Job         *domain.Job        `json:"job,omitempty"`
	Images      []domain.Photo     `json:"images,omitzero"`
	ImagePairs  []domain.ImagePair `json:"imagePairs,omitzero"`
}

func (p *JobProgress) clone() *JobProgress {
	out := *p
	if p.Metadata != nil {
		m := *p.Metadata
		out.Metadata = &m
	}
	out.Job = p.Job.Clone()
	if p.Images != nil {
		out.Images = make([]domain.Photo, len(p.Images))
		for i, img := range p.Images {
			out.Images[i] = img.Clone()
		}
	}
	if p.ImagePairs != nil {
		out.ImagePairs = make([]domain.ImagePair, len(p.ImagePairs))
		for i, pair := range p.ImagePairs {
			out.ImagePairs[i] = pair.Clone()
		}
	}
	return &out
}

var currentSteps = map[domain.JobStatus]string{
	domain.JobStatusPending:    "Queued for processing",
	domain.JobStatusScraping:   "Fetching listing photos",
	domain.JobStatusProcessing: "Analyzing and enhancing photos",
	domain.JobStatusCompleted:  "Optimization complete",
	domain.JobStatusFailed:     "Optimization failed",
	domain.JobStatusCancelled:  "Optimization cancelled",
}

// CurrentStep returns the human-readable step for a status.
func CurrentStep(status domain.JobStatus) string {
	if s, ok := currentSteps[status]; ok {
		return s
	}
	return "Unknown"
}

type cacheEntry struct {
	progress *JobProgress
	expires  time.Time
}

// StatusReaderOptions configures a StatusReader.
type StatusReaderOptions struct {
	TTL    time.Duration
	Now    func() time.Time
	Logger *infra.Logger
}

// StatusReader builds progress snapshots and caches those of finished jobs.
type StatusReader struct {
	repo   domain.JobRepository
	ttl    time.Duration
	now    func() time.Time
	logger *infra.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewStatusReader constructs a status reader over the repository.
func NewStatusReader(repo domain.JobRepository, opts StatusReaderOptions) *StatusReader {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultStatusCacheTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &StatusReader{
		repo:   repo,
		ttl:    ttl,
		now:    now,
		logger: infra.OrNop(opts.Logger),
		cache:  make(map[string]cacheEntry),
	}
}

// Get returns the progress snapshot for a job. Unknown ids yield an error
// wrapping domain.ErrNotFound; other store failures wrap ErrStatusUnavailable.
func (r *StatusReader) Get(ctx context.Context, jobID string) (*JobProgress, error) {
	if p, ok := r.cached(jobID); ok {
		return p, nil
	}

	job, err := r.repo.FindByID(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("status read failed")
		return nil, fmt.Errorf("%w: %v", ErrStatusUnavailable, err)
	}

	progress := buildProgress(job)
	if cacheable(job.Status) {
		r.mu.Lock()
		r.cache[jobID] = cacheEntry{progress: progress, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
		return progress.clone(), nil
	}
	return progress, nil
}

// Invalidate drops one cached snapshot.
func (r *StatusReader) Invalidate(jobID string) {
	r.mu.Lock()
	delete(r.cache, jobID)
	r.mu.Unlock()
}

// Clear drops every cached snapshot.
func (r *StatusReader) Clear() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}

func (r *StatusReader) cached(jobID string) (*JobProgress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[jobID]
	if !ok {
		return nil, false
	}
	if !r.now().Before(entry.expires) {
		delete(r.cache, jobID)
		return nil, false
	}
	return entry.progress.clone(), true
}

func cacheable(status domain.JobStatus) bool {
	return status == domain.JobStatusCompleted || status == domain.JobStatusFailed
}

func buildProgress(job *domain.Job) *JobProgress {
	p := &JobProgress{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: CurrentStep(job.Status),
		Error:       job.Error,
		Metadata: &ProgressMetadata{
			CreatedAt:       job.CreatedAt,
			UpdatedAt:       job.UpdatedAt,
			CompletedAt:     job.CompletedAt,
			TotalImages:     job.Progress.Total,
			CompletedImages: job.Progress.Completed,
			FailedImages:    job.Progress.Failed,
		},
	}
	if cacheable(job.Status) {
		p.Job = job
		p.Images = job.Images
		p.ImagePairs = job.ImagePairs
		if p.Images == nil {
			p.Images = []domain.Photo{}
		}
		if p.ImagePairs == nil {
			p.ImagePairs = []domain.ImagePair{}
		}
	}
	return p
}
