// Package jobs drives optimization jobs through their stages and serves
// progress snapshots to pollers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"listingopt/internal/domain"
	"listingopt/internal/infra"
	"listingopt/internal/providers/scraper"
	"listingopt/internal/resilience"
)

const (
	DefaultMaxImages = 10
	MinImages        = 1
	MaxImages        = 10
)

// ErrClosed is returned by Start after Shutdown.
var ErrClosed = errors.New("orchestrator is shut down")

// Breakers holds one circuit breaker per collaborator.
type Breakers struct {
	Scraper   *resilience.Breaker
	Analyzer  *resilience.Breaker
	Generator *resilience.Breaker
}

// DefaultBreakers returns the standard policies: scraper 3 failures / 60s,
// analyzer and generator 5 failures / 30s.
func DefaultBreakers(now func() time.Time) Breakers {
	return Breakers{
		Scraper:   resilience.NewBreaker(resilience.Policy{Name: "scraper", FailureThreshold: 3, Cooldown: 60 * time.Second}, now),
		Analyzer:  resilience.NewBreaker(resilience.Policy{Name: "analyzer", FailureThreshold: 5, Cooldown: 30 * time.Second}, now),
		Generator: resilience.NewBreaker(resilience.Policy{Name: "generator", FailureThreshold: 5, Cooldown: 30 * time.Second}, now),
	}
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Repo      domain.JobRepository
	Scraper   domain.Scraper
	Analyzer  domain.Analyzer
	Generator domain.Generator
	Breakers  Breakers
	// HTTPClient downloads source photos.
	HTTPClient          *http.Client
	ScrapeTimeout       time.Duration
	ScrapeRetry         resilience.RetryPolicy
	DownloadConcurrency int
	Logger              *infra.Logger
	NewID               func() string
	ValidateURL         func(string) error
	// OnFinish is called after a job reaches a terminal state.
	OnFinish func(jobID string, status domain.JobStatus)
}

// StartRequest is the input to Start.
type StartRequest struct {
	AirbnbURL string `json:"airbnbUrl"`
	MaxImages *int   `json:"maxImages,omitempty"`
}

// StartResponse is returned once the job is created; processing continues in
// the background.
type StartResponse struct {
	JobID   string      `json:"jobId"`
	Message string      `json:"message"`
	Job     *domain.Job `json:"job"`
}

// Orchestrator validates requests, creates jobs and runs each job's stage
// sequence on its own goroutine.
type Orchestrator struct {
	repo        domain.JobRepository
	scraper     domain.Scraper
	analyzer    domain.Analyzer
	generator   domain.Generator
	breakers    Breakers
	httpClient  *http.Client
	scrapeTO    time.Duration
	scrapeRetry resilience.RetryPolicy
	downloads   int
	logger      *infra.Logger
	newID       func() string
	validateURL func(string) error
	onFinish    func(string, domain.JobStatus)

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewOrchestrator constructs an orchestrator. Missing breakers, timeouts and
// helpers fall back to defaults.
func NewOrchestrator(opts Options) *Orchestrator {
	b := opts.Breakers
	def := DefaultBreakers(nil)
	if b.Scraper == nil {
		b.Scraper = def.Scraper
	}
	if b.Analyzer == nil {
		b.Analyzer = def.Analyzer
	}
	if b.Generator == nil {
		b.Generator = def.Generator
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	scrapeTO := opts.ScrapeTimeout
	if scrapeTO <= 0 {
		scrapeTO = 120 * time.Second
	}
	retry := opts.ScrapeRetry
	if retry.Attempts <= 0 {
		retry.Attempts = 3
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = time.Second
	}
	downloads := opts.DownloadConcurrency
	if downloads <= 0 {
		downloads = 4
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	validate := opts.ValidateURL
	if validate == nil {
		validate = scraper.ValidateListingURL
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		repo:        opts.Repo,
		scraper:     opts.Scraper,
		analyzer:    opts.Analyzer,
		generator:   opts.Generator,
		breakers:    b,
		httpClient:  client,
		scrapeTO:    scrapeTO,
		scrapeRetry: retry,
		downloads:   downloads,
		logger:      infra.OrNop(opts.Logger),
		newID:       newID,
		validateURL: validate,
		onFinish:    opts.OnFinish,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start validates the request, stores a pending job and returns immediately.
// The stage sequence runs in the background, detached from ctx.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	listingURL := strings.TrimSpace(req.AirbnbURL)
	if err := o.validateURL(listingURL); err != nil {
		if !errors.Is(err, domain.ErrInvalidURL) {
			err = fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
		}
		return nil, err
	}
	maxImages := DefaultMaxImages
	if req.MaxImages != nil {
		maxImages = *req.MaxImages
		if maxImages < MinImages || maxImages > MaxImages {
			return nil, fmt.Errorf("%w: must be between %d and %d", domain.ErrInvalidMaxImages, MinImages, MaxImages)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}

	job := &domain.Job{
		ID:         o.newID(),
		URL:        listingURL,
		Status:     domain.JobStatusPending,
		MaxImages:  maxImages,
		Images:     []domain.Photo{},
		ImagePairs: []domain.ImagePair{},
	}
	if err := o.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	snapshot, err := o.repo.FindByID(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(o.ctx, job.ID, listingURL, maxImages)
	}()

	o.logger.Info().Str("job_id", job.ID).Str("url", listingURL).Int("max_images", maxImages).Msg("job started")
	return &StartResponse{
		JobID:   job.ID,
		Message: "Photo optimization started. Poll the status endpoint for progress.",
		Job:     snapshot,
	}, nil
}

// RecoverInterrupted fails jobs left mid-flight by a previous process. It is
// meant to run once at startup, before Start is called.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	recovered := 0
	for _, status := range []domain.JobStatus{domain.JobStatusPending, domain.JobStatusScraping, domain.JobStatusProcessing} {
		stale, err := o.repo.FindByStatus(ctx, status)
		if err != nil {
			return recovered, fmt.Errorf("find %s jobs: %w", status, err)
		}
		for _, job := range stale {
			err := o.repo.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, "job interrupted by service restart")
			if err != nil && !errors.Is(err, domain.ErrJobTerminal) && !errors.Is(err, domain.ErrNotFound) {
				return recovered, fmt.Errorf("fail job %s: %w", job.ID, err)
			}
			recovered++
		}
	}
	if recovered > 0 {
		o.logger.Warn().Int("jobs", recovered).Msg("marked interrupted jobs as failed")
	}
	return recovered, nil
}

// Wait blocks until every running job has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown stops accepting jobs, cancels in-flight runs and waits for them to
// record their final status, or until ctx ends.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes one job. Errors not scoped to a single photo end the job as
// failed, or cancelled when the orchestrator is shutting down.
func (o *Orchestrator) run(ctx context.Context, jobID, listingURL string, maxImages int) {
	logger := o.logger.With().Str("job_id", jobID).Logger()
	start := time.Now()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("internal error: %v", r)
			}
		}()
		err = o.process(ctx, jobID, listingURL, maxImages, &logger)
	}()

	status := domain.JobStatusCompleted
	if err != nil {
		status = domain.JobStatusFailed
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			status = domain.JobStatusCancelled
		}
		o.finishWithError(jobID, status, err, &logger)
	}
	logger.Info().Str("status", string(status)).Dur("elapsed", time.Since(start)).Msg("job finished")
	if o.onFinish != nil {
		o.onFinish(jobID, status)
	}
}

func (o *Orchestrator) finishWithError(jobID string, status domain.JobStatus, cause error, logger *infra.Logger) {
	// The run context may already be cancelled; the final write must still land.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := cause.Error()
	if status == domain.JobStatusCancelled {
		msg = "job cancelled: service shutting down"
	}
	logger.Error().Err(cause).Str("status", string(status)).Msg("job aborted")
	if err := o.repo.UpdateStatus(ctx, jobID, status, msg); err != nil && !errors.Is(err, domain.ErrJobTerminal) {
		logger.Error().Err(err).Msg("failed to record job failure")
	}
}

func (o *Orchestrator) process(ctx context.Context, jobID, listingURL string, maxImages int, logger *infra.Logger) error {
	if err := o.repo.UpdateStatus(ctx, jobID, domain.JobStatusScraping, ""); err != nil {
		return fmt.Errorf("mark scraping: %w", err)
	}
	logger.Debug().Str("stage", "scraping").Msg("scraping listing")

	result, err := o.scrape(ctx, listingURL, logger)
	if err != nil {
		return fmt.Errorf("scrape listing: %w", err)
	}
	if result == nil || len(result.PhotoURLs) == 0 {
		return domain.ErrNoPhotos
	}

	job, err := o.repo.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	urls := result.PhotoURLs
	if len(urls) > maxImages {
		urls = urls[:maxImages]
	}
	job.Images = make([]domain.Photo, len(urls))
	for i, u := range urls {
		job.Images[i] = domain.Photo{
			ID:       fmt.Sprintf("%s-%02d", jobID, i+1),
			URL:      u,
			FileName: fmt.Sprintf("photo_%02d.jpg", i+1),
			Status:   domain.PhotoStatusPending,
		}
	}
	job.Listing = result.Listing
	if hint, ok := domain.ParseRoomType(result.Listing.RoomType); ok && hint != domain.RoomTypeOther {
		job.RoomTypeHint = hint
	}
	job.Progress = domain.Progress{Total: len(job.Images)}
	if err := o.repo.Update(ctx, job); err != nil {
		return fmt.Errorf("save photos: %w", err)
	}
	logger.Info().Int("photos", len(job.Images)).Int("scraped", len(result.PhotoURLs)).Msg("listing scraped")

	job.Status = domain.JobStatusProcessing
	if err := o.repo.Update(ctx, job); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	if err := o.processPhotos(ctx, job, logger); err != nil {
		return err
	}

	job.ImagePairs = buildPairs(job)
	job.Progress = progressFromPairs(job.ImagePairs)
	job.Status = domain.JobStatusCompleted
	if err := o.repo.Update(ctx, job); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	logger.Info().
		Int("completed", job.Progress.Completed).
		Int("failed", job.Progress.Failed).
		Msg("job completed")
	return nil
}

// scrape calls the scraper through its breaker; inside the breaker each
// attempt gets its own timeout and failed attempts are retried with backoff.
func (o *Orchestrator) scrape(ctx context.Context, listingURL string, logger *infra.Logger) (*domain.ScrapeResult, error) {
	policy := o.scrapeRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("scrape attempt failed; retrying")
	}

	var result *domain.ScrapeResult
	err := o.breakers.Scraper.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, policy, func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, o.scrapeTO)
			defer cancel()
			r, err := o.scraper.Scrape(attemptCtx, listingURL)
			if err != nil {
				if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
					return fmt.Errorf("scraper timed out after %s: %w", o.scrapeTO, err)
				}
				return err
			}
			result = r
			return nil
		})
	})
	return result, err
}

// processPhotos downloads, analyzes and optimizes the job's photos in place.
// Only context cancellation escapes; everything else is recorded per photo.
func (o *Orchestrator) processPhotos(ctx context.Context, job *domain.Job, logger *infra.Logger) error {
	o.download(ctx, job.Images)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(job.Images) > 0 {
		job.Images[0].StyleReference = true
	}

	var analyzeInputs []domain.ImageInput
	for i := range job.Images {
		p := &job.Images[i]
		if p.Status == domain.PhotoStatusFailed {
			continue
		}
		p.Status = domain.PhotoStatusAnalyzing
		analyzeInputs = append(analyzeInputs, domain.ImageInput{
			PhotoID:        p.ID,
			Data:           p.Data,
			MIMEType:       p.MIMEType,
			RoomTypeHint:   job.RoomTypeHint,
			StyleReference: p.StyleReference,
		})
	}
	o.saveProgress(ctx, job, logger)

	analyses, batchErr := o.analyze(ctx, analyzeInputs)
	if err := ctx.Err(); err != nil {
		return err
	}
	if batchErr != nil {
		logger.Warn().Err(batchErr).Str("stage", "analyze").Msg("analysis batch failed")
	}
	reference := job.Images[0].FileName
	byID := make(map[string]domain.AnalysisResult, len(analyses))
	for _, r := range analyses {
		byID[r.PhotoID] = r
	}

	var optimizeInputs []domain.OptimizeInput
	for i := range job.Images {
		p := &job.Images[i]
		if p.Status != domain.PhotoStatusAnalyzing {
			continue
		}
		res, ok := byID[p.ID]
		if !ok || res.Err != nil || res.Analysis == nil {
			markFailed(p, "analysis failed", res.Err, batchErr)
			continue
		}
		analysis := res.Analysis.Clone()
		analysis.StyleReference = p.StyleReference
		if !p.StyleReference {
			analysis.ConsistencyNote = consistencyNote(reference)
		}
		p.Analysis = &analysis
		p.Status = domain.PhotoStatusOptimizing
		optimizeInputs = append(optimizeInputs, domain.OptimizeInput{
			PhotoID:  p.ID,
			Data:     p.Data,
			MIMEType: p.MIMEType,
			RoomType: ResolveRoomType(job.RoomTypeHint, analysis.RoomType),
			Analysis: analysis,
		})
	}
	o.saveProgress(ctx, job, logger)

	optimized, batchErr := o.optimize(ctx, optimizeInputs)
	if err := ctx.Err(); err != nil {
		return err
	}
	if batchErr != nil {
		logger.Warn().Err(batchErr).Str("stage", "optimize").Msg("optimization batch failed")
	}
	outByID := make(map[string]domain.OptimizeResult, len(optimized))
	for _, r := range optimized {
		outByID[r.PhotoID] = r
	}
	for i := range job.Images {
		p := &job.Images[i]
		if p.Status != domain.PhotoStatusOptimizing {
			continue
		}
		res, ok := outByID[p.ID]
		if !ok || res.Err != nil || len(res.Data) == 0 {
			markFailed(p, "optimization failed", res.Err, batchErr)
			continue
		}
		p.OptimizedData = res.Data
		p.OptimizedMIMEType = firstNonEmpty(res.MIMEType, p.MIMEType)
		p.Status = domain.PhotoStatusCompleted
	}
	return nil
}

func (o *Orchestrator) analyze(ctx context.Context, inputs []domain.ImageInput) ([]domain.AnalysisResult, error) {
	if len(inputs) == 0 || o.analyzer == nil {
		return nil, nil
	}
	var out []domain.AnalysisResult
	err := o.breakers.Analyzer.Execute(ctx, func(ctx context.Context) error {
		res, err := o.analyzer.AnalyzeBatch(ctx, inputs)
		out = res
		return err
	})
	return out, err
}

func (o *Orchestrator) optimize(ctx context.Context, inputs []domain.OptimizeInput) ([]domain.OptimizeResult, error) {
	if len(inputs) == 0 || o.generator == nil {
		return nil, nil
	}
	var out []domain.OptimizeResult
	err := o.breakers.Generator.Execute(ctx, func(ctx context.Context) error {
		res, err := o.generator.OptimizeBatch(ctx, inputs)
		out = res
		return err
	})
	return out, err
}

// saveProgress persists intermediate photo statuses. Failures are logged only;
// the final write decides the job outcome.
func (o *Orchestrator) saveProgress(ctx context.Context, job *domain.Job, logger *infra.Logger) {
	job.Progress = progressFromPhotos(job.Images)
	if err := o.repo.Update(ctx, job); err != nil {
		logger.Warn().Err(err).Msg("failed to persist photo progress")
	}
}

func markFailed(p *domain.Photo, stage string, itemErr, batchErr error) {
	p.Status = domain.PhotoStatusFailed
	switch {
	case itemErr != nil:
		p.Error = fmt.Sprintf("%s: %v", stage, itemErr)
	case batchErr != nil:
		p.Error = fmt.Sprintf("%s: %v", stage, batchErr)
	default:
		p.Error = stage + ": no result returned"
	}
}

func consistencyNote(reference string) string {
	return fmt.Sprintf("Keep lighting, color grading and enhancement strength consistent with the listing's reference photo (%s).", reference)
}

// buildPairs emits one pair per photo in submission order.
func buildPairs(job *domain.Job) []domain.ImagePair {
	pairs := make([]domain.ImagePair, 0, len(job.Images))
	for _, p := range job.Images {
		var detected domain.RoomType
		if p.Analysis != nil {
			detected = p.Analysis.RoomType
		}
		original := p.Clone()
		original.OptimizedData = nil
		original.OptimizedMIMEType = ""
		pair := domain.ImagePair{
			ID:           p.ID,
			Original:     original,
			RoomType:     ResolveRoomType(job.RoomTypeHint, detected),
			Enhancements: []string{},
			Status:       domain.PhotoStatusFailed,
		}
		if p.Status == domain.PhotoStatusCompleted {
			pair.Status = domain.PhotoStatusCompleted
			pair.Enhancements = Enhancements(p.Analysis)
			pair.Optimized = &domain.Photo{
				ID:       p.ID + "-optimized",
				Data:     append([]byte(nil), p.OptimizedData...),
				MIMEType: p.OptimizedMIMEType,
				FileName: optimizedName(p.FileName, p.OptimizedMIMEType),
				Status:   domain.PhotoStatusCompleted,
			}
		}
		pairs = append(pairs, pair)
	}
	return pairs
}

func progressFromPairs(pairs []domain.ImagePair) domain.Progress {
	p := domain.Progress{Total: len(pairs)}
	for _, pair := range pairs {
		if pair.Status == domain.PhotoStatusCompleted {
			p.Completed++
		} else {
			p.Failed++
		}
	}
	return p
}

func progressFromPhotos(photos []domain.Photo) domain.Progress {
	p := domain.Progress{Total: len(photos)}
	for _, ph := range photos {
		switch ph.Status {
		case domain.PhotoStatusCompleted:
			p.Completed++
		case domain.PhotoStatusFailed:
			p.Failed++
		}
	}
	return p
}
