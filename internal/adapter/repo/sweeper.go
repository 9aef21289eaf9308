package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"listingopt/internal/domain"
	"listingopt/internal/infra"
)

// Sweeper periodically deletes jobs older than the retention period.
type Sweeper struct {
	repo      domain.JobRepository
	retention time.Duration
	cron      *cron.Cron
	logger    *infra.Logger
	// OnDelete is called with each removed job id.
	OnDelete func(jobID string)
}

// NewSweeper creates a sweeper for the given repository.
func NewSweeper(repo domain.JobRepository, retention time.Duration, logger *infra.Logger) *Sweeper {
	return &Sweeper{
		repo:      repo,
		retention: retention,
		cron:      cron.New(),
		logger:    infra.OrNop(logger),
	}
}

// Start schedules the sweep using a standard cron expression or descriptor.
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		schedule = "@hourly"
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", schedule).Dur("retention", s.retention).Msg("job sweeper started")
	return nil
}

// Stop halts the schedule and returns a context that is done once a running
// sweep finishes.
func (s *Sweeper) Stop() context.Context {
	ctx := s.cron.Stop()
	s.logger.Info().Msg("job sweeper stopped")
	return ctx
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	removed, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int("removed", removed).Msg("job sweep failed")
		return
	}
	s.logger.Info().Int("removed", removed).Msg("job sweep completed")
}

// Sweep deletes every job created before now minus retention, regardless of
// status, and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	expired, err := s.repo.FindExpiredJobs(ctx, s.retention)
	if err != nil {
		return 0, fmt.Errorf("find expired jobs: %w", err)
	}
	removed := 0
	for _, job := range expired {
		if err := s.repo.Delete(ctx, job.ID); err != nil {
			return removed, fmt.Errorf("delete job %s: %w", job.ID, err)
		}
		removed++
		if s.OnDelete != nil {
			s.OnDelete(job.ID)
		}
	}
	return removed, nil
}
