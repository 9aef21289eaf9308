package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listingopt/internal/domain"
)

func TestSweeperRemovesExpiredJobsRegardlessOfStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewMemoryJobRepository(MemoryOptions{Capacity: 10, Now: func() time.Time { return now }})

	old := pendingJob("old-pending")
	old.CreatedAt = now.Add(-25 * time.Hour)
	require.NoError(t, r.Create(ctx, old))

	oldDone := pendingJob("old-processing")
	oldDone.CreatedAt = now.Add(-48 * time.Hour)
	oldDone.Status = domain.JobStatusProcessing
	require.NoError(t, r.Create(ctx, oldDone))

	fresh := pendingJob("fresh")
	fresh.CreatedAt = now.Add(-time.Hour)
	require.NoError(t, r.Create(ctx, fresh))

	var deleted []string
	s := NewSweeper(r, 24*time.Hour, nil)
	s.OnDelete = func(id string) { deleted = append(deleted, id) }

	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.ElementsMatch(t, []string{"old-pending", "old-processing"}, deleted)

	n, _ := r.Count(ctx)
	assert.Equal(t, 1, n)
	_, err = r.FindByID(ctx, "fresh")
	assert.NoError(t, err)
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	s := NewSweeper(NewMemoryJobRepository(MemoryOptions{}), time.Hour, nil)
	assert.Error(t, s.Start("not a schedule"))
}
