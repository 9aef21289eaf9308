package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job entities. Implementations return
// copies so callers never alias stored state.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	FindByID(ctx context.Context, jobID string) (*Job, error)
	Update(ctx context.Context, job *Job) error
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, errMsg string) error
	FindByStatus(ctx context.Context, status JobStatus) ([]*Job, error)
	FindExpiredJobs(ctx context.Context, olderThan time.Duration) ([]*Job, error)
	Delete(ctx context.Context, jobID string) error
	Count(ctx context.Context) (int, error)
}

// ScrapeResult is what the scraping collaborator returns for one listing.
type ScrapeResult struct {
	PhotoURLs []string
	Captions  map[string]string
	Listing   ListingMetadata
}

// Scraper fetches photo URLs and listing metadata for a listing URL.
type Scraper interface {
	Scrape(ctx context.Context, listingURL string) (*ScrapeResult, error)
}

// ImageInput is one image submitted to the analyzer.
type ImageInput struct {
	PhotoID        string
	Data           []byte
	MIMEType       string
	RoomTypeHint   RoomType
	StyleReference bool
}

// AnalysisResult is the analyzer outcome for one photo. Exactly one of
// Analysis and Err is set.
type AnalysisResult struct {
	PhotoID  string
	Analysis *Analysis
	Err      error
}

// Analyzer classifies room type and quality issues for a batch of images.
// Results may arrive in any order and may omit entries; callers match on
// PhotoID.
type Analyzer interface {
	AnalyzeBatch(ctx context.Context, images []ImageInput) ([]AnalysisResult, error)
}

// OptimizeInput is one image submitted to the generator.
type OptimizeInput struct {
	PhotoID  string
	Data     []byte
	MIMEType string
	RoomType RoomType
	Analysis Analysis
}

// OptimizeResult is the generator outcome for one photo.
type OptimizeResult struct {
	PhotoID  string
	Data     []byte
	MIMEType string
	Err      error
}

// Generator produces enhanced versions of a batch of images.
type Generator interface {
	OptimizeBatch(ctx context.Context, images []OptimizeInput) ([]OptimizeResult, error)
}
