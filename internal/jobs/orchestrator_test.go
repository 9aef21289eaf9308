package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"listingopt/internal/adapter/repo"
	"listingopt/internal/domain"
	"listingopt/internal/resilience"
)

const listingURL = "https://www.airbnb.com/rooms/1234567890123456"

type fakeScraper struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, url string) (*domain.ScrapeResult, error)
}

func (f *fakeScraper) Scrape(ctx context.Context, url string) (*domain.ScrapeResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, url)
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	inputs []domain.ImageInput
	fn     func(in domain.ImageInput) (*domain.Analysis, error)
	omit   func(photoID string) bool
}

func (f *fakeAnalyzer) AnalyzeBatch(ctx context.Context, images []domain.ImageInput) ([]domain.AnalysisResult, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, images...)
	f.mu.Unlock()
	out := make([]domain.AnalysisResult, 0, len(images))
	failed := 0
	// Reverse order so callers must match on photo id.
	for i := len(images) - 1; i >= 0; i-- {
		if f.omit != nil && f.omit(images[i].PhotoID) {
			continue
		}
		a, err := f.fn(images[i])
		if err != nil {
			failed++
		}
		out = append(out, domain.AnalysisResult{PhotoID: images[i].PhotoID, Analysis: a, Err: err})
	}
	if failed == len(images) {
		return out, domain.ErrBatchFailed
	}
	return out, nil
}

type fakeGenerator struct {
	mu     sync.Mutex
	inputs map[string]domain.OptimizeInput
	fail   func(in domain.OptimizeInput) error
	omit   func(photoID string) bool
}

func (f *fakeGenerator) OptimizeBatch(ctx context.Context, images []domain.OptimizeInput) ([]domain.OptimizeResult, error) {
	f.mu.Lock()
	if f.inputs == nil {
		f.inputs = map[string]domain.OptimizeInput{}
	}
	for _, in := range images {
		f.inputs[in.PhotoID] = in
	}
	f.mu.Unlock()
	out := make([]domain.OptimizeResult, 0, len(images))
	for i := len(images) - 1; i >= 0; i-- {
		in := images[i]
		if f.omit != nil && f.omit(in.PhotoID) {
			continue
		}
		if f.fail != nil {
			if err := f.fail(in); err != nil {
				out = append(out, domain.OptimizeResult{PhotoID: in.PhotoID, Err: err})
				continue
			}
		}
		out = append(out, domain.OptimizeResult{PhotoID: in.PhotoID, Data: append([]byte("opt:"), in.Data...), MIMEType: "image/png"})
	}
	return out, nil
}

func kitchenAnalysis(domain.ImageInput) (*domain.Analysis, error) {
	return &domain.Analysis{
		RoomType: domain.RoomTypeKitchen,
		Lighting: domain.Aspect{Quality: domain.QualityTooDark},
		Clutter:  domain.Clutter{Level: domain.ClutterLow},
	}, nil
}

func newPhotoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(append([]byte{0xff, 0xd8, 0xff}, r.URL.Path...))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func photoURLs(base string, n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/photo/%d.jpg", base, i+1)
	}
	return urls
}

type harness struct {
	repo      *repo.MemoryJobRepository
	scraper   *fakeScraper
	analyzer  *fakeAnalyzer
	generator *fakeGenerator
	orch      *Orchestrator
}

func newHarness(t *testing.T, scrape func(ctx context.Context, url string) (*domain.ScrapeResult, error)) *harness {
	t.Helper()
	h := &harness{
		repo:      repo.NewMemoryJobRepository(repo.MemoryOptions{Capacity: 100}),
		scraper:   &fakeScraper{fn: scrape},
		analyzer:  &fakeAnalyzer{fn: kitchenAnalysis},
		generator: &fakeGenerator{},
	}
	h.orch = NewOrchestrator(Options{
		Repo:        h.repo,
		Scraper:     h.scraper,
		Analyzer:    h.analyzer,
		Generator:   h.generator,
		ScrapeRetry: resilience.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond},
	})
	t.Cleanup(func() { _ = h.orch.Shutdown(context.Background()) })
	return h
}

func (h *harness) finish(t *testing.T, jobID string) *domain.Job {
	t.Helper()
	h.orch.Wait()
	job, err := h.repo.FindByID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("FindByID(%s) returned error: %v", jobID, err)
	}
	return job
}

func intPtr(v int) *int { return &v }

func TestScenarioAllPhotosSucceed(t *testing.T) {
	srv := newPhotoServer(t)
	h := newHarness(t, func(context.Context, string) (*domain.ScrapeResult, error) {
		return &domain.ScrapeResult{PhotoURLs: photoURLs(srv.URL, 3)}, nil
	})

	resp, err := h.orch.Start(context.Background(), StartRequest{AirbnbURL: listingURL, MaxImages: intPtr(3)})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if resp.Job.Status != domain.JobStatusPending || resp.JobID == "" {
		t.Fatalf("unexpected start response: %#v", resp)
	}

	job := h.finish(t, resp.JobID)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %q, want completed (error %q)", job.Status, job.Error)
	}
	if len(job.ImagePairs) != 3 {
		t.Fatalf("len(ImagePairs) = %d, want 3", len(job.ImagePairs))
	}
	for i, pair := range job.ImagePairs {
		if pair.Optimized == nil {
			t.Fatalf("pair %d has no optimized side", i)
		}
		if pair.Status != domain.PhotoStatusCompleted {
			t.Fatalf("pair %d status = %q", i, pair.Status)
		}
		if len(pair.Enhancements) == 0 || pair.Enhancements[0] != "Brightened lighting and lifted shadows" {
			t.Fatalf("pair %d enhancements = %v", i, pair.Enhancements)
		}
		if pair.Original.FileName != fmt.Sprintf("photo_%02d.jpg", i+1) {
			t.Fatalf("pair %d file name = %q", i, pair.Original.FileName)
		}
		if pair.Optimized.FileName != fmt.Sprintf("photo_%02d_optimized.png", i+1) {
			t.Fatalf("pair %d optimized file name = %q", i, pair.Optimized.FileName)
		}
	}
	if job.Progress != (domain.Progress{Total: 3, Completed: 3}) {
		t.Fatalf("Progress = %+v", job.Progress)
	}
	if job.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
}

func TestScenarioGeneratorFailsForOnePhoto(t *testing.T) {
	srv := newPhotoServer(t)
	h := newHarness(t, func(context.Context, string) (*domain.ScrapeResult, error) {
		return &domain.ScrapeResult{PhotoURLs: photoURLs(srv.URL, 3)}, nil
	})
	h.generator.fail = func(in domain.OptimizeInput) error {
		if strings.HasSuffix(in.PhotoID, "-02") {
			return errors.New("content policy violation")
		}
		return nil
	}

	resp, err := h.orch.Start(context.Background(), StartRequest{AirbnbURL: listingURL, MaxImages: intPtr(3)})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	job := h.finish(t, resp.JobID)

	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %q, want completed", job.Status)
	}
	if job.Progress.Failed != 1 || job.Progress.Completed != 2 {
		t.Fatalf("Progress = %+v", job.Progress)
	}
	second := job.ImagePairs[1]
	if second.Optimized != nil {
		t.Fatal("failed pair must not have an optimized side")
	}
	if !strings.Contains(second.Original.Error, "content policy violation") {
		t.Fatalf("original error = %q", second.Original.Error)
	}
	if job.ImagePairs[0].Optimized == nil || job.ImagePairs[2].Optimized == nil {
		t.Fatal("other photos should still be optimized")
	}
}

func TestBatchResultsMissingPhotosFailOnlyThosePhotos(t *testing.T) {
	srv := newPhotoServer(t)
	h := newHarness(t, func(context.Context, string) (*domain.ScrapeResult, error) {
		return &domain.ScrapeResult{PhotoURLs: photoURLs(srv.URL, 4)}, nil
	})
	h.analyzer.omit = func(id string) bool { return strings.HasSuffix(id, "-02") }
	h.generator.omit = func(id string) bool { return strings.HasSuffix(id, "-04") }

	resp, err := h.orch.Start(context.Background(), StartRequest{AirbnbURL: listingURL, MaxImages: intPtr(4)})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	job := h.finish(t, resp.JobID)

	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %q, want completed (error %q)", job.Status, job.Error)
	}
	if job.Progress != (domain.Progress{Total: 4, Completed: 2, Failed: 2}) {
		t.Fatalf("Progress = %+v", job.Progress)
	}
	if _, sent := h.generator.inputs[job.ImagePairs[1].ID]; sent {
		t.Fatal("photo without an analysis must not reach the generator")
	}

	tests := []struct {
		index int
		stage string
	}{
		{1, "analysis failed"},
		{3, "optimization failed"},
	}
	for _, tc := range tests {
		pair := job.ImagePairs[tc.index]
		if pair.Status != domain.PhotoStatusFailed || pair.Optimized != nil {
			t.Fatalf("pair %d = status %q optimized %v, want failed without optimized side", tc.index, pair.Status, pair.Optimized != nil)
		}
		if want := tc.stage + ": no result returned"; pair.Original.Error != want {
			t.Fatalf("pair %d error = %q, want %q", tc.index, pair.Original.Error, want)
		}
	}
	if job.ImagePairs[0].Optimized == nil || job.ImagePairs[2].Optimized == nil {
		t.Fatal("photos with results should still be optimized")
	}
}

func TestScenarioScraperFails(t *testing.T) {
	h := newHarness(t, func(context.Context, string) (*domain.ScrapeResult, error) {
		return nil, errors.New("actor crashed")
	})

	resp, err := h.orch.Start(context.Background(), StartRequest{AirbnbURL: listingURL})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	job := h.finish(t, resp.JobID)

	if job.Status != domain.JobStatusFailed {
		t.Fatalf("Status = %q, want failed", job.Status)
	}
	if len(job.ImagePairs) != 0 {
		t.Fatalf("len(ImagePairs) = %d, want 0", len(job.ImagePairs))
	}
	if !strings.Contains(job.Error, "actor crashed") {
		t.Fatalf("Error = %q", job.Error)
	}
	if h.scraper.calls != 3 {
		t.Fatalf("scraper calls = %d, want 3 attempts", h.scraper.calls)
	}
}

func TestScenarioDefaultCap(t *testing.T) {
	srv := newPhotoServer(t)
	h := newHarness(t, func(context.Context, string) (*domain.ScrapeResult, error) {
		return &domain.ScrapeResult{PhotoURLs: photoURLs(srv.URL, 15)}, nil
	})

	resp, err := h.orch.Start(context.Background(), StartRequest{AirbnbURL: listingURL})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if resp.Job.MaxImages != DefaultMaxImages {
		t.Fatalf("MaxImages = %d, want %d", resp.Job.MaxImages, DefaultMaxImages)
	}
	job := h.finish(t, resp.JobID)
	if len(job.Images) != 10 || job.Progress.Total != 10 {
		t.Fatalf("images = %d total = %d, want 10", len(job.Images), job.Progress.Total)
	}
	if job.Images[9].URL != srv.URL+"/photo/10.jpg" {
		t.Fatalf("last photo url = %q", job.Images[9].URL)
	}
}

func TestScenarioIndependentJobs(t *testing.T) {
	srv := newPhotoServer(t)
	h := newHarness(t, func(_ context.Context, url string) (*domain.ScrapeResult, error) {
		if strings.HasSuffix(url, "/111") {
			return &domain.ScrapeResult{PhotoURLs: photoURLs(srv.URL, 2)}, nil
		}
		return &domain.ScrapeResult{PhotoURLs: photoURLs(srv.URL, 5)}, nil
	})

	first, err := h.orch.Start(context.Background(), StartRequest{AirbnbURL: "https://www.airbnb.com/rooms/111"})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	second, err := h.orch.Start(context.Background(), StartRequest{AirbnbURL: "https://www.airbnb.com/rooms/222"})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if first.JobID == second.JobID {
		t.Fatal("job ids must be distinct")
	}

	a, b := h.finish(t, first.JobID), h.finish(t, second.JobID)
	if len(a.ImagePairs) != 2 || len(b.ImagePairs) != 5 {
		t.Fatalf("pair counts = %d and %d, want 2 and 5", len(a.ImagePairs), len(b.ImagePairs))
	}
	for _, pair := range a.ImagePairs {
		if !strings.HasPrefix(pair.ID, a.ID) {
			t.Fatalf("pair %s leaked into job %s", pair.ID, a.ID)
		}
	}
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t, func(context.Context, string) (*domain.ScrapeResult, error) {
		t.Error("scraper must not be called for invalid requests")
		return nil, nil
	})
	cases := []struct {
		name string
		req  StartRequest
		want error
	}{
		{"bad url", StartRequest{AirbnbURL: "https://example.com/rooms/1"}, domain.ErrInvalidURL},
		{"empty url", StartRequest{}, domain.ErrInvalidURL},
		{"zero images", StartRequest{AirbnbURL: listingURL, MaxImages: intPtr(0)}, domain.ErrInvalidMaxImages},
		{"too many images", StartRequest{AirbnbURL: listingURL, MaxImages: intPtr(11)}, domain.ErrInvalidMaxImages},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.orch.Start(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
	if n, _ := h.repo.Count(context.Background()); n != 0 {
		t.Fatalf("Count = %d, want no jobs created", n)
	}
}

func TestStyleReferenceAndRoomTypeConsistency(t *testing.T) {
	srv := newPhotoServer(t)
	h := newHarness(t, func(context.Context, string) (*domain.ScrapeResult, error) {
		return &domain.ScrapeResult{PhotoURLs: photoURLs(srv.URL, 3)}, nil
	})
	h.analyzer.fn = func(in domain.ImageInput) (*domain.Analysis, error) {
		if strings.HasSuffix(in.PhotoID, "-01") {
			return &domain.Analysis{RoomType: domain.RoomTypeBedroom}, nil
		}
		return &domain.Analysis{RoomType: domain.RoomTypeOther}, nil
	}

	resp, err := h.orch.Start(context.Background(), StartRequest{AirbnbURL: listingURL, MaxImages: intPtr(3)})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	job := h.finish(t, resp.JobID)

	refs := 0
	for i, p := range job.Images {
		if p.StyleReference {
			refs++
			if i != 0 {
				t.Fatalf("style reference is photo %d, want the first photo", i)
			}
			if p.Analysis.ConsistencyNote != "" {
				t.Fatal("reference photo must not carry a consistency note")
			}
		} else if p.Analysis == nil || p.Analysis.ConsistencyNote == "" {
			t.Fatalf("photo %d is missing the consistency note", i)
		}
	}
	if refs != 1 {
		t.Fatalf("style references = %d, want exactly 1", refs)
	}

	for _, pair := range job.ImagePairs {
		sent := h.generator.inputs[pair.ID]
		if sent.RoomType != pair.RoomType {
			t.Fatalf("photo %s: generator saw %q, pair has %q", pair.ID, sent.RoomType, pair.RoomType)
		}
	}
	if job.ImagePairs[0].RoomType != domain.RoomTypeBedroom || job.ImagePairs[1].RoomType != domain.RoomTypeOther {
		t.Fatalf("room types = %q, %q", job.ImagePairs[0].RoomType, job.ImagePairs[1].RoomType)
	}
	if job.ImagePairs[1].Enhancements[0] != GenericEnhancement {
		t.Fatalf("enhancements = %v, want generic bullet", job.ImagePairs[1].Enhancements)
	}
}

func TestListingHintWinsOverDetection(t *testing.T) {
	srv := newPhotoServer(t)
	h := newHarness(t, func(context.Context, string) (*domain.ScrapeResult, error) {
		return &domain.ScrapeResult{
			PhotoURLs: photoURLs(srv.URL, 2),
			Listing:   domain.ListingMetadata{RoomType: "Bathroom"},
		}, nil
	})

	resp, _ := h.orch.Start(context.Background(), StartRequest{AirbnbURL: listingURL, MaxImages: intPtr(2)})
	job := h.finish(t, resp.JobID)

	if job.RoomTypeHint != domain.RoomTypeBathroom {
		t.Fatalf("RoomTypeHint = %q", job.RoomTypeHint)
	}
	for _, pair := range job.ImagePairs {
		if pair.RoomType != domain.RoomTypeBathroom {
			t.Fatalf("pair room type = %q, want hint", pair.RoomType)
		}
	}
	if h.analyzer.inputs[0].RoomTypeHint != domain.RoomTypeBathroom {
		t.Fatal("analyzer did not receive the listing hint")
	}
}

func TestAnalyzerOutageFoldsIntoPhotoFailures(t *testing.T) {
	srv := newPhotoServer(t)
	h := newHarness(t, func(context.Context, string) (*domain.ScrapeResult, error) {
		urls := photoURLs(srv.URL, 2)
		return &domain.ScrapeResult{PhotoURLs: append(urls, srv.URL+"/missing/3.jpg")}, nil
	})
	h.analyzer.fn = func(domain.ImageInput) (*domain.Analysis, error) {
		return nil, errors.New("vision backend unavailable")
	}

	resp, _ := h.orch.Start(context.Background(), StartRequest{AirbnbURL: listingURL})
	job := h.finish(t, resp.JobID)

	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %q, want completed", job.Status)
	}
	if job.Progress != (domain.Progress{Total: 3, Failed: 3}) {
		t.Fatalf("Progress = %+v", job.Progress)
	}
	if !strings.Contains(job.ImagePairs[2].Original.Error, "download failed") {
		t.Fatalf("download error = %q", job.ImagePairs[2].Original.Error)
	}
	if !strings.Contains(job.ImagePairs[0].Original.Error, "vision backend unavailable") {
		t.Fatalf("analysis error = %q", job.ImagePairs[0].Original.Error)
	}
	if len(h.generator.inputs) != 0 {
		t.Fatal("generator must not be called without usable analyses")
	}
}

func TestOpenScraperBreakerFailsFast(t *testing.T) {
	h := newHarness(t, func(context.Context, string) (*domain.ScrapeResult, error) {
		return nil, resilience.Permanent(errors.New("listing removed"))
	})
	for i := 0; i < 3; i++ {
		resp, _ := h.orch.Start(context.Background(), StartRequest{AirbnbURL: listingURL})
		h.finish(t, resp.JobID)
	}
	calls := h.scraper.calls

	resp, _ := h.orch.Start(context.Background(), StartRequest{AirbnbURL: listingURL})
	job := h.finish(t, resp.JobID)
	if h.scraper.calls != calls {
		t.Fatal("open breaker must not call the scraper")
	}
	if job.Status != domain.JobStatusFailed || !strings.Contains(job.Error, "service unavailable") {
		t.Fatalf("job = %q / %q, want failed with service unavailable", job.Status, job.Error)
	}
}

func TestShutdownCancelsInFlightJobs(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, _ string) (*domain.ScrapeResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	resp, err := h.orch.Start(context.Background(), StartRequest{AirbnbURL: listingURL})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.orch.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}

	job, _ := h.repo.FindByID(context.Background(), resp.JobID)
	if job.Status != domain.JobStatusCancelled {
		t.Fatalf("Status = %q, want cancelled", job.Status)
	}
	if _, err := h.orch.Start(context.Background(), StartRequest{AirbnbURL: listingURL}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after shutdown error = %v, want ErrClosed", err)
	}
}

func TestNoPhotosFailsJob(t *testing.T) {
	h := newHarness(t, func(context.Context, string) (*domain.ScrapeResult, error) {
		return &domain.ScrapeResult{}, nil
	})
	resp, _ := h.orch.Start(context.Background(), StartRequest{AirbnbURL: listingURL})
	job := h.finish(t, resp.JobID)
	if job.Status != domain.JobStatusFailed || job.Error != domain.ErrNoPhotos.Error() {
		t.Fatalf("job = %q / %q", job.Status, job.Error)
	}
}

func TestRecoverInterrupted(t *testing.T) {
	h := newHarness(t, func(context.Context, string) (*domain.ScrapeResult, error) { return nil, nil })
	ctx := context.Background()
	_ = h.repo.Create(ctx, &domain.Job{ID: "stuck", Status: domain.JobStatusPending})
	_ = h.repo.UpdateStatus(ctx, "stuck", domain.JobStatusProcessing, "")
	_ = h.repo.Create(ctx, &domain.Job{ID: "queued", Status: domain.JobStatusPending})
	_ = h.repo.Create(ctx, &domain.Job{ID: "done", Status: domain.JobStatusPending})
	_ = h.repo.UpdateStatus(ctx, "done", domain.JobStatusCompleted, "")

	n, err := h.orch.RecoverInterrupted(ctx)
	if err != nil {
		t.Fatalf("RecoverInterrupted returned error: %v", err)
	}
	if n != 2 {
		t.Fatalf("recovered = %d, want 2", n)
	}
	for _, id := range []string{"stuck", "queued"} {
		job, _ := h.repo.FindByID(ctx, id)
		if job.Status != domain.JobStatusFailed || job.Error == "" {
			t.Fatalf("%s = %q / %q, want failed with message", id, job.Status, job.Error)
		}
	}
	if job, _ := h.repo.FindByID(ctx, "done"); job.Status != domain.JobStatusCompleted {
		t.Fatal("completed jobs must be left alone")
	}
}
