package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"listingopt/internal/adapter/repo"
	"listingopt/internal/domain"
	"listingopt/internal/http/handlers"
	"listingopt/internal/http/httpapi"
	"listingopt/internal/infra"
	"listingopt/internal/jobs"
	"listingopt/internal/providers/genai"
	"listingopt/internal/providers/image"
	"listingopt/internal/providers/scraper"
	"listingopt/internal/providers/vision"
	"listingopt/internal/resilience"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := newJobStore(ctx, cfg, &logger)
	defer closeStore()

	analysisModel, err := genai.NewClient(ctx, genai.Options{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiAnalysisModel, Logger: &logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("gemini analysis client failed")
	}
	imageModel, err := genai.NewClient(ctx, genai.Options{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiImageModel, Logger: &logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("gemini image client failed")
	}

	statusReader := jobs.NewStatusReader(store, jobs.StatusReaderOptions{TTL: cfg.StatusCacheTTL, Logger: &logger})

	orch := jobs.NewOrchestrator(jobs.Options{
		Repo:      store,
		Scraper:   newScraper(cfg, &logger),
		Analyzer:  vision.NewGeminiAnalyzer(vision.Options{Model: analysisModel, Concurrency: cfg.BatchConcurrency, Logger: &logger}),
		Generator: image.NewGeminiGenerator(image.Options{Model: imageModel, Concurrency: cfg.BatchConcurrency, Logger: &logger}),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		ScrapeTimeout:       cfg.ScrapeTimeout,
		ScrapeRetry:         resilience.RetryPolicy{Attempts: cfg.ScrapeMaxAttempts, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second},
		DownloadConcurrency: cfg.BatchConcurrency,
		Logger:              &logger,
		OnFinish: func(jobID string, _ domain.JobStatus) {
			statusReader.Invalidate(jobID)
		},
	})
	if _, err := orch.RecoverInterrupted(ctx); err != nil {
		logger.Error().Err(err).Msg("recover interrupted jobs failed")
	}

	sweeper := repo.NewSweeper(store, cfg.JobRetention, &logger)
	sweeper.OnDelete = statusReader.Invalidate
	if err := sweeper.Start(cfg.JobSweepSchedule); err != nil {
		logger.Fatal().Err(err).Msg("job sweeper failed to start")
	}

	app := handlers.NewApp(orch, statusReader, store, &logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router, &logger)

	go func() {
		logger.Info().Str("addr", server.Addr()).Bool("gemini_offline", analysisModel.Offline()).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("jobs did not finish before shutdown deadline")
	}
	<-sweeper.Stop().Done()
	logger.Info().Msg("server stopped")
}

// newJobStore picks Redis when REDIS_ADDR is set, otherwise the in-process
// store.
func newJobStore(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (domain.JobRepository, func()) {
	if cfg.RedisAddr == "" {
		logger.Info().Int("capacity", cfg.JobStoreCapacity).Msg("using in-memory job store")
		return repo.NewMemoryJobRepository(repo.MemoryOptions{Capacity: cfg.JobStoreCapacity, Logger: logger}), func() {}
	}
	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("using redis job store")
	store := repo.NewRedisJobRepository(rdb, repo.RedisOptions{
		Capacity:  cfg.JobStoreCapacity,
		Retention: cfg.JobRetention,
		Logger:    logger,
	})
	return store, func() { _ = rdb.Close() }
}

func newScraper(cfg *infra.Config, logger *infra.Logger) domain.Scraper {
	if cfg.ApifyToken != "" {
		return scraper.NewApifyScraper(scraper.ApifyOptions{
			Token:   cfg.ApifyToken,
			ActorID: cfg.ApifyActorID,
			BaseURL: cfg.ApifyBaseURL,
			Logger:  logger,
		})
	}
	logger.Warn().Msg("APIFY_TOKEN not set; scraping listing pages directly")
	return scraper.NewPageScraper(scraper.PageOptions{Logger: logger})
}
