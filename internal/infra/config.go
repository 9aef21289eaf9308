package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv              string
	LogLevel            string
	Port                string
	GeminiAPIKey        string
	GeminiAnalysisModel string
	GeminiImageModel    string
	ApifyToken          string
	ApifyActorID        string
	ApifyBaseURL        string
	ScrapeTimeout       time.Duration
	ScrapeMaxAttempts   int
	BatchConcurrency    int
	HTTPReadTimeout     time.Duration
	HTTPWriteTimeout    time.Duration
	HTTPIdleTimeout     time.Duration
	RateLimitPerMin     int
	CORSAllowedOrigins  []string
	RedisAddr           string
	RedisPassword       string
	JobStoreCapacity    int
	JobRetention        time.Duration
	JobSweepSchedule    string
	StatusCacheTTL      time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		LogLevel:            strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		Port:                getEnv("PORT", "8080"),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiAnalysisModel: getEnv("GEMINI_ANALYSIS_MODEL", "gemini-2.5-flash"),
		GeminiImageModel:    getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		ApifyToken:          strings.TrimSpace(os.Getenv("APIFY_TOKEN")),
		ApifyActorID:        getEnv("APIFY_ACTOR_ID", "tri_angle~airbnb-rooms-urls-scraper"),
		ApifyBaseURL:        getEnv("APIFY_BASE_URL", "https://api.apify.com/v2"),
		ScrapeTimeout:       time.Second * time.Duration(getEnvInt("SCRAPE_TIMEOUT_SECONDS", 120)),
		ScrapeMaxAttempts:   getEnvInt("SCRAPE_MAX_ATTEMPTS", 3),
		BatchConcurrency:    getEnvInt("BATCH_CONCURRENCY", 4),
		HTTPReadTimeout:     time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:    time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:     time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:     getEnvInt("RATE_LIMIT_PER_MINUTE", 10),
		CORSAllowedOrigins:  splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		RedisAddr:           strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		JobStoreCapacity:    getEnvInt("JOB_STORE_CAPACITY", 1000),
		JobRetention:        time.Hour * time.Duration(getEnvInt("JOB_RETENTION_HOURS", 24)),
		JobSweepSchedule:    getEnv("JOB_SWEEP_SCHEDULE", "@hourly"),
		StatusCacheTTL:      time.Second * time.Duration(getEnvInt("STATUS_CACHE_TTL_SECONDS", 300)),
	}

	if cfg.AppEnv == "production" && cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required in production")
	}
	if cfg.ScrapeTimeout <= 0 || cfg.ScrapeMaxAttempts <= 0 || cfg.BatchConcurrency <= 0 {
		return nil, fmt.Errorf("scrape timeout, scrape attempts and batch concurrency must be positive")
	}
	if cfg.JobStoreCapacity <= 0 || cfg.JobRetention <= 0 || cfg.StatusCacheTTL <= 0 {
		return nil, fmt.Errorf("job store capacity, retention and status cache ttl must be positive")
	}
	if _, err := cron.ParseStandard(cfg.JobSweepSchedule); err != nil {
		return nil, fmt.Errorf("invalid JOB_SWEEP_SCHEDULE %q: %w", cfg.JobSweepSchedule, err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
