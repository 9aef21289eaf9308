package infra

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("JOB_SWEEP_SCHEDULE", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.LogLevel)
	assert.Equal(t, 24*time.Hour, cfg.JobRetention)
	assert.Equal(t, 5*time.Minute, cfg.StatusCacheTTL)
	assert.Equal(t, "@hourly", cfg.JobSweepSchedule)
	assert.Equal(t, 3, cfg.ScrapeMaxAttempts)
	assert.Empty(t, cfg.CORSAllowedOrigins)
}

func TestLoadConfigRequiresGeminiKeyInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("GEMINI_API_KEY", "")

	_, err := LoadConfig()
	require.Error(t, err, "GEMINI_API_KEY is mandatory in production")

	t.Setenv("GEMINI_API_KEY", "secret")
	_, err = LoadConfig()
	require.NoError(t, err)
}

func TestLoadConfigRejectsInvalidSchedule(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("JOB_SWEEP_SCHEDULE", "every now and then")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "JOB_SWEEP_SCHEDULE")
}

func TestLoadConfigParsesOrigins(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("JOB_SWEEP_SCHEDULE", "@every 30m")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://app.example.com ,, http://localhost:3000 ")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.example.com", "http://localhost:3000"}, cfg.CORSAllowedOrigins)
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		level   string
		debugOK bool
		infoOK  bool
	}{
		{"production default", "production", "", false, true},
		{"development default", "development", "", true, true},
		{"override", "production", "WARN", false, false},
		{"unknown level keeps default", "production", "loud", false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(tc.env, tc.level, &buf)

			logger.Debug().Msg("debug")
			assert.Equal(t, tc.debugOK, bytes.Contains(buf.Bytes(), []byte(`"debug"`)))

			buf.Reset()
			logger.Info().Msg("info")
			assert.Equal(t, tc.infoOK, buf.Len() > 0)
		})
	}
}

func TestLoggerTagsService(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("production", "", &buf)
	logger.Info().Str("job_id", "j-1").Msg("job completed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "listingopt", line["service"])
	assert.Equal(t, "production", line["env"])
	assert.Equal(t, "j-1", line["job_id"])
}

func TestOrNop(t *testing.T) {
	l := newLogger("production", "", &bytes.Buffer{})
	assert.Same(t, &l, OrNop(&l))
	assert.NotNil(t, OrNop(nil))
}
