package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"listingopt/internal/adapter/repo"
	"listingopt/internal/domain"
	"listingopt/internal/http/handlers"
	"listingopt/internal/jobs"
)

type acceptAll struct{}

func (acceptAll) Start(_ context.Context, req jobs.StartRequest) (*jobs.StartResponse, error) {
	return &jobs.StartResponse{JobID: "j", Job: &domain.Job{ID: "j", URL: req.AirbnbURL, Status: domain.JobStatusPending}}, nil
}

func TestRouterWiring(t *testing.T) {
	store := repo.NewMemoryJobRepository(repo.MemoryOptions{})
	app := handlers.NewApp(acceptAll{}, jobs.NewStatusReader(store, jobs.StatusReaderOptions{}), store, nil)
	h := NewRouter(app, Options{Logger: zerolog.Nop(), RateLimitPerMin: 1})

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/api/health", "", http.StatusOK},
		{http.MethodGet, "/api/openapi.json", "", http.StatusOK},
		{http.MethodGet, "/api/status/unknown", "", http.StatusNotFound},
		{http.MethodGet, "/api/download/unknown/x", "", http.StatusNotFound},
		{http.MethodPost, "/api/optimize", `{"airbnbUrl":"https://www.airbnb.com/rooms/1"}`, http.StatusAccepted},
		{http.MethodPost, "/api/optimize", `{"airbnbUrl":"https://www.airbnb.com/rooms/1"}`, http.StatusTooManyRequests},
		{http.MethodGet, "/nowhere", "", http.StatusNotFound},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%s %s status = %d, want %d", tc.method, tc.path, rec.Code, tc.status)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s %s missing X-Request-ID", tc.method, tc.path)
		}
	}
}
