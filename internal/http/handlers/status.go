package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"listingopt/internal/domain"
	"listingopt/internal/jobs"
	"listingopt/internal/middleware"
)

type statusResponse struct {
	Success bool              `json:"success"`
	Data    *jobs.JobProgress `json:"data"`
}

func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobId required")
		return
	}
	progress, err := a.Status.Get(r.Context(), jobID)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "JOB_NOT_FOUND", "job not found")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).
			Str("job_id", jobID).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Msg("status lookup failed")
		a.error(w, http.StatusInternalServerError, "STATUS_UNAVAILABLE", "failed to load job status")
		return
	}
	a.json(w, http.StatusOK, statusResponse{Success: true, Data: progress})
}
