package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"listingopt/internal/domain"
	"listingopt/internal/infra"
	"listingopt/internal/jobs"
)

// JobStarter starts optimization jobs.
type JobStarter interface {
	Start(ctx context.Context, req jobs.StartRequest) (*jobs.StartResponse, error)
}

// StatusSource serves progress snapshots.
type StatusSource interface {
	Get(ctx context.Context, jobID string) (*jobs.JobProgress, error)
}

// JobLoader reads stored jobs for downloads.
type JobLoader interface {
	FindByID(ctx context.Context, jobID string) (*domain.Job, error)
}

type App struct {
	Jobs   JobStarter
	Status StatusSource
	Store  JobLoader
	Logger *infra.Logger

	validate *validator.Validate
}

func NewApp(starter JobStarter, status StatusSource, store JobLoader, logger *infra.Logger) *App {
	return &App{
		Jobs:     starter,
		Status:   status,
		Store:    store,
		Logger:   infra.OrNop(logger),
		validate: newValidator(),
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool       `json:"success"`
	Error   *errorBody `json:"error,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, envelope{Success: false, Error: &errorBody{Code: code, Message: message}})
}
