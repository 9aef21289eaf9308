package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"listingopt/internal/domain"
	"listingopt/internal/jobs"
	"listingopt/internal/middleware"
	"listingopt/internal/providers/scraper"
)

const maxRequestBytes = 1 << 20

type optimizeRequest struct {
	AirbnbURL string `json:"airbnbUrl" validate:"required,listing_url"`
	MaxImages *int   `json:"maxImages" validate:"omitempty,min=1,max=10"`
}

type optimizeData struct {
	Job        *domain.Job        `json:"job"`
	Images     []domain.Photo     `json:"images"`
	ImagePairs []domain.ImagePair `json:"imagePairs"`
}

type optimizeResponse struct {
	Success bool         `json:"success"`
	JobID   string       `json:"jobId"`
	Message string       `json:"message"`
	Data    optimizeData `json:"data"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("listing_url", func(fl validator.FieldLevel) bool {
		return scraper.ValidateListingURL(fl.Field().String()) == nil
	})
	return v
}

// Optimize validates the request and starts a job. Processing continues in
// the background; clients poll the status endpoint.
func (a *App) Optimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "maxImages" {
			a.error(w, http.StatusBadRequest, "INVALID_MAX_IMAGES", "maxImages must be an integer between 1 and 10")
			return
		}
		a.error(w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be a JSON object")
		return
	}

	if err := a.validate.Struct(req); err != nil {
		code, msg := validationFailure(err)
		a.error(w, http.StatusBadRequest, code, msg)
		return
	}

	resp, err := a.Jobs.Start(r.Context(), jobs.StartRequest{AirbnbURL: req.AirbnbURL, MaxImages: req.MaxImages})
	switch {
	case errors.Is(err, domain.ErrInvalidURL):
		a.error(w, http.StatusBadRequest, "INVALID_URL", err.Error())
		return
	case errors.Is(err, domain.ErrInvalidMaxImages):
		a.error(w, http.StatusBadRequest, "INVALID_MAX_IMAGES", err.Error())
		return
	case errors.Is(err, jobs.ErrClosed):
		a.error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service is shutting down")
		return
	case err != nil:
		a.Logger.Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("start job failed")
		a.error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to start optimization")
		return
	}

	a.json(w, http.StatusAccepted, optimizeResponse{
		Success: true,
		JobID:   resp.JobID,
		Message: resp.Message,
		Data: optimizeData{
			Job:        resp.Job,
			Images:     nonNilPhotos(resp.Job.Images),
			ImagePairs: nonNilPairs(resp.Job.ImagePairs),
		},
	})
}

func validationFailure(err error) (string, string) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "INVALID_REQUEST", err.Error()
	}
	fe := verrs[0]
	switch fe.Field() {
	case "MaxImages":
		return "INVALID_MAX_IMAGES", fmt.Sprintf("maxImages must be between %d and %d", jobs.MinImages, jobs.MaxImages)
	case "AirbnbURL":
		if fe.Tag() == "required" {
			return "INVALID_URL", "airbnbUrl is required"
		}
		return "INVALID_URL", "airbnbUrl must be an Airbnb listing URL like https://www.airbnb.com/rooms/12345"
	}
	return "INVALID_REQUEST", err.Error()
}

func nonNilPhotos(p []domain.Photo) []domain.Photo {
	if p == nil {
		return []domain.Photo{}
	}
	return p
}

func nonNilPairs(p []domain.ImagePair) []domain.ImagePair {
	if p == nil {
		return []domain.ImagePair{}
	}
	return p
}
