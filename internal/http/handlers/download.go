package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"listingopt/internal/domain"
	"listingopt/pkg/zip"
)

const (
	variantOriginal  = "original"
	variantOptimized = "optimized"
)

// DownloadImage streams one photo. variant=optimized|original selects the
// side; without it the optimized bytes are preferred and the original is
// the fallback.
func (a *App) DownloadImage(w http.ResponseWriter, r *http.Request) {
	job, variant, ok := a.loadForDownload(w, r)
	if !ok {
		return
	}
	imageID := chi.URLParam(r, "imageId")
	asset, found := selectAsset(job, imageID, variant)
	if !found {
		a.error(w, http.StatusNotFound, "IMAGE_NOT_FOUND", "image not available")
		return
	}
	w.Header().Set("Content-Type", asset.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(asset.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", asset.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(asset.Data)
}

// DownloadAll streams every available photo of a job as one zip archive.
func (a *App) DownloadAll(w http.ResponseWriter, r *http.Request) {
	job, variant, ok := a.loadForDownload(w, r)
	if !ok {
		return
	}
	var assets []zip.Asset
	for _, p := range job.Images {
		if asset, found := selectAsset(job, p.ID, variant); found {
			assets = append(assets, asset)
		}
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "IMAGE_NOT_FOUND", "no images available for download")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "listing-"+job.ID+".zip"))
	w.WriteHeader(http.StatusOK)
	if err := zip.ArchiveAssets(w, assets); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("zip stream failed")
	}
}

func (a *App) loadForDownload(w http.ResponseWriter, r *http.Request) (*domain.Job, string, bool) {
	variant := r.URL.Query().Get("variant")
	if variant != "" && variant != variantOriginal && variant != variantOptimized {
		a.error(w, http.StatusBadRequest, "INVALID_VARIANT", "variant must be original or optimized")
		return nil, "", false
	}
	jobID := chi.URLParam(r, "jobId")
	job, err := a.Store.FindByID(r.Context(), jobID)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "JOB_NOT_FOUND", "job not found")
		return nil, "", false
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("download lookup failed")
		a.error(w, http.StatusInternalServerError, "STATUS_UNAVAILABLE", "failed to load job")
		return nil, "", false
	}
	return job, variant, true
}

// selectAsset resolves one side of a photo. Pairs are consulted first so
// completed jobs serve the same file names the status payload advertises.
func selectAsset(job *domain.Job, imageID, variant string) (zip.Asset, bool) {
	var original, optimized *domain.Photo
	if pair, ok := job.Pair(imageID); ok {
		original, optimized = &pair.Original, pair.Optimized
	} else if p, ok := job.Photo(imageID); ok {
		original = &p
	} else {
		return zip.Asset{}, false
	}

	pick := func(p *domain.Photo) (zip.Asset, bool) {
		if p == nil || len(p.Data) == 0 {
			return zip.Asset{}, false
		}
		return zip.Asset{Filename: p.FileName, MIME: mimeOrDefault(p.MIMEType), Data: p.Data}, true
	}

	switch variant {
	case variantOriginal:
		return pick(original)
	case variantOptimized:
		return pick(optimized)
	default:
		if asset, ok := pick(optimized); ok {
			return asset, true
		}
		return pick(original)
	}
}

func mimeOrDefault(m string) string {
	if m == "" {
		return "application/octet-stream"
	}
	return m
}
