package jobs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"listingopt/internal/domain"
)

const maxPhotoBytes = 25 << 20

// download fetches every photo concurrently. Failures mark the photo failed;
// there is no retry at this layer.
func (o *Orchestrator) download(ctx context.Context, photos []domain.Photo) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.downloads)
	for i := range photos {
		p := &photos[i]
		g.Go(func() error {
			data, mimeType, err := o.fetchPhoto(gctx, p.URL)
			if err != nil {
				p.Status = domain.PhotoStatusFailed
				p.Error = fmt.Sprintf("download failed: %v", err)
				o.logger.Warn().Err(err).Str("photo_id", p.ID).Msg("photo download failed")
				return nil
			}
			p.Data = data
			p.MIMEType = mimeType
			p.FileName = replaceExt(p.FileName, extensionFor(mimeType))
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) fetchPhoto(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty body")
	}
	if len(data) > maxPhotoBytes {
		return nil, "", fmt.Errorf("photo exceeds %d bytes", maxPhotoBytes)
	}

	mimeType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("unexpected content type %q", mimeType)
	}
	return data, mimeType, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

func replaceExt(name, ext string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + ext
}

// optimizedName derives "photo_01_optimized.png" from "photo_01.jpg".
func optimizedName(original, mimeType string) string {
	base := strings.TrimSuffix(original, path.Ext(original))
	return base + "_optimized" + extensionFor(mimeType)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
