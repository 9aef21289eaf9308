// Package image produces enhanced versions of listing photos.
package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"listingopt/internal/domain"
	"listingopt/internal/infra"
	"listingopt/internal/providers/genai"
)

// Model is the subset of the Gemini client the generator needs.
type Model interface {
	Offline() bool
	GenerateImage(ctx context.Context, instruction string, image []byte, mimeType string) (*genai.InlineImage, error)
}

// Options configures the generator.
type Options struct {
	Model       Model
	Concurrency int
	Logger      *infra.Logger
}

// GeminiGenerator implements domain.Generator with Gemini image editing.
type GeminiGenerator struct {
	model       Model
	concurrency int
	logger      *infra.Logger
}

// NewGeminiGenerator constructs a generator. A nil or offline model returns
// the source bytes unchanged.
func NewGeminiGenerator(opts Options) *GeminiGenerator {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &GeminiGenerator{model: opts.Model, concurrency: concurrency, logger: infra.OrNop(opts.Logger)}
}

// OptimizeBatch enhances every image concurrently. Per-image failures are
// reported in the result's Err; the call fails only when the context ends or
// every image failed.
func (g *GeminiGenerator) OptimizeBatch(ctx context.Context, images []domain.OptimizeInput) ([]domain.OptimizeResult, error) {
	if len(images) == 0 {
		return nil, nil
	}
	results := make([]domain.OptimizeResult, len(images))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, in := range images {
		eg.Go(func() error {
			res := domain.OptimizeResult{PhotoID: in.PhotoID}
			data, mime, err := g.optimize(gctx, in)
			if err != nil {
				res.Err = err
				g.logger.Warn().Err(err).Str("photo_id", in.PhotoID).Msg("image: optimization failed")
			} else {
				res.Data, res.MIMEType = data, mime
			}
			results[i] = res
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	for _, r := range results {
		if r.Err == nil {
			return results, nil
		}
	}
	return results, fmt.Errorf("%w: %v", domain.ErrBatchFailed, results[0].Err)
}

func (g *GeminiGenerator) optimize(ctx context.Context, in domain.OptimizeInput) ([]byte, string, error) {
	if len(in.Data) == 0 {
		return nil, "", errors.New("image has no data")
	}
	if g.model == nil || g.model.Offline() {
		return bytes.Clone(in.Data), in.MIMEType, nil
	}
	img, err := g.model.GenerateImage(ctx, BuildEnhancementPrompt(in.RoomType, in.Analysis), in.Data, in.MIMEType)
	if err != nil {
		return nil, "", err
	}
	return img.Data, img.MIMEType, nil
}

var (
	_ domain.Generator = (*GeminiGenerator)(nil)
	_ Model            = (*genai.Client)(nil)
)
