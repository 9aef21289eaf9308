// Package vision classifies listing photos with a generative vision model.
package vision

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"listingopt/internal/domain"
	"listingopt/internal/infra"
	"listingopt/internal/providers/genai"
)

// Model is the subset of the Gemini client the analyzer needs.
type Model interface {
	Offline() bool
	GenerateJSON(ctx context.Context, instruction string, image []byte, mimeType string) (string, error)
}

// Options configures the analyzer.
type Options struct {
	Model       Model
	Concurrency int
	Logger      *infra.Logger
}

// GeminiAnalyzer implements domain.Analyzer by asking Gemini for one JSON
// analysis per image.
type GeminiAnalyzer struct {
	model       Model
	concurrency int
	logger      *infra.Logger
}

// NewGeminiAnalyzer constructs an analyzer. A nil or offline model yields
// neutral analyses.
func NewGeminiAnalyzer(opts Options) *GeminiAnalyzer {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &GeminiAnalyzer{model: opts.Model, concurrency: concurrency, logger: infra.OrNop(opts.Logger)}
}

// AnalyzeBatch analyzes every image concurrently. Per-image failures are
// reported in the result's Err. The call itself fails only when the context
// ends or every image failed.
func (a *GeminiAnalyzer) AnalyzeBatch(ctx context.Context, images []domain.ImageInput) ([]domain.AnalysisResult, error) {
	if len(images) == 0 {
		return nil, nil
	}
	results := make([]domain.AnalysisResult, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, img := range images {
		g.Go(func() error {
			analysis, err := a.analyze(gctx, img)
			results[i] = domain.AnalysisResult{PhotoID: img.PhotoID, Analysis: analysis, Err: err}
			if err != nil {
				a.logger.Warn().Err(err).Str("photo_id", img.PhotoID).Msg("vision: analysis failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, batchError(results)
}

func (a *GeminiAnalyzer) analyze(ctx context.Context, in domain.ImageInput) (*domain.Analysis, error) {
	if len(in.Data) == 0 {
		return nil, errors.New("image has no data")
	}
	if a.model == nil || a.model.Offline() {
		neutral := neutralAnalysis(in)
		return &neutral, nil
	}

	raw, err := a.model.GenerateJSON(ctx, buildAnalysisPrompt(in), in.Data, in.MIMEType)
	if err != nil {
		return nil, err
	}
	payload, err := parseModelPayload[analysisPayload](raw)
	if err != nil {
		return nil, fmt.Errorf("parse analysis: %w", err)
	}
	analysis := toAnalysis(payload)
	analysis.StyleReference = in.StyleReference
	return &analysis, nil
}

// neutralAnalysis is returned in offline mode: nothing flagged, room type from
// the hint when there is one.
func neutralAnalysis(in domain.ImageInput) domain.Analysis {
	room := in.RoomTypeHint
	if room == "" {
		room = domain.RoomTypeOther
	}
	return domain.Analysis{
		RoomType:       room,
		Lighting:       domain.Aspect{Quality: domain.QualityGood},
		Composition:    domain.Aspect{Quality: domain.QualityGood},
		Clutter:        domain.Clutter{Level: domain.ClutterNone},
		Color:          domain.Aspect{Quality: domain.QualityGood},
		StyleReference: in.StyleReference,
	}
}

func batchError(results []domain.AnalysisResult) error {
	var first error
	for _, r := range results {
		if r.Err == nil {
			return nil
		}
		if first == nil {
			first = r.Err
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrBatchFailed, first)
}

var (
	_ domain.Analyzer = (*GeminiAnalyzer)(nil)
	_ Model           = (*genai.Client)(nil)
)
