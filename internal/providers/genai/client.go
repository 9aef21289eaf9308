package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gsdk "google.golang.org/genai"

	"listingopt/internal/infra"
)

// ErrOffline is returned by remote calls when no API key is configured.
var ErrOffline = errors.New("genai: no api key configured")

// ContentGenerator is the subset of the SDK's Models service the client uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*gsdk.Content, config *gsdk.GenerateContentConfig) (*gsdk.GenerateContentResponse, error)
}

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey string
	Model  string
	Logger *infra.Logger
	// Models overrides the SDK backend, mainly for tests.
	Models ContentGenerator
}

// Client provides a thin facade over the Gemini SDK so providers can focus on
// translating domain requests to prompts. Without an API key the client runs
// offline and every remote call returns ErrOffline; providers substitute
// deterministic results in that case.
type Client struct {
	models ContentGenerator
	model  string
	logger *infra.Logger
}

// InlineImage is an image returned by the model.
type InlineImage struct {
	Data     []byte
	MIMEType string
}

// NewClient constructs a Gemini client with sane defaults.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	c := &Client{model: model, logger: infra.OrNop(opts.Logger), models: opts.Models}
	if c.models != nil {
		return c, nil
	}

	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		c.logger.Warn().Str("model", model).Msg("genai: api key missing; running offline")
		return c, nil
	}
	sdk, err := gsdk.NewClient(ctx, &gsdk.ClientConfig{
		APIKey:  apiKey,
		Backend: gsdk.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	c.models = sdk.Models
	return c, nil
}

// Model returns the configured Gemini model identifier.
func (c *Client) Model() string {
	return c.model
}

// Offline reports whether the client has no remote backend.
func (c *Client) Offline() bool {
	return c == nil || c.models == nil
}

// GenerateJSON sends an instruction plus one image and returns the model's
// text answer, requesting a JSON response.
func (c *Client) GenerateJSON(ctx context.Context, instruction string, image []byte, mimeType string) (string, error) {
	if c.Offline() {
		return "", ErrOffline
	}
	config := &gsdk.GenerateContentConfig{
		Temperature:      gsdk.Ptr(float32(0.2)),
		ResponseMIMEType: "application/json",
	}
	resp, err := c.models.GenerateContent(ctx, c.model, userContent(instruction, image, mimeType), config)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini returned empty response")
	}
	return text, nil
}

// GenerateImage sends an instruction plus a source image and returns the first
// inline image in the response.
func (c *Client) GenerateImage(ctx context.Context, instruction string, image []byte, mimeType string) (*InlineImage, error) {
	if c.Offline() {
		return nil, ErrOffline
	}
	config := &gsdk.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}
	resp, err := c.models.GenerateContent(ctx, c.model, userContent(instruction, image, mimeType), config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate image: %w", err)
	}
	if img := firstInlineImage(resp); img != nil {
		return img, nil
	}
	if text := strings.TrimSpace(resp.Text()); text != "" {
		return nil, fmt.Errorf("gemini returned no image: %s", truncate(text, 200))
	}
	return nil, fmt.Errorf("gemini returned no image")
}

func userContent(instruction string, image []byte, mimeType string) []*gsdk.Content {
	parts := []*gsdk.Part{gsdk.NewPartFromText(instruction)}
	if len(image) > 0 {
		parts = append(parts, gsdk.NewPartFromBytes(image, firstNonEmpty(mimeType, "image/jpeg")))
	}
	return []*gsdk.Content{{Role: gsdk.RoleUser, Parts: parts}}
}

func firstInlineImage(resp *gsdk.GenerateContentResponse) *InlineImage {
	if resp == nil {
		return nil
	}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			if !strings.HasPrefix(part.InlineData.MIMEType, "image/") && part.InlineData.MIMEType != "" {
				continue
			}
			return &InlineImage{
				Data:     part.InlineData.Data,
				MIMEType: firstNonEmpty(part.InlineData.MIMEType, "image/png"),
			}
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
