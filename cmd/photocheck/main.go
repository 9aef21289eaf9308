// Command photocheck runs the photo analyzer on one image and prints the
// analysis, the enhancement bullets and the generation prompt as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"listingopt/internal/domain"
	"listingopt/internal/infra"
	"listingopt/internal/jobs"
	"listingopt/internal/providers/genai"
	"listingopt/internal/providers/image"
	"listingopt/internal/providers/vision"
)

type report struct {
	Source       string          `json:"source"`
	Model        string          `json:"model"`
	Offline      bool            `json:"offline"`
	RoomType     domain.RoomType `json:"roomType"`
	Analysis     domain.Analysis `json:"analysis"`
	Enhancements []string        `json:"enhancements"`
	Prompt       string          `json:"prompt"`
}

func main() {
	var (
		source  string
		hint    string
		timeout time.Duration
	)
	flag.StringVar(&source, "photo", "", "Local file path or http(s) URL of the photo to analyze")
	flag.StringVar(&hint, "hint", "", "Optional listing room type hint (e.g. kitchen)")
	flag.DurationVar(&timeout, "timeout", 90*time.Second, "Overall timeout")
	flag.Parse()

	if source == "" && flag.NArg() > 0 {
		source = flag.Arg(0)
	}
	if strings.TrimSpace(source) == "" {
		fmt.Fprintln(os.Stderr, "usage: photocheck -photo <file-or-url> [-hint kitchen]")
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := infra.NewLogger("cli", cfg.LogLevel).With().Str("cmd", "photocheck").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	data, mimeType, err := load(ctx, source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load photo: %v\n", err)
		os.Exit(1)
	}

	model, err := genai.NewClient(ctx, genai.Options{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiAnalysisModel, Logger: &logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "gemini client: %v\n", err)
		os.Exit(1)
	}
	analyzer := vision.NewGeminiAnalyzer(vision.Options{Model: model, Concurrency: 1, Logger: &logger})

	var roomHint domain.RoomType
	if rt, ok := domain.ParseRoomType(hint); ok {
		roomHint = rt
	}
	results, err := analyzer.AnalyzeBatch(ctx, []domain.ImageInput{{
		PhotoID:        "photocheck",
		Data:           data,
		MIMEType:       mimeType,
		RoomTypeHint:   roomHint,
		StyleReference: true,
	}})
	if err != nil && len(results) == 0 {
		fmt.Fprintf(os.Stderr, "analyze: %v\n", err)
		os.Exit(1)
	}
	res := results[0]
	if res.Err != nil || res.Analysis == nil {
		fmt.Fprintf(os.Stderr, "analyze: %v\n", res.Err)
		os.Exit(1)
	}

	analysis := *res.Analysis
	room := jobs.ResolveRoomType(roomHint, analysis.RoomType)
	out := report{
		Source:       source,
		Model:        model.Model(),
		Offline:      model.Offline(),
		RoomType:     room,
		Analysis:     analysis,
		Enhancements: jobs.Enhancements(&analysis),
		Prompt:       image.BuildEnhancementPrompt(room, analysis),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}

func load(ctx context.Context, source string) ([]byte, string, error) {
	var data []byte
	lower := strings.ToLower(source)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, "", err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, "", fmt.Errorf("status %d", resp.StatusCode)
		}
		if data, err = io.ReadAll(io.LimitReader(resp.Body, 25<<20)); err != nil {
			return nil, "", err
		}
	} else {
		var err error
		if data, err = os.ReadFile(source); err != nil {
			return nil, "", err
		}
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("not an image (%s)", mimeType)
	}
	return data, mimeType, nil
}
