package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"listingopt/internal/domain"
	"listingopt/internal/infra"
	"listingopt/internal/resilience"
)

const (
	defaultApifyBaseURL = "https://api.apify.com/v2"
	defaultApifyActor   = "tri_angle~airbnb-rooms-urls-scraper"
)

// ApifyOptions configures the Apify actor client.
type ApifyOptions struct {
	Token      string
	ActorID    string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// ApifyScraper runs an Apify actor synchronously and reads its dataset items.
type ApifyScraper struct {
	token      string
	actorID    string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewApifyScraper constructs a scraper backed by the Apify API.
func NewApifyScraper(opts ApifyOptions) *ApifyScraper {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultApifyBaseURL
	}
	actor := strings.TrimSpace(opts.ActorID)
	if actor == "" {
		actor = defaultApifyActor
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Minute}
	}
	return &ApifyScraper{
		token:      strings.TrimSpace(opts.Token),
		actorID:    actor,
		baseURL:    baseURL,
		httpClient: client,
		logger:     infra.OrNop(opts.Logger),
	}
}

type apifyStartURL struct {
	URL string `json:"url"`
}

type apifyRunInput struct {
	StartURLs []apifyStartURL `json:"startUrls"`
}

type apifyErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Scrape implements domain.Scraper.
func (s *ApifyScraper) Scrape(ctx context.Context, listingURL string) (*domain.ScrapeResult, error) {
	if s.token == "" {
		return nil, resilience.Permanent(errors.New("apify token is not configured"))
	}
	payload, err := json.Marshal(apifyRunInput{StartURLs: []apifyStartURL{{URL: listingURL}}})
	if err != nil {
		return nil, fmt.Errorf("marshal apify input: %w", err)
	}

	endpoint := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?token=%s",
		s.baseURL, url.PathEscape(s.actorID), url.QueryEscape(s.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build apify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apify request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read apify response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apifyErrorResponse
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		err := fmt.Errorf("apify error: status %d: %s", resp.StatusCode, msg)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}

	var items []map[string]any
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode apify dataset: %w", err)
	}

	result := flattenDatasetItems(items)
	s.logger.Debug().
		Str("actor", s.actorID).
		Int("items", len(items)).
		Int("photos", len(result.PhotoURLs)).
		Dur("elapsed", time.Since(start)).
		Msg("apify scrape finished")
	return result, nil
}

// flattenDatasetItems collects photo URLs from every item, deduplicated in
// first-seen order. Listing metadata is taken from the first item that has it.
func flattenDatasetItems(items []map[string]any) *domain.ScrapeResult {
	result := &domain.ScrapeResult{Captions: map[string]string{}}
	seen := make(map[string]struct{})
	add := func(u, caption string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		result.PhotoURLs = append(result.PhotoURLs, u)
		if caption != "" {
			result.Captions[u] = caption
		}
	}

	for _, item := range items {
		if result.Listing.Title == "" {
			result.Listing.Title = firstString(item, "title", "name")
		}
		if result.Listing.PropertyType == "" {
			result.Listing.PropertyType = firstString(item, "propertyType", "property_type")
		}
		if result.Listing.RoomType == "" {
			result.Listing.RoomType = firstString(item, "roomType", "room_type", "roomCategory")
		}
		for _, key := range []string{"images", "photos", "pictures"} {
			list, ok := item[key].([]any)
			if !ok {
				continue
			}
			for _, entry := range list {
				switch v := entry.(type) {
				case string:
					add(v, "")
				case map[string]any:
					add(firstString(v, "imageUrl", "pictureUrl", "url", "baseUrl"),
						firstString(v, "caption", "accessibilityLabel", "title"))
				}
			}
		}
	}
	result.Listing.PhotoCount = len(result.PhotoURLs)
	return result
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

var _ domain.Scraper = (*ApifyScraper)(nil)
