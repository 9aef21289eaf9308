package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"listingopt/internal/domain"
	"listingopt/internal/infra"
	"listingopt/internal/resilience"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; listingopt/1.0)"
	imageCDNHost     = "muscache.com"
)

// PageOptions configures the HTML page scraper.
type PageOptions struct {
	HTTPClient *http.Client
	UserAgent  string
	Logger     *infra.Logger
}

// PageScraper extracts photo URLs directly from the listing page markup.
// It only sees photos rendered into the initial HTML, so it usually returns
// fewer photos than the Apify actor.
type PageScraper struct {
	httpClient *http.Client
	userAgent  string
	logger     *infra.Logger
}

// NewPageScraper constructs a page scraper.
func NewPageScraper(opts PageOptions) *PageScraper {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	return &PageScraper{httpClient: client, userAgent: ua, logger: infra.OrNop(opts.Logger)}
}

// Scrape implements domain.Scraper.
func (s *PageScraper) Scrape(ctx context.Context, listingURL string) (*domain.ScrapeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build page request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch listing page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("fetch listing page: status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}
	result := extractFromDocument(doc)
	s.logger.Debug().Str("url", listingURL).Int("photos", len(result.PhotoURLs)).Msg("page scrape finished")
	return result, nil
}

func extractFromDocument(doc *goquery.Document) *domain.ScrapeResult {
	result := &domain.ScrapeResult{Captions: map[string]string{}}
	seen := make(map[string]struct{})
	add := func(raw, caption string) {
		u, ok := normalizePhotoURL(raw)
		if !ok {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		result.PhotoURLs = append(result.PhotoURLs, u)
		if caption = strings.TrimSpace(caption); caption != "" {
			result.Captions[u] = caption
		}
	}

	doc.Find(`meta[property="og:image"]`).Each(func(_ int, sel *goquery.Selection) {
		content, _ := sel.Attr("content")
		add(content, "")
	})
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		alt, _ := sel.Attr("alt")
		for _, attr := range []string{"data-original-uri", "src"} {
			if v, ok := sel.Attr(attr); ok {
				add(v, alt)
				break
			}
		}
	})

	title, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	if strings.TrimSpace(title) == "" {
		title = doc.Find("title").First().Text()
	}
	result.Listing.Title = strings.TrimSpace(title)
	result.Listing.PhotoCount = len(result.PhotoURLs)
	return result
}

// normalizePhotoURL keeps only absolute https URLs on the Airbnb image CDN and
// strips sizing query parameters so the same photo is not listed twice.
func normalizePhotoURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host != imageCDNHost && !strings.HasSuffix(host, "."+imageCDNHost) {
		return "", false
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), true
}

var _ domain.Scraper = (*PageScraper)(nil)
