// Package scraper fetches photo URLs and listing metadata for Airbnb listings.
package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"listingopt/internal/domain"
)

var (
	listingPathPattern = regexp.MustCompile(`^/rooms/(plus/)?\d+/?$`)
	// airbnb.com, airbnb.fr, airbnb.co.uk, airbnb.com.au ...
	listingHostPattern = regexp.MustCompile(`^(www\.)?airbnb\.[a-z]{2,3}(\.[a-z]{2})?$`)
)

// ValidateListingURL checks that raw is an http(s) Airbnb room URL. The
// returned error wraps domain.ErrInvalidURL.
func ValidateListingURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: url is required", domain.ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidURL, u.Scheme)
	}
	if !listingHostPattern.MatchString(strings.ToLower(u.Hostname())) {
		return fmt.Errorf("%w: host %q is not an Airbnb domain", domain.ErrInvalidURL, u.Hostname())
	}
	if !listingPathPattern.MatchString(u.Path) {
		return fmt.Errorf("%w: path %q is not a listing", domain.ErrInvalidURL, u.Path)
	}
	return nil
}
