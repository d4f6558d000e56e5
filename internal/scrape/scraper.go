// Package scrape polls station feeds for now-playing data and records the
// observations in the store. Each station declares a feed_type which picks
// the scraper variant.
package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/spinwatch/spinwatch/internal/store"
)

// Track is one now-playing entry from a feed, before normalization.
type Track struct {
	Artist string
	Title  string
	At     time.Time
}

// Scraper fetches the current now-playing window of one station feed.
// Implementations must honor the context deadline.
type Scraper interface {
	Fetch(ctx context.Context, st *store.Station) ([]Track, error)
}

// Registry maps feed_type values to scraper implementations.
type Registry map[string]Scraper

// NewRegistry builds the default registry with the rss and json variants.
func NewRegistry(timeout time.Duration) Registry {
	return Registry{
		"rss":  NewRSSScraper(timeout),
		"json": NewJSONScraper(timeout),
	}
}

// For looks up the scraper for a station's feed type.
func (r Registry) For(st *store.Station) (Scraper, error) {
	s, ok := r[st.FeedType]
	if !ok {
		return nil, fmt.Errorf("station %s: unknown feed type %q", st.ID, st.FeedType)
	}
	return s, nil
}
