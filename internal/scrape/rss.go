package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/spinwatch/spinwatch/internal/store"
)

// RSSScraper reads play feeds published as RSS or Atom. Stations encode the
// track as the item title, "Artist - Title"; the item timestamp is the play
// time.
type RSSScraper struct {
	parser  *gofeed.Parser
	timeout time.Duration
}

// NewRSSScraper builds the RSS variant with a per-fetch timeout.
func NewRSSScraper(timeout time.Duration) *RSSScraper {
	return &RSSScraper{parser: gofeed.NewParser(), timeout: timeout}
}

// Fetch downloads and parses the station's feed. Items whose title cannot
// be split into artist and track are skipped, not errors: feeds interleave
// show announcements with plays.
func (s *RSSScraper) Fetch(ctx context.Context, st *store.Station) ([]Track, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	feed, err := s.parser.ParseURLWithContext(st.FeedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching feed for %s: %w", st.ID, err)
	}

	now := time.Now()
	var tracks []Track
	for _, item := range feed.Items {
		artist, title, ok := splitItemTitle(item.Title)
		if !ok {
			continue
		}
		at := now
		if item.PublishedParsed != nil {
			at = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			at = *item.UpdatedParsed
		}
		tracks = append(tracks, Track{Artist: artist, Title: title, At: at})
	}
	return tracks, nil
}

// splitItemTitle splits "Artist - Title" on the first separator. Artists
// with a dash in the name are rare; titles with one are not, so the first
// separator wins.
func splitItemTitle(s string) (artist, title string, ok bool) {
	for _, sep := range []string{" - ", " – ", " — "} {
		if i := strings.Index(s, sep); i > 0 {
			artist = strings.TrimSpace(s[:i])
			title = strings.TrimSpace(s[i+len(sep):])
			if artist != "" && title != "" {
				return artist, title, true
			}
		}
	}
	return "", "", false
}
