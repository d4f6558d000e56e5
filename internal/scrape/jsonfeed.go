package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/spinwatch/spinwatch/internal/store"
)

// JSONScraper reads play feeds published as JSON, either a bare array of
// entries or an object wrapping one under "songs", "tracks" or "nowplaying".
type JSONScraper struct {
	http *resty.Client
}

// NewJSONScraper builds the JSON variant with a per-fetch timeout.
func NewJSONScraper(timeout time.Duration) *JSONScraper {
	return &JSONScraper{
		http: resty.New().SetTimeout(timeout).SetHeader("Accept", "application/json"),
	}
}

type jsonEntry struct {
	Artist   string `json:"artist"`
	Title    string `json:"title"`
	Song     string `json:"song"`
	PlayedAt string `json:"played_at"`
	Time     string `json:"time"`
}

type jsonWrapper struct {
	Songs      []jsonEntry `json:"songs"`
	Tracks     []jsonEntry `json:"tracks"`
	NowPlaying []jsonEntry `json:"nowplaying"`
}

// Fetch downloads the station's JSON feed and maps the entries.
func (s *JSONScraper) Fetch(ctx context.Context, st *store.Station) ([]Track, error) {
	resp, err := s.http.R().SetContext(ctx).Get(st.FeedURL)
	if err != nil {
		return nil, fmt.Errorf("fetching feed for %s: %w", st.ID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetching feed for %s: server returned %s", st.ID, resp.Status())
	}

	entries, err := decodeEntries(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("parsing feed for %s: %w", st.ID, err)
	}

	now := time.Now()
	var tracks []Track
	for _, e := range entries {
		title := e.Title
		if title == "" {
			title = e.Song
		}
		if e.Artist == "" || title == "" {
			continue
		}
		tracks = append(tracks, Track{Artist: e.Artist, Title: title, At: entryTime(e, now)})
	}
	return tracks, nil
}

func decodeEntries(body []byte) ([]jsonEntry, error) {
	var entries []jsonEntry
	if err := json.Unmarshal(body, &entries); err == nil {
		return entries, nil
	}
	var w jsonWrapper
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, err
	}
	switch {
	case len(w.Songs) > 0:
		return w.Songs, nil
	case len(w.Tracks) > 0:
		return w.Tracks, nil
	default:
		return w.NowPlaying, nil
	}
}

func entryTime(e jsonEntry, fallback time.Time) time.Time {
	for _, raw := range []string{e.PlayedAt, e.Time} {
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "15:04:05", "15:04"} {
			if t, err := time.Parse(layout, raw); err == nil {
				// Time-only formats inherit today's date.
				if t.Year() == 0 {
					t = time.Date(fallback.Year(), fallback.Month(), fallback.Day(),
						t.Hour(), t.Minute(), t.Second(), 0, fallback.Location())
				}
				return t
			}
		}
	}
	return fallback
}
