package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spinwatch/spinwatch/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type staticResolver struct{}

func (staticResolver) Resolve(name string) (string, string, error) {
	return "caid-" + name, name, nil
}

type fakeScraper struct {
	tracks []Track
	err    error
	calls  int
}

func (f *fakeScraper) Fetch(_ context.Context, _ *store.Station) ([]Track, error) {
	f.calls++
	return f.tracks, f.err
}

func TestSplitItemTitle(t *testing.T) {
	cases := []struct {
		in            string
		artist, title string
		ok            bool
	}{
		{"Wet Leg - Chaise Longue", "Wet Leg", "Chaise Longue", true},
		{"Wet Leg – Chaise Longue", "Wet Leg", "Chaise Longue", true},
		{"Soccer Mommy - circle the drain - Radio Edit", "Soccer Mommy", "circle the drain - Radio Edit", true},
		{"Morning show starts at 6", "", "", false},
		{"- No Artist", "", "", false},
	}
	for _, tc := range cases {
		artist, title, ok := splitItemTitle(tc.in)
		if artist != tc.artist || title != tc.title || ok != tc.ok {
			t.Errorf("splitItemTitle(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.in, artist, title, ok, tc.artist, tc.title, tc.ok)
		}
	}
}

func TestBucketObservations(t *testing.T) {
	at := time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC)
	tracks := []Track{
		{Artist: "Wet Leg", Title: "Chaise Longue", At: at},
		// Same song again in the same hour: raises Seen.
		{Artist: "Wet Leg", Title: "Chaise Longue", At: at.Add(20 * time.Minute)},
		// Collaboration: one play per constituent.
		{Artist: "Doja Cat feat. SZA", Title: "Kiss Me More", At: at},
	}

	obs := bucketObservations("kexp", tracks)
	if len(obs) != 3 {
		t.Fatalf("expected 3 observations, got %d: %+v", len(obs), obs)
	}
	if obs[0].Artist != "Wet Leg" || obs[0].Seen != 2 {
		t.Errorf("dedup failed: %+v", obs[0])
	}
	if obs[1].Artist != "Doja Cat" || obs[1].Seen != 1 {
		t.Errorf("collaboration split failed: %+v", obs[1])
	}
	if obs[2].Artist != "SZA" {
		t.Errorf("collaboration split failed: %+v", obs[2])
	}
}

func TestRSSScraperFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(`<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>Now Playing</title>
  <item><title>Wet Leg - Chaise Longue</title><pubDate>Sun, 01 Mar 2026 14:05:00 GMT</pubDate></item>
  <item><title>Station announcement</title></item>
  <item><title>Big Thief - Simulation Swarm</title><pubDate>Sun, 01 Mar 2026 13:48:00 GMT</pubDate></item>
</channel></rss>`))
	}))
	defer srv.Close()

	s := NewRSSScraper(10 * time.Second)
	tracks, err := s.Fetch(context.Background(), &store.Station{ID: "kexp", FeedURL: srv.URL})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(tracks))
	}
	if tracks[0].Artist != "Wet Leg" || tracks[0].Title != "Chaise Longue" {
		t.Errorf("unexpected track: %+v", tracks[0])
	}
	if tracks[0].At.UTC().Hour() != 14 {
		t.Errorf("pubDate not used: %v", tracks[0].At)
	}
}

func TestJSONScraperShapes(t *testing.T) {
	bodies := map[string]string{
		"bare array": `[{"artist":"Wet Leg","title":"Chaise Longue","played_at":"2026-03-01T14:05:00Z"}]`,
		"songs key":  `{"songs":[{"artist":"Wet Leg","song":"Chaise Longue"}]}`,
		"nowplaying": `{"nowplaying":[{"artist":"Wet Leg","title":"Chaise Longue","time":"14:05"}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(body))
			}))
			defer srv.Close()

			s := NewJSONScraper(10 * time.Second)
			tracks, err := s.Fetch(context.Background(), &store.Station{ID: "x", FeedURL: srv.URL})
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if len(tracks) != 1 || tracks[0].Artist != "Wet Leg" || tracks[0].Title != "Chaise Longue" {
				t.Fatalf("unexpected tracks: %+v", tracks)
			}
		})
	}
}

func TestJSONScraperServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewJSONScraper(10 * time.Second)
	if _, err := s.Fetch(context.Background(), &store.Station{ID: "x", FeedURL: srv.URL}); err == nil {
		t.Error("expected error for 502 response")
	}
}

func mustAddStation(t *testing.T, db *store.DB, id, feedType string) {
	t.Helper()
	err := db.AddStation(&store.Station{
		ID:          id,
		Name:        "Station " + id,
		FeedURL:     "https://example.com/" + id,
		FeedType:    feedType,
		WaitSeconds: 1,
	})
	if err != nil {
		t.Fatalf("add station %s: %v", id, err)
	}
}

func TestIngesterRun(t *testing.T) {
	db := openTestDB(t)
	mustAddStation(t, db, "bad", "json")
	mustAddStation(t, db, "good", "rss")

	good := &fakeScraper{tracks: []Track{
		{Artist: "Wet Leg", Title: "Chaise Longue", At: time.Now()},
		{Artist: "Big Thief", Title: "Simulation Swarm", At: time.Now()},
	}}
	bad := &fakeScraper{err: errors.New("connection refused")}

	ing := NewIngester(db, staticResolver{}, Registry{"rss": good, "json": bad}, 5)
	stats, err := ing.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Stations != 2 || stats.Failed != 1 || stats.NewPlays != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	// The failing station's streak is visible; the healthy one reset.
	st, _ := db.GetStation("bad")
	if st.ConsecutiveFailures != 1 {
		t.Errorf("bad station streak = %d", st.ConsecutiveFailures)
	}
	st, _ = db.GetStation("good")
	if st.ConsecutiveFailures != 0 || st.LastSuccessAt == nil {
		t.Errorf("good station not marked healthy: %+v", st)
	}

	// A second pass re-reading the same feed adds no plays.
	stats, err = ing.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.NewPlays != 0 {
		t.Errorf("feed re-read inflated plays: %+v", stats)
	}
}

func TestIngesterUnknownFeedType(t *testing.T) {
	db := openTestDB(t)
	mustAddStation(t, db, "odd", "soap")

	ing := NewIngester(db, staticResolver{}, NewRegistry(time.Second), 5)
	stats, err := ing.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("unknown feed type should count as a failure: %+v", stats)
	}
}
