package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr[T any](v T) *T { return &v }

// staticResolver resolves every name to a fixed CAID scheme without any
// network. Names listed in pending come back as placeholders.
type staticResolver struct {
	pending map[string]bool
}

func (r *staticResolver) Resolve(name string) (string, string, error) {
	if r.pending[name] {
		return PendingPrefix + "test-" + name, name, nil
	}
	return "caid-" + name, name, nil
}

func addTestStation(t *testing.T, db *DB, id string) {
	t.Helper()
	err := db.AddStation(&Station{
		ID:      id,
		Name:    "Station " + id,
		FeedURL: "https://example.com/" + id + ".xml",
	})
	if err != nil {
		t.Fatalf("add station %s: %v", id, err)
	}
}

func record(t *testing.T, db *DB, r Resolver, station, artist, title string, at time.Time) bool {
	t.Helper()
	created, err := db.RecordPlay(r, PlayObservation{
		StationID: station, Artist: artist, Title: title, At: at, Seen: 1,
	})
	if err != nil {
		t.Fatalf("record play %s/%s: %v", artist, title, err)
	}
	return created
}

func TestStationLifecycle(t *testing.T) {
	db := openTestDB(t)
	addTestStation(t, db, "kexp")

	s, err := db.GetStation("kexp")
	if err != nil {
		t.Fatalf("get station: %v", err)
	}
	if s.FeedType != "rss" || s.WaitSeconds != 10 || !s.Enabled {
		t.Errorf("unexpected defaults: %+v", s)
	}

	if err := db.SetStationEnabled("kexp", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	enabled, err := db.ListEnabledStations()
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(enabled) != 0 {
		t.Errorf("expected no enabled stations, got %d", len(enabled))
	}

	if err := db.RemoveStation("kexp"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := db.GetStation("kexp"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStationFailureTracking(t *testing.T) {
	db := openTestDB(t)
	addTestStation(t, db, "kexp")

	for i := 1; i <= 3; i++ {
		n, err := db.MarkStationFailure("kexp")
		if err != nil {
			t.Fatalf("mark failure: %v", err)
		}
		if n != i {
			t.Errorf("failure %d: got streak %d", i, n)
		}
	}

	if err := db.MarkStationSuccess("kexp", time.Now()); err != nil {
		t.Fatalf("mark success: %v", err)
	}
	s, _ := db.GetStation("kexp")
	if s.ConsecutiveFailures != 0 {
		t.Errorf("streak not reset: %d", s.ConsecutiveFailures)
	}
	if s.LastSuccessAt == nil {
		t.Error("last_success_at not set")
	}
}

func TestRecordPlayHourBucketDedup(t *testing.T) {
	db := openTestDB(t)
	addTestStation(t, db, "kexp")
	r := &staticResolver{}

	at := time.Date(2026, 3, 1, 14, 22, 0, 0, time.UTC)
	if !record(t, db, r, "kexp", "Beyoncé", "Break My Soul", at) {
		t.Error("first observation should create a play")
	}
	// Same hour, later minute: the feed re-read must not inflate counts.
	if record(t, db, r, "kexp", "Beyoncé", "Break My Soul", at.Add(10*time.Minute)) {
		t.Error("re-observation within the hour should be a no-op")
	}
	// Next hour is a distinct bucket.
	if !record(t, db, r, "kexp", "Beyoncé", "Break My Soul", at.Add(time.Hour)) {
		t.Error("next hour should count")
	}

	songs, err := db.ListSongsByArtist("caid-Beyoncé")
	if err != nil {
		t.Fatalf("list songs: %v", err)
	}
	if len(songs) != 1 {
		t.Fatalf("expected one song, got %d", len(songs))
	}
	if songs[0].PlayCount != 2 {
		t.Errorf("play_count = %d, want 2", songs[0].PlayCount)
	}
}

func TestRecordPlaySeenCountTakesMax(t *testing.T) {
	db := openTestDB(t)
	addTestStation(t, db, "kexp")
	r := &staticResolver{}
	at := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)

	// A snapshot reporting the song twice in the hour raises the bucket to
	// 2; a later snapshot reporting it once must not lower it.
	if _, err := db.RecordPlay(r, PlayObservation{
		StationID: "kexp", Artist: "Fontaines D.C.", Title: "Starburster", At: at, Seen: 2,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	created, err := db.RecordPlay(r, PlayObservation{
		StationID: "kexp", Artist: "Fontaines D.C.", Title: "Starburster", At: at, Seen: 1,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if created {
		t.Error("lower snapshot count should not register")
	}

	songs, _ := db.ListSongsByArtist("caid-Fontaines D.C.")
	if len(songs) != 1 || songs[0].PlayCount != 2 {
		t.Fatalf("expected play_count 2, got %+v", songs)
	}
}

func TestRecordPlayFailureLeavesNoArtist(t *testing.T) {
	db := openTestDB(t)
	r := &staticResolver{}

	// No station row: the play insert violates its foreign key, and the
	// rollback must take the artist row with it.
	_, err := db.RecordPlay(r, PlayObservation{
		StationID: "ghost", Artist: "Big Thief", Title: "Simulation Swarm",
		At: time.Now(), Seen: 1,
	})
	if err == nil {
		t.Fatal("recording against an unknown station should fail")
	}
	if _, err := db.GetArtist("caid-Big Thief"); !errors.Is(err, ErrNotFound) {
		t.Errorf("failed play left an artist row behind: %v", err)
	}
}

func TestResolverCacheLookupIgnoresPlaceholders(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.UpsertArtist(PendingPrefix+"abc", "Mystery Act"); err != nil {
		t.Fatalf("upsert placeholder: %v", err)
	}
	if _, err := db.FindArtistByName("mystery act"); !errors.Is(err, ErrNotFound) {
		t.Errorf("placeholder must not be a cache hit, got %v", err)
	}
	if _, err := db.FindPlaceholderByName("Mystery Act"); err != nil {
		t.Errorf("placeholder lookup failed: %v", err)
	}

	if _, err := db.UpsertArtist("caid-1", "Mystery Act"); err != nil {
		t.Fatalf("upsert resolved: %v", err)
	}
	a, err := db.FindArtistByName("MYSTERY ACT")
	if err != nil {
		t.Fatalf("cache lookup: %v", err)
	}
	if a.CAID != "caid-1" {
		t.Errorf("cache hit CAID = %s", a.CAID)
	}
}

func TestPromotePlaceholderRewrite(t *testing.T) {
	db := openTestDB(t)
	addTestStation(t, db, "kexp")
	r := &staticResolver{pending: map[string]bool{"Rosalia": true}}
	record(t, db, r, "kexp", "Rosalia", "Despechá", time.Now())

	pending, err := db.ListPendingArtists()
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending artist, got %v (%v)", pending, err)
	}

	if err := db.PromotePlaceholder(pending[0].CAID, "caid-real", "ROSALÍA"); err != nil {
		t.Fatalf("promote: %v", err)
	}

	a, err := db.GetArtist("caid-real")
	if err != nil {
		t.Fatalf("get promoted: %v", err)
	}
	if a.Name != "ROSALÍA" {
		t.Errorf("name = %q", a.Name)
	}
	songs, _ := db.ListSongsByArtist("caid-real")
	if len(songs) != 1 {
		t.Errorf("songs did not move: %d", len(songs))
	}
	if remaining, _ := db.ListPendingArtists(); len(remaining) != 0 {
		t.Errorf("placeholder still present")
	}
}

func TestPromotePlaceholderMerge(t *testing.T) {
	db := openTestDB(t)
	addTestStation(t, db, "kexp")
	addTestStation(t, db, "wfmu")
	r := &staticResolver{pending: map[string]bool{"rosalia": true}}

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// Resolved artist with history on kexp.
	record(t, db, r, "kexp", "ROSALÍA", "Despechá", at)
	resolved, err := db.FindArtistByName("ROSALÍA")
	if err != nil {
		t.Fatalf("resolved artist missing: %v", err)
	}

	// Placeholder with the same title on another station and a colliding
	// bucket on kexp.
	record(t, db, r, "wfmu", "rosalia", "Despechá", at)
	record(t, db, r, "kexp", "rosalia", "Despechá", at)
	pending, _ := db.ListPendingArtists()
	if len(pending) != 1 {
		t.Fatalf("expected one placeholder")
	}

	if err := db.PromotePlaceholder(pending[0].CAID, resolved.CAID, resolved.Name); err != nil {
		t.Fatalf("merge promote: %v", err)
	}

	songs, _ := db.ListSongsByArtist(resolved.CAID)
	if len(songs) != 1 {
		t.Fatalf("expected one merged song, got %d", len(songs))
	}
	// kexp bucket collided (count stays 1) and the wfmu bucket moved over.
	if songs[0].PlayCount != 2 {
		t.Errorf("merged play_count = %d, want 2", songs[0].PlayCount)
	}
}

func TestPromoteRejectsNonPlaceholder(t *testing.T) {
	db := openTestDB(t)
	if err := db.PromotePlaceholder("caid-x", "caid-y", "X"); err == nil {
		t.Error("expected error promoting a resolved CAID")
	}
	if err := db.PromotePlaceholder(PendingPrefix+"x", PendingPrefix+"y", "X"); err == nil {
		t.Error("expected error promoting to a placeholder target")
	}
}

func TestOverrides(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.SetOverride("MGMT", PendingPrefix+"nope", false, nil); err == nil {
		t.Error("placeholder caid must be rejected")
	}

	o, err := db.SetOverride("MGMT", "caid-mgmt", false, ptr("often mistagged"))
	if err != nil {
		t.Fatalf("set override: %v", err)
	}
	if o.NameKey != "mgmt" || o.Verified {
		t.Errorf("unexpected override: %+v", o)
	}

	// Upsert on the same normalized name replaces the pin.
	if _, err := db.SetOverride("mgmt", "caid-mgmt2", true, nil); err != nil {
		t.Fatalf("replace override: %v", err)
	}
	o, err = db.GetOverride("MgMt")
	if err != nil {
		t.Fatalf("get override: %v", err)
	}
	if o.CAID != "caid-mgmt2" || !o.Verified {
		t.Errorf("override not replaced: %+v", o)
	}

	all, _ := db.ListOverrides()
	if len(all) != 1 {
		t.Errorf("expected one override, got %d", len(all))
	}

	if err := db.RemoveOverride("mgmt"); err != nil {
		t.Fatalf("remove override: %v", err)
	}
	if err := db.RemoveOverride("mgmt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPlaylistValidation(t *testing.T) {
	db := openTestDB(t)
	addTestStation(t, db, "kexp")

	base := func() *Playlist {
		return &Playlist{
			Name: "Heavy Rotation", IsAuto: true, MaxSongs: 50,
			Mode: ModeReplace, MinPlays: 1, Enabled: true,
		}
	}

	cases := []struct {
		name   string
		mutate func(*Playlist)
	}{
		{"unknown mode", func(p *Playlist) { p.Mode = "shuffle" }},
		{"zero max_songs", func(p *Playlist) { p.MaxSongs = 0 }},
		{"interval too small", func(p *Playlist) { p.IntervalMinutes = ptr(5) }},
		{"max below min", func(p *Playlist) { p.MinPlays = 5; p.MaxPlays = ptr(3) }},
		{"unknown station", func(p *Playlist) { p.StationIDs = []string{"nope"} }},
	}
	for _, tc := range cases {
		p := base()
		tc.mutate(p)
		if _, err := db.CreatePlaylist(p); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}

	if _, err := db.CreatePlaylist(base()); err != nil {
		t.Fatalf("valid playlist rejected: %v", err)
	}
}

func TestPlaylistSchedulingRoundTrip(t *testing.T) {
	db := openTestDB(t)
	p, err := db.CreatePlaylist(&Playlist{
		Name: "Fresh Finds", IsAuto: true, MaxSongs: 25, Mode: ModeMerge,
		MinPlays: 2, Days: ptr(7), IntervalMinutes: ptr(30), Enabled: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	due, err := db.ListDuePlaylists(time.Now().Add(time.Minute))
	if err != nil || len(due) != 1 {
		t.Fatalf("expected playlist due, got %v (%v)", due, err)
	}

	// Failure keeps last_updated empty but reschedules.
	if err := db.MarkPlaylistRun(p.ID, false, time.Now(), 60); err != nil {
		t.Fatalf("mark failure: %v", err)
	}
	p2, _ := db.GetPlaylist(p.ID)
	if p2.LastUpdated != nil {
		t.Error("last_updated must not advance on failure")
	}
	if p2.ConsecutiveFailures != 1 {
		t.Errorf("failures = %d", p2.ConsecutiveFailures)
	}
	if p2.NextUpdate == nil || !p2.NextUpdate.After(time.Now().Add(25*time.Minute)) {
		t.Error("next_update should honor the 30 minute interval")
	}

	if err := db.MarkPlaylistRun(p.ID, true, time.Now(), 60); err != nil {
		t.Fatalf("mark success: %v", err)
	}
	p3, _ := db.GetPlaylist(p.ID)
	if p3.LastUpdated == nil || p3.ConsecutiveFailures != 0 {
		t.Errorf("success not recorded: %+v", p3)
	}

	if due, _ := db.ListDuePlaylists(time.Now()); len(due) != 0 {
		t.Error("freshly run playlist should not be due")
	}
}

func TestChartsAndFilters(t *testing.T) {
	db := openTestDB(t)
	addTestStation(t, db, "kexp")
	addTestStation(t, db, "wfmu")
	r := &staticResolver{}

	now := time.Now().UTC().Truncate(time.Hour)
	for i := 0; i < 3; i++ {
		record(t, db, r, "kexp", "Big Thief", "Simulation Swarm", now.Add(-time.Duration(i)*time.Hour))
	}
	record(t, db, r, "wfmu", "Big Thief", "Simulation Swarm", now)
	record(t, db, r, "kexp", "Wet Leg", "Chaise Longue", now)
	// Old play outside a 7-day window.
	record(t, db, r, "kexp", "Old Band", "Old Song", now.AddDate(0, 0, -30))

	top, err := db.TopSongs(ChartFilter{Days: ptr(7), Limit: 10})
	if err != nil {
		t.Fatalf("top songs: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 songs in window, got %d", len(top))
	}
	if top[0].Title != "Simulation Swarm" || top[0].Plays != 4 || top[0].Stations != 2 {
		t.Errorf("unexpected leader: %+v", top[0])
	}

	onlyWfmu, _ := db.TopSongs(ChartFilter{StationIDs: []string{"wfmu"}})
	if len(onlyWfmu) != 1 || onlyWfmu[0].Plays != 1 {
		t.Errorf("station filter failed: %+v", onlyWfmu)
	}

	bounded, _ := db.TopSongs(ChartFilter{MinPlays: 2, MaxPlays: ptr(10)})
	if len(bounded) != 1 || bounded[0].Title != "Simulation Swarm" {
		t.Errorf("play bounds failed: %+v", bounded)
	}

	artists, err := db.TopArtists(ChartFilter{Days: ptr(7)})
	if err != nil {
		t.Fatalf("top artists: %v", err)
	}
	if len(artists) != 2 || artists[0].Name != "Big Thief" {
		t.Errorf("unexpected artist chart: %+v", artists)
	}

	recent, err := db.RecentPlays(2)
	if err != nil || len(recent) != 2 {
		t.Fatalf("recent plays: %v (%v)", recent, err)
	}

	dist, err := db.StationDistribution(7)
	if err != nil {
		t.Fatalf("station distribution: %v", err)
	}
	if len(dist) != 2 || dist[0].StationID != "kexp" {
		t.Errorf("unexpected distribution: %+v", dist)
	}
}

func TestTopSongsTieBreaksOnLastPlayed(t *testing.T) {
	db := openTestDB(t)
	addTestStation(t, db, "kexp")
	r := &staticResolver{}

	now := time.Now().UTC().Truncate(time.Hour)
	// Two songs with equal play counts; "Anti-Hero" was heard more recently.
	record(t, db, r, "kexp", "Taylor Swift", "Anti-Hero", now)
	record(t, db, r, "kexp", "Taylor Swift", "Anti-Hero", now.Add(-5*time.Hour))
	record(t, db, r, "kexp", "Boygenius", "Not Strong Enough", now.Add(-1*time.Hour))
	record(t, db, r, "kexp", "Boygenius", "Not Strong Enough", now.Add(-2*time.Hour))

	top, err := db.TopSongs(ChartFilter{Limit: 10})
	if err != nil {
		t.Fatalf("top songs: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 songs, got %d", len(top))
	}
	if top[0].Title != "Anti-Hero" {
		t.Errorf("most recently played song should lead the tie: %+v", top[0])
	}
}

func TestImportCandidates(t *testing.T) {
	db := openTestDB(t)
	addTestStation(t, db, "kexp")
	r := &staticResolver{pending: map[string]bool{"Unknown": true}}

	now := time.Now()
	for i := 0; i < 5; i++ {
		record(t, db, r, "kexp", "Big Thief", "Song", now.Add(-time.Duration(i)*time.Hour))
	}
	record(t, db, r, "kexp", "Wet Leg", "Song", now)
	record(t, db, r, "kexp", "Unknown", "Song", now)

	cands, err := db.ImportCandidates(5)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(cands) != 1 || cands[0].Name != "Big Thief" || cands[0].Plays != 5 {
		t.Fatalf("unexpected candidates: %+v", cands)
	}

	if err := db.MarkArtistImported(cands[0].CAID); err != nil {
		t.Fatalf("mark imported: %v", err)
	}
	if cands, _ := db.ImportCandidates(5); len(cands) != 0 {
		t.Error("imported artist still a candidate")
	}
}

func TestCleanup(t *testing.T) {
	db := openTestDB(t)
	addTestStation(t, db, "kexp")
	r := &staticResolver{pending: map[string]bool{"Ghost": true}}

	// Invalid name that slipped in.
	if _, err := db.UpsertArtist("caid-bad", "Artist One, Artist Two, Artist Three"); err != nil {
		t.Fatal(err)
	}
	// Placeholder with no songs.
	if _, err := db.UpsertArtist(PendingPrefix+"empty", "Nobody"); err != nil {
		t.Fatal(err)
	}
	// Protected by manual_override despite the bad name.
	if _, err := db.UpsertArtist("caid-keep", "A, B, C, D"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetArtistManualOverride("caid-keep", true); err != nil {
		t.Fatal(err)
	}
	// Healthy rows.
	record(t, db, r, "kexp", "Big Thief", "Simulation Swarm", time.Now())
	record(t, db, r, "kexp", "Ghost", "Spirit", time.Now())

	res, err := db.Cleanup(30, 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if res.InvalidArtists != 1 {
		t.Errorf("invalid_artists = %d, want 1", res.InvalidArtists)
	}
	if res.EmptyPlaceholders != 1 {
		t.Errorf("empty_placeholders = %d, want 1", res.EmptyPlaceholders)
	}

	// Recent placeholder with songs survives.
	if pending, _ := db.ListPendingArtists(); len(pending) != 1 {
		t.Errorf("retryable placeholder was removed")
	}
	if _, err := db.GetArtist("caid-keep"); err != nil {
		t.Errorf("manual override row was removed: %v", err)
	}
}

func TestCleanupKeepsNonLatinArtists(t *testing.T) {
	db := openTestDB(t)
	addTestStation(t, db, "kexp")
	r := &staticResolver{}
	record(t, db, r, "kexp", "宇多田ヒカル", "First Love", time.Now())

	res, err := db.Cleanup(30, 90)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if res.InvalidArtists != 0 {
		t.Errorf("invalid_artists = %d, want 0", res.InvalidArtists)
	}
	if _, err := db.GetArtist("caid-宇多田ヒカル"); err != nil {
		t.Errorf("cleanup deleted a valid non-Latin artist: %v", err)
	}
}

func TestCleanupRemovesSonglessResolvedArtists(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.UpsertArtist("caid-lonely", "Lonely Act"); err != nil {
		t.Fatal(err)
	}

	res, err := db.Cleanup(30, 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if res.OrphanArtists != 1 {
		t.Errorf("orphan_artists = %d, want 1", res.OrphanArtists)
	}
	if _, err := db.GetArtist("caid-lonely"); !errors.Is(err, ErrNotFound) {
		t.Errorf("resolved artist with no songs survived cleanup: %v", err)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	addTestStation(t, db, "kexp")
	r := &staticResolver{pending: map[string]bool{"Ghost": true}}
	record(t, db, r, "kexp", "Big Thief", "Simulation Swarm", time.Now())
	record(t, db, r, "kexp", "Ghost", "Spirit", time.Now())

	s, err := db.GetStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.Stations != 1 || s.Artists != 2 || s.PendingArtists != 1 || s.TotalPlays != 2 {
		t.Errorf("unexpected stats: %+v", s)
	}
	if s.DatabaseBytes <= 0 {
		t.Error("database size not reported")
	}
}
