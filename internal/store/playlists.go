package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Reconciliation modes for auto playlists.
const (
	ModeCreate   = "create"   // build once, never touch again
	ModeReplace  = "replace"  // clear and refill on each run
	ModeSnapshot = "snapshot" // dated copy per run, original untouched
	ModeMerge    = "merge"    // add missing, drop no-longer-qualifying
	ModeAppend   = "append"   // add missing, never remove
	ModeRecent   = "recent"   // replace with the most recently played
	ModeRandom   = "random"   // replace with a random qualifying sample
)

// ValidModes enumerates the accepted playlist modes.
var ValidModes = []string{
	ModeCreate, ModeReplace, ModeSnapshot, ModeMerge, ModeAppend, ModeRecent, ModeRandom,
}

func validMode(mode string) bool {
	for _, m := range ValidModes {
		if m == mode {
			return true
		}
	}
	return false
}

func validatePlaylist(p *Playlist) error {
	if p.Name == "" {
		return fmt.Errorf("playlist name is required")
	}
	if !validMode(p.Mode) {
		return fmt.Errorf("unknown playlist mode %q", p.Mode)
	}
	if p.MaxSongs < 1 {
		return fmt.Errorf("max_songs must be >= 1, got %d", p.MaxSongs)
	}
	if p.MinPlays < 1 {
		return fmt.Errorf("min_plays must be >= 1, got %d", p.MinPlays)
	}
	if p.MaxPlays != nil && *p.MaxPlays < p.MinPlays {
		return fmt.Errorf("max_plays %d is below min_plays %d", *p.MaxPlays, p.MinPlays)
	}
	if p.IntervalMinutes != nil && *p.IntervalMinutes < 10 {
		return fmt.Errorf("interval_minutes must be >= 10, got %d", *p.IntervalMinutes)
	}
	if p.Days != nil && *p.Days < 1 {
		return fmt.Errorf("days must be >= 1, got %d", *p.Days)
	}
	return nil
}

// CreatePlaylist stores a definition. Station IDs are checked against the
// stations table so a typo surfaces at creation, not on the first run.
func (db *DB) CreatePlaylist(p *Playlist) (*Playlist, error) {
	if err := validatePlaylist(p); err != nil {
		return nil, err
	}
	for _, sid := range p.StationIDs {
		if _, err := db.GetStation(sid); err != nil {
			return nil, fmt.Errorf("playlist %q: %w", p.Name, err)
		}
	}

	stationJSON, err := json.Marshal(p.StationIDs)
	if err != nil {
		return nil, fmt.Errorf("encoding station ids: %w", err)
	}
	if p.StationIDs == nil {
		stationJSON = []byte("[]")
	}

	res, err := db.conn.Exec(`
		INSERT INTO playlists (name, is_auto, interval_minutes, station_ids,
			max_songs, mode, min_plays, max_plays, days, enabled, next_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.IsAuto, p.IntervalMinutes, string(stationJSON),
		p.MaxSongs, p.Mode, p.MinPlays, p.MaxPlays, p.Days, p.Enabled,
		formatTime(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("creating playlist %q: %w", p.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating playlist %q: %w", p.Name, err)
	}
	return db.GetPlaylist(id)
}

// GetPlaylist fetches one definition by ID.
func (db *DB) GetPlaylist(id int64) (*Playlist, error) {
	row := db.conn.QueryRow(playlistSelect+" WHERE id = ?", id)
	p, err := scanPlaylist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("playlist %d: %w", id, ErrNotFound)
	}
	return p, err
}

// ListPlaylists returns all definitions ordered by name.
func (db *DB) ListPlaylists() ([]*Playlist, error) {
	return db.queryPlaylists(playlistSelect + " ORDER BY name COLLATE NOCASE")
}

// ListDuePlaylists returns enabled auto playlists whose next_update has
// passed.
func (db *DB) ListDuePlaylists(now time.Time) ([]*Playlist, error) {
	return db.queryPlaylists(
		playlistSelect+` WHERE enabled = 1 AND is_auto = 1
			AND next_update IS NOT NULL AND next_update <= ?
		ORDER BY next_update`, formatTime(now))
}

// UpdatePlaylist rewrites the mutable fields of a definition.
func (db *DB) UpdatePlaylist(p *Playlist) error {
	if err := validatePlaylist(p); err != nil {
		return err
	}
	stationJSON, err := json.Marshal(p.StationIDs)
	if err != nil {
		return fmt.Errorf("encoding station ids: %w", err)
	}
	if p.StationIDs == nil {
		stationJSON = []byte("[]")
	}
	res, err := db.conn.Exec(`
		UPDATE playlists SET name = ?, interval_minutes = ?, station_ids = ?,
			max_songs = ?, mode = ?, min_plays = ?, max_plays = ?, days = ?,
			enabled = ?
		WHERE id = ?`,
		p.Name, p.IntervalMinutes, string(stationJSON), p.MaxSongs, p.Mode,
		p.MinPlays, p.MaxPlays, p.Days, p.Enabled, p.ID)
	if err != nil {
		return fmt.Errorf("updating playlist %d: %w", p.ID, err)
	}
	return requireRow(res, fmt.Sprintf("playlist %d", p.ID))
}

// SetPlaylistEnabled toggles a definition.
func (db *DB) SetPlaylistEnabled(id int64, enabled bool) error {
	res, err := db.conn.Exec("UPDATE playlists SET enabled = ? WHERE id = ?", enabled, id)
	if err != nil {
		return fmt.Errorf("updating playlist %d: %w", id, err)
	}
	return requireRow(res, fmt.Sprintf("playlist %d", id))
}

// RemovePlaylist deletes a definition. The playlist on the media server is
// left alone.
func (db *DB) RemovePlaylist(id int64) error {
	res, err := db.conn.Exec("DELETE FROM playlists WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("removing playlist %d: %w", id, err)
	}
	return requireRow(res, fmt.Sprintf("playlist %d", id))
}

// MarkPlaylistRun records a run's outcome and schedules the next one.
// last_updated only advances on success, so a failing playlist is visible
// from its stale timestamp even while runs keep being attempted.
func (db *DB) MarkPlaylistRun(id int64, success bool, now time.Time, defaultInterval int) error {
	p, err := db.GetPlaylist(id)
	if err != nil {
		return err
	}
	interval := defaultInterval
	if p.IntervalMinutes != nil {
		interval = *p.IntervalMinutes
	}
	next := formatTime(now.Add(time.Duration(interval) * time.Minute))

	if success {
		_, err = db.conn.Exec(`
			UPDATE playlists SET last_updated = ?, next_update = ?,
				consecutive_failures = 0
			WHERE id = ?`, formatTime(now), next, id)
	} else {
		_, err = db.conn.Exec(`
			UPDATE playlists SET next_update = ?,
				consecutive_failures = consecutive_failures + 1
			WHERE id = ?`, next, id)
	}
	if err != nil {
		return fmt.Errorf("recording playlist %d run: %w", id, err)
	}
	return nil
}

const playlistSelect = `
	SELECT id, name, is_auto, interval_minutes, station_ids, max_songs, mode,
	       min_plays, max_plays, days, enabled, last_updated, next_update,
	       consecutive_failures, created_at
	FROM playlists`

func (db *DB) queryPlaylists(query string, args ...any) ([]*Playlist, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*Playlist
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, p)
	}
	return playlists, rows.Err()
}

func scanPlaylist(row rowScanner) (*Playlist, error) {
	var p Playlist
	var stationJSON, created string
	var lastUpdated, nextUpdate *string
	err := row.Scan(&p.ID, &p.Name, &p.IsAuto, &p.IntervalMinutes, &stationJSON,
		&p.MaxSongs, &p.Mode, &p.MinPlays, &p.MaxPlays, &p.Days, &p.Enabled,
		&lastUpdated, &nextUpdate, &p.ConsecutiveFailures, &created)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stationJSON), &p.StationIDs); err != nil {
		return nil, fmt.Errorf("decoding station ids for playlist %d: %w", p.ID, err)
	}
	if lastUpdated != nil {
		t := parseTime(*lastUpdated)
		p.LastUpdated = &t
	}
	if nextUpdate != nil {
		t := parseTime(*nextUpdate)
		p.NextUpdate = &t
	}
	p.CreatedAt = parseTime(created)
	return &p, nil
}
