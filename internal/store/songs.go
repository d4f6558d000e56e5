package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spinwatch/spinwatch/internal/normalize"
)

// Resolver maps a raw artist credit to a canonical artist ID. Implemented
// by the identity package; defined here so the store does not import it.
// A Resolver that cannot resolve a name — including when the identity
// service is down or throttling — returns a PENDING- placeholder rather
// than an error; errors are reserved for rejected names.
type Resolver interface {
	Resolve(name string) (caid string, canonicalName string, err error)
}

// PlayObservation is one (artist, title) sighting from a station feed. Seen
// is how many times the song appeared in the current snapshot's window for
// its hour; it is at least 1.
type PlayObservation struct {
	StationID string
	Artist    string
	Title     string
	At        time.Time
	Seen      int
}

// RecordPlay records an observation. The artist is resolved through the
// Resolver, the song is upserted under the canonical artist, and the play
// row for (song, station, hour) takes the larger of the stored and observed
// counts. Re-reading an unchanged feed is therefore a no-op: the song
// play_count only moves by the bucket delta.
//
// Returns true when the observation increased the bucket count.
func (db *DB) RecordPlay(r Resolver, obs PlayObservation) (bool, error) {
	caid, canonical, err := r.Resolve(obs.Artist)
	if err != nil {
		return false, fmt.Errorf("resolving %q: %w", obs.Artist, err)
	}

	title := normalize.Title(obs.Title)
	seen := obs.Seen
	if seen < 1 {
		seen = 1
	}
	bucket := formatTime(HourBucket(obs.At))

	tx, err := db.conn.Begin()
	if err != nil {
		return false, fmt.Errorf("recording play: %w", err)
	}
	defer tx.Rollback()

	// Artist, song and play land in one transaction so a failure leaves no
	// stray artist row behind.
	name := normalize.Name(canonical)
	if _, err := tx.Exec(`
		INSERT INTO artists (caid, name, name_key)
		VALUES (?, ?, ?)
		ON CONFLICT(caid) DO NOTHING`,
		caid, name, normalize.Key(name)); err != nil {
		return false, fmt.Errorf("upserting artist %q: %w", name, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO songs (artist_caid, title, normalized_title)
		VALUES (?, ?, ?)
		ON CONFLICT(artist_caid, normalized_title) DO NOTHING`,
		caid, title, normalize.Key(title)); err != nil {
		return false, fmt.Errorf("upserting song %q: %w", title, err)
	}

	var songID int64
	if err := tx.QueryRow(`
		SELECT id FROM songs WHERE artist_caid = ? AND normalized_title = ?`,
		caid, normalize.Key(title)).Scan(&songID); err != nil {
		return false, fmt.Errorf("looking up song %q: %w", title, err)
	}

	var existing int
	err = tx.QueryRow(`
		SELECT count FROM plays
		WHERE song_id = ? AND station_id = ? AND hour_bucket = ?`,
		songID, obs.StationID, bucket).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing = -1
	case err != nil:
		return false, fmt.Errorf("reading play bucket: %w", err)
	}

	delta := 0
	switch {
	case existing < 0:
		if _, err := tx.Exec(`
			INSERT INTO plays (song_id, station_id, hour_bucket, count)
			VALUES (?, ?, ?, ?)`,
			songID, obs.StationID, bucket, seen); err != nil {
			return false, fmt.Errorf("inserting play: %w", err)
		}
		delta = seen
	case seen > existing:
		if _, err := tx.Exec(`
			UPDATE plays SET count = ?
			WHERE song_id = ? AND station_id = ? AND hour_bucket = ?`,
			seen, songID, obs.StationID, bucket); err != nil {
			return false, fmt.Errorf("updating play: %w", err)
		}
		delta = seen - existing
	}

	if delta > 0 {
		if _, err := tx.Exec(`
			UPDATE songs SET play_count = play_count + ?,
				last_played_at = MAX(COALESCE(last_played_at, ''), ?)
			WHERE id = ?`,
			delta, formatTime(obs.At), songID); err != nil {
			return false, fmt.Errorf("updating song counters: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("recording play: %w", err)
	}
	return delta > 0, nil
}

// GetSong fetches one song by ID.
func (db *DB) GetSong(id int64) (*Song, error) {
	row := db.conn.QueryRow(`
		SELECT id, artist_caid, title, normalized_title, first_seen_at,
		       last_played_at, play_count
		FROM songs WHERE id = ?`, id)
	s, err := scanSong(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("song %d: %w", id, ErrNotFound)
	}
	return s, err
}

// ListSongsByArtist returns an artist's songs, most played first.
func (db *DB) ListSongsByArtist(caid string) ([]*Song, error) {
	rows, err := db.conn.Query(`
		SELECT id, artist_caid, title, normalized_title, first_seen_at,
		       last_played_at, play_count
		FROM songs WHERE artist_caid = ?
		ORDER BY play_count DESC, title`, caid)
	if err != nil {
		return nil, fmt.Errorf("querying songs for %s: %w", caid, err)
	}
	defer rows.Close()

	var songs []*Song
	for rows.Next() {
		s, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		songs = append(songs, s)
	}
	return songs, rows.Err()
}

func scanSong(row rowScanner) (*Song, error) {
	var s Song
	var firstSeen string
	var lastPlayed *string
	err := row.Scan(&s.ID, &s.ArtistCAID, &s.Title, &s.NormalizedTitle,
		&firstSeen, &lastPlayed, &s.PlayCount)
	if err != nil {
		return nil, err
	}
	s.FirstSeenAt = parseTime(firstSeen)
	if lastPlayed != nil {
		t := parseTime(*lastPlayed)
		s.LastPlayedAt = &t
	}
	return &s, nil
}
