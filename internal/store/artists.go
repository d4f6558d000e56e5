package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/spinwatch/spinwatch/internal/normalize"
)

// UpsertArtist inserts an artist if its CAID is new, otherwise returns the
// existing row untouched. Placeholder rows keep their original name so the
// retry job can re-query it.
func (db *DB) UpsertArtist(caid, name string) (*Artist, error) {
	name = normalize.Name(name)
	_, err := db.conn.Exec(`
		INSERT INTO artists (caid, name, name_key)
		VALUES (?, ?, ?)
		ON CONFLICT(caid) DO NOTHING`,
		caid, name, normalize.Key(name))
	if err != nil {
		return nil, fmt.Errorf("upserting artist %q: %w", name, err)
	}
	return db.GetArtist(caid)
}

// GetArtist fetches one artist by CAID.
func (db *DB) GetArtist(caid string) (*Artist, error) {
	row := db.conn.QueryRow(`
		SELECT caid, name, name_key, first_seen_at, imported, manual_override
		FROM artists WHERE caid = ?`, caid)
	a, err := scanArtist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artist %s: %w", caid, ErrNotFound)
	}
	return a, err
}

// FindArtistByName looks up a resolved artist by normalized name. This is
// the resolver's cache tier: only non-placeholder rows count as hits, so a
// stale placeholder never shadows a future successful resolution.
func (db *DB) FindArtistByName(name string) (*Artist, error) {
	row := db.conn.QueryRow(`
		SELECT caid, name, name_key, first_seen_at, imported, manual_override
		FROM artists
		WHERE name_key = ? AND caid NOT LIKE ?
		LIMIT 1`, normalize.Key(name), PendingPrefix+"%")
	a, err := scanArtist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artist %q: %w", name, ErrNotFound)
	}
	return a, err
}

// FindPlaceholderByName returns an existing placeholder for a name, if any,
// so repeated failed resolutions reuse one placeholder instead of minting
// new ones.
func (db *DB) FindPlaceholderByName(name string) (*Artist, error) {
	row := db.conn.QueryRow(`
		SELECT caid, name, name_key, first_seen_at, imported, manual_override
		FROM artists
		WHERE name_key = ? AND caid LIKE ?
		LIMIT 1`, normalize.Key(name), PendingPrefix+"%")
	a, err := scanArtist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("placeholder %q: %w", name, ErrNotFound)
	}
	return a, err
}

// ListPendingArtists returns all placeholder rows, oldest first, for the
// retry job.
func (db *DB) ListPendingArtists() ([]*Artist, error) {
	return db.queryArtists(`
		SELECT caid, name, name_key, first_seen_at, imported, manual_override
		FROM artists WHERE caid LIKE ?
		ORDER BY first_seen_at`, PendingPrefix+"%")
}

// ListArtists returns every artist ordered by name.
func (db *DB) ListArtists() ([]*Artist, error) {
	return db.queryArtists(`
		SELECT caid, name, name_key, first_seen_at, imported, manual_override
		FROM artists ORDER BY name COLLATE NOCASE`)
}

// PromotePlaceholder rewrites a placeholder CAID to a resolved one in a
// single transaction, moving the songs beneath it. If the resolved artist
// already exists, songs are re-pointed and merged (play counts summed on
// title collision) and the placeholder row is deleted.
func (db *DB) PromotePlaceholder(placeholder, caid, canonicalName string) error {
	if !IsPending(placeholder) {
		return fmt.Errorf("promote: %s is not a placeholder", placeholder)
	}
	if IsPending(caid) {
		return fmt.Errorf("promote: target %s is a placeholder", caid)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("promote %s: %w", placeholder, err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM artists WHERE caid = ?)", caid).Scan(&exists); err != nil {
		return fmt.Errorf("promote %s: %w", placeholder, err)
	}

	canonicalName = normalize.Name(canonicalName)
	if !exists {
		// The placeholder's songs still reference its CAID, so updating
		// the key in place trips the foreign key. Insert the resolved
		// row, move the songs over, then drop the placeholder.
		var firstSeen string
		var manual bool
		err := tx.QueryRow(
			"SELECT first_seen_at, manual_override FROM artists WHERE caid = ?",
			placeholder).Scan(&firstSeen, &manual)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("placeholder %s: %w", placeholder, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("promote %s: %w", placeholder, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO artists (caid, name, name_key, first_seen_at, manual_override)
			VALUES (?, ?, ?, ?, ?)`,
			caid, canonicalName, normalize.Key(canonicalName), firstSeen, manual); err != nil {
			return fmt.Errorf("promote %s: %w", placeholder, err)
		}
		if _, err := tx.Exec(
			"UPDATE songs SET artist_caid = ? WHERE artist_caid = ?",
			caid, placeholder); err != nil {
			return fmt.Errorf("promote %s: %w", placeholder, err)
		}
		if _, err := tx.Exec("DELETE FROM artists WHERE caid = ?", placeholder); err != nil {
			return fmt.Errorf("promote %s: %w", placeholder, err)
		}
		return tx.Commit()
	}

	// Merge into the existing artist. Titles already present on the target
	// absorb the placeholder's plays; the rest move over.
	rows, err := tx.Query(`
		SELECT p.id, p.normalized_title, t.id
		FROM songs p
		LEFT JOIN songs t ON t.artist_caid = ? AND t.normalized_title = p.normalized_title
		WHERE p.artist_caid = ?`, caid, placeholder)
	if err != nil {
		return fmt.Errorf("promote %s: %w", placeholder, err)
	}
	type move struct {
		from int64
		to   *int64
	}
	var moves []move
	for rows.Next() {
		var m move
		var title string
		if err := rows.Scan(&m.from, &title, &m.to); err != nil {
			rows.Close()
			return fmt.Errorf("promote %s: %w", placeholder, err)
		}
		moves = append(moves, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("promote %s: %w", placeholder, err)
	}

	for _, m := range moves {
		if m.to == nil {
			if _, err := tx.Exec(
				"UPDATE songs SET artist_caid = ? WHERE id = ?", caid, m.from); err != nil {
				return fmt.Errorf("promote %s: %w", placeholder, err)
			}
			continue
		}
		if _, err := tx.Exec(`
			UPDATE plays SET song_id = ?
			WHERE song_id = ? AND NOT EXISTS (
				SELECT 1 FROM plays p2
				WHERE p2.song_id = ? AND p2.station_id = plays.station_id
				  AND p2.hour_bucket = plays.hour_bucket)`,
			*m.to, m.from, *m.to); err != nil {
			return fmt.Errorf("promote %s: %w", placeholder, err)
		}
		// Colliding buckets: keep the larger count on the target.
		if _, err := tx.Exec(`
			UPDATE plays SET count = MAX(count, (
				SELECT p2.count FROM plays p2
				WHERE p2.song_id = ? AND p2.station_id = plays.station_id
				  AND p2.hour_bucket = plays.hour_bucket))
			WHERE song_id = ? AND EXISTS (
				SELECT 1 FROM plays p2
				WHERE p2.song_id = ? AND p2.station_id = plays.station_id
				  AND p2.hour_bucket = plays.hour_bucket)`,
			m.from, *m.to, m.from); err != nil {
			return fmt.Errorf("promote %s: %w", placeholder, err)
		}
		if _, err := tx.Exec("DELETE FROM songs WHERE id = ?", m.from); err != nil {
			return fmt.Errorf("promote %s: %w", placeholder, err)
		}
		if _, err := tx.Exec(`
			UPDATE songs SET
				play_count = (SELECT COALESCE(SUM(count),0) FROM plays WHERE song_id = songs.id),
				last_played_at = (SELECT MAX(hour_bucket) FROM plays WHERE song_id = songs.id)
			WHERE id = ?`, *m.to); err != nil {
			return fmt.Errorf("promote %s: %w", placeholder, err)
		}
	}

	if _, err := tx.Exec("DELETE FROM artists WHERE caid = ?", placeholder); err != nil {
		return fmt.Errorf("promote %s: %w", placeholder, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("promote %s: %w", placeholder, err)
	}
	log.Info().Str("placeholder", placeholder).Str("caid", caid).Str("name", canonicalName).
		Msg("merged placeholder into existing artist")
	return nil
}

// MarkArtistImported flags an artist as present in the library manager.
func (db *DB) MarkArtistImported(caid string) error {
	res, err := db.conn.Exec("UPDATE artists SET imported = 1 WHERE caid = ?", caid)
	if err != nil {
		return fmt.Errorf("marking artist %s imported: %w", caid, err)
	}
	return requireRow(res, "artist "+caid)
}

// SetArtistManualOverride flags that this artist's CAID came from an
// operator override, exempting it from automatic cleanup.
func (db *DB) SetArtistManualOverride(caid string, v bool) error {
	res, err := db.conn.Exec("UPDATE artists SET manual_override = ? WHERE caid = ?", v, caid)
	if err != nil {
		return fmt.Errorf("updating artist %s: %w", caid, err)
	}
	return requireRow(res, "artist "+caid)
}

func (db *DB) queryArtists(query string, args ...any) ([]*Artist, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying artists: %w", err)
	}
	defer rows.Close()

	var artists []*Artist
	for rows.Next() {
		a, err := scanArtist(rows)
		if err != nil {
			return nil, err
		}
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

func scanArtist(row rowScanner) (*Artist, error) {
	var a Artist
	var firstSeen string
	if err := row.Scan(&a.CAID, &a.Name, &a.NameKey, &firstSeen, &a.Imported, &a.ManualOverride); err != nil {
		return nil, err
	}
	a.FirstSeenAt = parseTime(firstSeen)
	return &a, nil
}
