package store

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
)

// CleanupResult reports how many rows each cleanup rule removed.
type CleanupResult struct {
	InvalidArtists    int64 `json:"invalid_artists"`
	OrphanSongs       int64 `json:"orphan_songs"`
	OrphanArtists     int64 `json:"orphan_artists"`
	EmptyPlaceholders int64 `json:"empty_placeholders"`
	AgedPlaceholders  int64 `json:"aged_placeholders"`
	PrunedPlays       int64 `json:"pruned_plays"`
	Vacuumed          bool  `json:"vacuumed"`
}

// Total returns the number of rows removed across all rules.
func (r CleanupResult) Total() int64 {
	return r.InvalidArtists + r.OrphanSongs + r.OrphanArtists +
		r.EmptyPlaceholders + r.AgedPlaceholders + r.PrunedPlays
}

// invalidArtistName mirrors the resolver's ingest validation so cleanup
// never destroys a name the resolver would accept. Letter detection is
// Unicode-aware: non-Latin names are valid.
func invalidArtistName(name string) bool {
	if len(name) > 100 || strings.Count(name, ",") >= 2 {
		return true
	}
	for _, r := range name {
		if unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// Cleanup removes rows that should never have been stored or have outlived
// their usefulness. pendingDays bounds placeholder age; activityDays, when
// positive, prunes play history older than the window. Artists flagged
// manual_override are never touched. Vacuum runs only when something was
// deleted.
func (db *DB) Cleanup(pendingDays, activityDays int) (*CleanupResult, error) {
	var res CleanupResult

	// Names that slipped past ingest validation: too long, multi-comma
	// dumps of an entire credits line, or containing no letter at all.
	// The letter check needs unicode.IsLetter, so the scan runs in Go.
	rows, err := db.conn.Query("SELECT caid, name FROM artists WHERE manual_override = 0")
	if err != nil {
		return nil, fmt.Errorf("cleanup invalid artists: %w", err)
	}
	var invalid []string
	for rows.Next() {
		var caid, name string
		if err := rows.Scan(&caid, &name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("cleanup invalid artists: %w", err)
		}
		if invalidArtistName(name) {
			invalid = append(invalid, caid)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cleanup invalid artists: %w", err)
	}
	for _, caid := range invalid {
		n, err := db.execCount("DELETE FROM artists WHERE caid = ?", caid)
		if err != nil {
			return nil, fmt.Errorf("cleanup invalid artists: %w", err)
		}
		res.InvalidArtists += n
	}

	// Songs with no surviving plays (left behind by merges or pruning).
	n, err := db.execCount(`
		DELETE FROM songs
		WHERE NOT EXISTS (SELECT 1 FROM plays WHERE plays.song_id = songs.id)`)
	if err != nil {
		return nil, fmt.Errorf("cleanup orphan songs: %w", err)
	}
	res.OrphanSongs = n

	// Placeholders that no longer own any songs have nothing to retry for.
	n, err = db.execCount(`
		DELETE FROM artists
		WHERE caid LIKE ? AND manual_override = 0
		  AND NOT EXISTS (SELECT 1 FROM songs WHERE songs.artist_caid = artists.caid)`,
		PendingPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("cleanup empty placeholders: %w", err)
	}
	res.EmptyPlaceholders = n

	// Resolved artists left with no songs at all, typically after play
	// pruning or a merge emptied them out.
	n, err = db.execCount(`
		DELETE FROM artists
		WHERE caid NOT LIKE ? AND manual_override = 0
		  AND NOT EXISTS (SELECT 1 FROM songs WHERE songs.artist_caid = artists.caid)`,
		PendingPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("cleanup orphan artists: %w", err)
	}
	res.OrphanArtists = n

	// Placeholders past the retry window: the identity service is never
	// going to learn this name. Cascade removes their songs and plays.
	if pendingDays > 0 {
		n, err = db.execCount(`
			DELETE FROM artists
			WHERE caid LIKE ? AND manual_override = 0 AND first_seen_at < ?`,
			PendingPrefix+"%", daysAgo(pendingDays))
		if err != nil {
			return nil, fmt.Errorf("cleanup aged placeholders: %w", err)
		}
		res.AgedPlaceholders = n
	}

	if activityDays > 0 {
		n, err = db.execCount(
			"DELETE FROM plays WHERE hour_bucket < ?", daysAgo(activityDays))
		if err != nil {
			return nil, fmt.Errorf("cleanup old plays: %w", err)
		}
		res.PrunedPlays = n
		if n > 0 {
			// Denormalized counters must follow the pruned history.
			if _, err := db.conn.Exec(`
				UPDATE songs SET
					play_count = (SELECT COALESCE(SUM(count),0) FROM plays WHERE song_id = songs.id)`); err != nil {
				return nil, fmt.Errorf("cleanup recounting songs: %w", err)
			}
		}
	}

	if res.Total() > 0 {
		if err := db.Vacuum(); err != nil {
			return nil, fmt.Errorf("cleanup vacuum: %w", err)
		}
		res.Vacuumed = true
	}

	log.Info().
		Int64("invalid_artists", res.InvalidArtists).
		Int64("orphan_songs", res.OrphanSongs).
		Int64("orphan_artists", res.OrphanArtists).
		Int64("empty_placeholders", res.EmptyPlaceholders).
		Int64("aged_placeholders", res.AgedPlaceholders).
		Int64("pruned_plays", res.PrunedPlays).
		Msg("cleanup complete")
	return &res, nil
}

func (db *DB) execCount(query string, args ...any) (int64, error) {
	res, err := db.conn.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
