package store

import (
	"fmt"
	"os"
	"strings"
)

// ChartFilter bounds a chart or projection query. Days nil means all time;
// StationIDs empty means all stations; MaxPlays nil means unbounded above.
type ChartFilter struct {
	Days       *int
	StationIDs []string
	MinPlays   int
	MaxPlays   *int
	Limit      int
	// ExcludePending drops placeholder artists. The playlist projection
	// sets it; the charts keep placeholders visible so unresolved names
	// are not silently invisible.
	ExcludePending bool
}

// Orderings for ProjectSongs.
const (
	OrderTop    = "top"    // play count descending
	OrderRecent = "recent" // latest bucket first
	OrderRandom = "random"
)

// whereClause builds the shared filter SQL over the plays join. The
// aggregate bounds (min/max plays) go in HAVING and are returned separately.
func (f ChartFilter) whereClause() (where string, having string, args []any, havingArgs []any) {
	var conds []string
	if f.Days != nil {
		conds = append(conds, "p.hour_bucket >= ?")
		args = append(args, daysAgo(*f.Days))
	}
	if len(f.StationIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.StationIDs)), ",")
		conds = append(conds, "p.station_id IN ("+placeholders+")")
		for _, sid := range f.StationIDs {
			args = append(args, sid)
		}
	}
	if f.ExcludePending {
		conds = append(conds, "a.caid NOT LIKE ?")
		args = append(args, PendingPrefix+"%")
	}
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var hconds []string
	if f.MinPlays > 1 {
		hconds = append(hconds, "SUM(p.count) >= ?")
		havingArgs = append(havingArgs, f.MinPlays)
	}
	if f.MaxPlays != nil {
		hconds = append(hconds, "SUM(p.count) <= ?")
		havingArgs = append(havingArgs, *f.MaxPlays)
	}
	if len(hconds) > 0 {
		having = " HAVING " + strings.Join(hconds, " AND ")
	}
	return
}

// TopSongs returns the ranked song chart for the filter window.
func (db *DB) TopSongs(f ChartFilter) ([]*TopSong, error) {
	return db.ProjectSongs(f, OrderTop)
}

// ProjectSongs runs the chart query with the given ordering. This is the
// playlist engine's candidate projection.
func (db *DB) ProjectSongs(f ChartFilter, order string) ([]*TopSong, error) {
	where, having, args, havingArgs := f.whereClause()

	orderBy := ""
	switch order {
	case OrderTop:
		// Ties on play count break toward the song heard most recently.
		orderBy = " ORDER BY plays DESC, s.last_played_at DESC, a.name, s.title"
	case OrderRecent:
		orderBy = " ORDER BY MAX(p.hour_bucket) DESC, plays DESC"
	case OrderRandom:
		orderBy = " ORDER BY RANDOM()"
	default:
		return nil, fmt.Errorf("unknown ordering %q", order)
	}

	query := `
		SELECT s.id, a.name, a.caid, s.title,
		       SUM(p.count) AS plays,
		       COUNT(DISTINCT p.station_id) AS stations
		FROM plays p
		JOIN songs s ON s.id = p.song_id
		JOIN artists a ON a.caid = s.artist_caid` +
		where + " GROUP BY s.id" + having + orderBy
	args = append(args, havingArgs...)
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying song chart: %w", err)
	}
	defer rows.Close()

	var out []*TopSong
	for rows.Next() {
		var t TopSong
		if err := rows.Scan(&t.SongID, &t.Artist, &t.ArtistCAID, &t.Title, &t.Plays, &t.Stations); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// TopArtists returns the ranked artist chart for the filter window.
func (db *DB) TopArtists(f ChartFilter) ([]*TopArtist, error) {
	where, having, args, havingArgs := f.whereClause()

	query := `
		SELECT a.caid, a.name,
		       SUM(p.count) AS plays,
		       COUNT(DISTINCT s.id) AS songs,
		       a.imported
		FROM plays p
		JOIN songs s ON s.id = p.song_id
		JOIN artists a ON a.caid = s.artist_caid` +
		where + " GROUP BY a.caid" + having + " ORDER BY plays DESC, a.name"
	args = append(args, havingArgs...)
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying artist chart: %w", err)
	}
	defer rows.Close()

	var out []*TopArtist
	for rows.Next() {
		var t TopArtist
		if err := rows.Scan(&t.CAID, &t.Name, &t.Plays, &t.Songs, &t.Imported); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// RecentPlays returns the latest hour buckets, newest first.
func (db *DB) RecentPlays(limit int) ([]*RecentPlay, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(`
		SELECT a.name, s.title, st.id, st.name, p.hour_bucket, p.count
		FROM plays p
		JOIN songs s ON s.id = p.song_id
		JOIN artists a ON a.caid = s.artist_caid
		JOIN stations st ON st.id = p.station_id
		ORDER BY p.hour_bucket DESC, p.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent plays: %w", err)
	}
	defer rows.Close()

	var out []*RecentPlay
	for rows.Next() {
		var r RecentPlay
		var bucket string
		if err := rows.Scan(&r.Artist, &r.Title, &r.StationID, &r.StationName, &bucket, &r.Count); err != nil {
			return nil, err
		}
		r.HourBucket = parseTime(bucket)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// PlaysOverTime aggregates play counts per day over the window.
func (db *DB) PlaysOverTime(days int) ([]*PlayBucket, error) {
	if days <= 0 {
		days = 7
	}
	rows, err := db.conn.Query(`
		SELECT substr(hour_bucket, 1, 10) AS day, SUM(count)
		FROM plays
		WHERE hour_bucket >= ?
		GROUP BY day ORDER BY day`, daysAgo(days))
	if err != nil {
		return nil, fmt.Errorf("querying plays over time: %w", err)
	}
	defer rows.Close()

	var out []*PlayBucket
	for rows.Next() {
		var b PlayBucket
		if err := rows.Scan(&b.Bucket, &b.Plays); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// StationDistribution returns per-station play totals over the window.
func (db *DB) StationDistribution(days int) ([]*StationCount, error) {
	if days <= 0 {
		days = 7
	}
	rows, err := db.conn.Query(`
		SELECT st.id, st.name, COALESCE(SUM(p.count), 0) AS plays
		FROM stations st
		LEFT JOIN plays p ON p.station_id = st.id AND p.hour_bucket >= ?
		GROUP BY st.id ORDER BY plays DESC, st.id`, daysAgo(days))
	if err != nil {
		return nil, fmt.Errorf("querying station distribution: %w", err)
	}
	defer rows.Close()

	var out []*StationCount
	for rows.Next() {
		var s StationCount
		if err := rows.Scan(&s.StationID, &s.Name, &s.Plays); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// ImportCandidates returns resolved, unimported artists whose total play
// count reached minPlays, most played first.
func (db *DB) ImportCandidates(minPlays int) ([]*ImportCandidate, error) {
	rows, err := db.conn.Query(`
		SELECT a.caid, a.name, COALESCE(SUM(s.play_count), 0) AS plays
		FROM artists a
		LEFT JOIN songs s ON s.artist_caid = a.caid
		WHERE a.imported = 0 AND a.caid NOT LIKE ?
		GROUP BY a.caid
		HAVING plays >= ?
		ORDER BY plays DESC, a.name`, PendingPrefix+"%", minPlays)
	if err != nil {
		return nil, fmt.Errorf("querying import candidates: %w", err)
	}
	defer rows.Close()

	var out []*ImportCandidate
	for rows.Next() {
		var c ImportCandidate
		if err := rows.Scan(&c.CAID, &c.Name, &c.Plays); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// GetStats returns the aggregate snapshot for the status surfaces.
func (db *DB) GetStats() (*Stats, error) {
	var s Stats
	row := db.conn.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM stations),
			(SELECT COUNT(*) FROM stations WHERE enabled = 1),
			(SELECT COUNT(*) FROM artists),
			(SELECT COUNT(*) FROM artists WHERE caid LIKE ?),
			(SELECT COUNT(*) FROM artists WHERE imported = 1),
			(SELECT COUNT(*) FROM songs),
			(SELECT COALESCE(SUM(count), 0) FROM plays),
			(SELECT COUNT(*) FROM playlists)`, PendingPrefix+"%")
	if err := row.Scan(&s.Stations, &s.EnabledStations, &s.Artists, &s.PendingArtists,
		&s.ImportedArtists, &s.Songs, &s.TotalPlays, &s.Playlists); err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	if fi, err := os.Stat(db.path); err == nil {
		s.DatabaseBytes = fi.Size()
	}
	return &s, nil
}
