package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// AddStation inserts a station. The ID must be unique; feed_type selects the
// scraper variant.
func (db *DB) AddStation(s *Station) error {
	if s.ID == "" || s.Name == "" || s.FeedURL == "" {
		return fmt.Errorf("station id, name and feed_url are required")
	}
	if s.FeedType == "" {
		s.FeedType = "rss"
	}
	if s.WaitSeconds <= 0 {
		s.WaitSeconds = 10
	}
	_, err := db.conn.Exec(`
		INSERT INTO stations (id, name, feed_url, genre, market, feed_type, wait_seconds, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		s.ID, s.Name, s.FeedURL, s.Genre, s.Market, s.FeedType, s.WaitSeconds)
	if err != nil {
		return fmt.Errorf("adding station %s: %w", s.ID, err)
	}
	return nil
}

// GetStation fetches one station by ID.
func (db *DB) GetStation(id string) (*Station, error) {
	row := db.conn.QueryRow(`
		SELECT id, name, feed_url, genre, market, feed_type, wait_seconds,
		       enabled, consecutive_failures, last_success_at, created_at
		FROM stations WHERE id = ?`, id)
	s, err := scanStation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("station %s: %w", id, ErrNotFound)
	}
	return s, err
}

// ListStations returns all stations, enabled or not, ordered by ID.
func (db *DB) ListStations() ([]*Station, error) {
	return db.queryStations(`
		SELECT id, name, feed_url, genre, market, feed_type, wait_seconds,
		       enabled, consecutive_failures, last_success_at, created_at
		FROM stations ORDER BY id`)
}

// ListEnabledStations returns the stations the ingester should poll.
func (db *DB) ListEnabledStations() ([]*Station, error) {
	return db.queryStations(`
		SELECT id, name, feed_url, genre, market, feed_type, wait_seconds,
		       enabled, consecutive_failures, last_success_at, created_at
		FROM stations WHERE enabled = 1 ORDER BY id`)
}

// SetStationEnabled toggles a station without losing its history.
func (db *DB) SetStationEnabled(id string, enabled bool) error {
	res, err := db.conn.Exec("UPDATE stations SET enabled = ? WHERE id = ?", enabled, id)
	if err != nil {
		return fmt.Errorf("updating station %s: %w", id, err)
	}
	return requireRow(res, "station "+id)
}

// RemoveStation deletes a station and, via cascade, its plays.
func (db *DB) RemoveStation(id string) error {
	res, err := db.conn.Exec("DELETE FROM stations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("removing station %s: %w", id, err)
	}
	return requireRow(res, "station "+id)
}

// MarkStationSuccess records a successful poll: the failure streak resets
// and last_success_at advances.
func (db *DB) MarkStationSuccess(id string, at time.Time) error {
	_, err := db.conn.Exec(`
		UPDATE stations SET consecutive_failures = 0, last_success_at = ?
		WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("marking station %s success: %w", id, err)
	}
	return nil
}

// MarkStationFailure bumps the failure streak and returns the new count so
// the caller can decide whether to alert.
func (db *DB) MarkStationFailure(id string) (int, error) {
	_, err := db.conn.Exec(`
		UPDATE stations SET consecutive_failures = consecutive_failures + 1
		WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("marking station %s failure: %w", id, err)
	}
	var n int
	if err := db.conn.QueryRow(
		"SELECT consecutive_failures FROM stations WHERE id = ?", id).Scan(&n); err != nil {
		return 0, fmt.Errorf("reading station %s failures: %w", id, err)
	}
	return n, nil
}

func (db *DB) queryStations(query string, args ...any) ([]*Station, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying stations: %w", err)
	}
	defer rows.Close()

	var stations []*Station
	for rows.Next() {
		s, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		stations = append(stations, s)
	}
	return stations, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStation(row rowScanner) (*Station, error) {
	var s Station
	var lastSuccess *string
	var created string
	err := row.Scan(&s.ID, &s.Name, &s.FeedURL, &s.Genre, &s.Market, &s.FeedType,
		&s.WaitSeconds, &s.Enabled, &s.ConsecutiveFailures, &lastSuccess, &created)
	if err != nil {
		return nil, err
	}
	if lastSuccess != nil {
		t := parseTime(*lastSuccess)
		s.LastSuccessAt = &t
	}
	s.CreatedAt = parseTime(created)
	return &s, nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
