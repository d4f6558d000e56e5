// Package store is the play database: stations, artists, songs, plays,
// playlist definitions, and manual overrides. All cross-table invariants are
// enforced here; other components hold IDs only and go through the exported
// operations.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// PendingPrefix marks a placeholder CAID minted when the identity service
// could not resolve an artist. Rows with this prefix form the implicit retry
// queue.
const PendingPrefix = "PENDING-"

// IsPending reports whether a CAID is a placeholder.
func IsPending(caid string) bool {
	return strings.HasPrefix(caid, PendingPrefix)
}

// DB wraps a SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path. Background jobs
// open their own handle; handles must not be shared between the request path
// and scheduled jobs.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Vacuum reclaims space after cleanup deletions.
func (db *DB) Vacuum() error {
	_, err := db.conn.Exec("VACUUM")
	return err
}

// timestamps are stored as RFC3339 UTC text; lexical order matches
// chronological order, which the day-window filters rely on.
const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// HourBucket truncates an observation timestamp to the top of the clock
// hour, the dedup key for plays.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

func daysAgo(days int) string {
	return formatTime(time.Now().AddDate(0, 0, -days))
}
