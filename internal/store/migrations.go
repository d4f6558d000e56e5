package store

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS stations (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    feed_url TEXT NOT NULL,
    genre TEXT,
    market TEXT,
    feed_type TEXT NOT NULL DEFAULT 'rss',
    wait_seconds INTEGER NOT NULL DEFAULT 10,
    enabled INTEGER NOT NULL DEFAULT 1,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    last_success_at TEXT,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

CREATE TABLE IF NOT EXISTS artists (
    caid TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    name_key TEXT NOT NULL,
    first_seen_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
    imported INTEGER NOT NULL DEFAULT 0,
    manual_override INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS songs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    artist_caid TEXT NOT NULL REFERENCES artists(caid) ON DELETE CASCADE,
    title TEXT NOT NULL,
    normalized_title TEXT NOT NULL,
    first_seen_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
    last_played_at TEXT,
    play_count INTEGER NOT NULL DEFAULT 0,
    UNIQUE(artist_caid, normalized_title)
);

CREATE TABLE IF NOT EXISTS plays (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    song_id INTEGER NOT NULL REFERENCES songs(id) ON DELETE CASCADE,
    station_id TEXT NOT NULL REFERENCES stations(id) ON DELETE CASCADE,
    hour_bucket TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 1,
    UNIQUE(song_id, station_id, hour_bucket)
);

CREATE TABLE IF NOT EXISTS playlists (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    is_auto INTEGER NOT NULL DEFAULT 1,
    interval_minutes INTEGER,
    station_ids TEXT NOT NULL DEFAULT '[]',
    max_songs INTEGER NOT NULL,
    mode TEXT NOT NULL,
    min_plays INTEGER NOT NULL DEFAULT 1,
    max_plays INTEGER,
    days INTEGER,
    enabled INTEGER NOT NULL DEFAULT 1,
    last_updated TEXT,
    next_update TEXT,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

CREATE TABLE IF NOT EXISTS manual_overrides (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name_key TEXT NOT NULL UNIQUE,
    name_original TEXT NOT NULL,
    caid TEXT NOT NULL,
    verified INTEGER NOT NULL DEFAULT 0,
    notes TEXT,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

CREATE INDEX IF NOT EXISTS idx_stations_enabled ON stations(enabled);
CREATE INDEX IF NOT EXISTS idx_artists_name_key ON artists(name_key);
CREATE INDEX IF NOT EXISTS idx_artists_first_seen ON artists(first_seen_at DESC);
CREATE INDEX IF NOT EXISTS idx_songs_artist ON songs(artist_caid);
CREATE INDEX IF NOT EXISTS idx_songs_play_count ON songs(play_count DESC);
CREATE INDEX IF NOT EXISTS idx_plays_hour ON plays(hour_bucket);
CREATE INDEX IF NOT EXISTS idx_plays_song_station ON plays(song_id, station_id, hour_bucket);
CREATE INDEX IF NOT EXISTS idx_plays_station ON plays(station_id);
CREATE INDEX IF NOT EXISTS idx_playlists_enabled ON playlists(enabled);
CREATE INDEX IF NOT EXISTS idx_playlists_next_update ON playlists(next_update);
CREATE INDEX IF NOT EXISTS idx_overrides_caid ON manual_overrides(caid);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
