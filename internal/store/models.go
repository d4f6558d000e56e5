package store

import "time"

// Station is a monitored radio station and its feed endpoint.
type Station struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	FeedURL             string     `json:"feed_url"`
	Genre               *string    `json:"genre,omitempty"`
	Market              *string    `json:"market,omitempty"`
	FeedType            string     `json:"feed_type"`
	WaitSeconds         int        `json:"wait_seconds"`
	Enabled             bool       `json:"enabled"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// Artist is a canonical artist row. CAID is either a real canonical artist
// ID from the identity service or a PENDING- placeholder awaiting
// resolution.
type Artist struct {
	CAID           string    `json:"caid"`
	Name           string    `json:"name"`
	NameKey        string    `json:"name_key"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	Imported       bool      `json:"imported"`
	ManualOverride bool      `json:"manual_override"`
}

// Song is a distinct (artist, title) pair. PlayCount is denormalized from
// the plays table and maintained by RecordPlay.
type Song struct {
	ID              int64      `json:"id"`
	ArtistCAID      string     `json:"artist_caid"`
	Title           string     `json:"title"`
	NormalizedTitle string     `json:"normalized_title"`
	FirstSeenAt     time.Time  `json:"first_seen_at"`
	LastPlayedAt    *time.Time `json:"last_played_at,omitempty"`
	PlayCount       int        `json:"play_count"`
}

// Play is an hour-bucketed observation of a song on a station. Count is the
// number of distinct observations within the bucket.
type Play struct {
	ID         int64     `json:"id"`
	SongID     int64     `json:"song_id"`
	StationID  string    `json:"station_id"`
	HourBucket time.Time `json:"hour_bucket"`
	Count      int       `json:"count"`
}

// Playlist is an auto-playlist definition. StationIDs empty means all
// stations. MaxPlays and Days are nil when the mode does not bound them.
type Playlist struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	IsAuto              bool       `json:"is_auto"`
	IntervalMinutes     *int       `json:"interval_minutes,omitempty"`
	StationIDs          []string   `json:"station_ids"`
	MaxSongs            int        `json:"max_songs"`
	Mode                string     `json:"mode"`
	MinPlays            int        `json:"min_plays"`
	MaxPlays            *int       `json:"max_plays,omitempty"`
	Days                *int       `json:"days,omitempty"`
	Enabled             bool       `json:"enabled"`
	LastUpdated         *time.Time `json:"last_updated,omitempty"`
	NextUpdate          *time.Time `json:"next_update,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	CreatedAt           time.Time  `json:"created_at"`
}

// ManualOverride pins a normalized artist name to a CAID, short-circuiting
// the identity service. Verified overrides were confirmed against the
// upstream service by CAID lookup.
type ManualOverride struct {
	ID           int64     `json:"id"`
	NameKey      string    `json:"name_key"`
	NameOriginal string    `json:"name_original"`
	CAID         string    `json:"caid"`
	Verified     bool      `json:"verified"`
	Notes        *string   `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TopSong is a ranked chart row.
type TopSong struct {
	SongID     int64  `json:"song_id"`
	Artist     string `json:"artist"`
	ArtistCAID string `json:"artist_caid"`
	Title      string `json:"title"`
	Plays      int    `json:"plays"`
	Stations   int    `json:"stations"`
}

// TopArtist is a ranked artist chart row.
type TopArtist struct {
	CAID     string `json:"caid"`
	Name     string `json:"name"`
	Plays    int    `json:"plays"`
	Songs    int    `json:"songs"`
	Imported bool   `json:"imported"`
}

// RecentPlay is a reverse-chronological activity row.
type RecentPlay struct {
	Artist      string    `json:"artist"`
	Title       string    `json:"title"`
	StationID   string    `json:"station_id"`
	StationName string    `json:"station_name"`
	HourBucket  time.Time `json:"hour_bucket"`
	Count       int       `json:"count"`
}

// PlayBucket is one point of a plays-over-time series.
type PlayBucket struct {
	Bucket string `json:"bucket"`
	Plays  int    `json:"plays"`
}

// StationCount is a per-station play total.
type StationCount struct {
	StationID string `json:"station_id"`
	Name      string `json:"name"`
	Plays     int    `json:"plays"`
}

// ImportCandidate is a resolved, unimported artist eligible for the library
// importer, with its aggregate play count.
type ImportCandidate struct {
	CAID  string `json:"caid"`
	Name  string `json:"name"`
	Plays int    `json:"plays"`
}

// Stats is the aggregate snapshot served by the status surfaces.
type Stats struct {
	Stations        int   `json:"stations"`
	EnabledStations int   `json:"enabled_stations"`
	Artists         int   `json:"artists"`
	PendingArtists  int   `json:"pending_artists"`
	ImportedArtists int   `json:"imported_artists"`
	Songs           int   `json:"songs"`
	TotalPlays      int   `json:"total_plays"`
	Playlists       int   `json:"playlists"`
	DatabaseBytes   int64 `json:"database_bytes"`
}
