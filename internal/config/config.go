package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Identity  Identity  `yaml:"identity"`
	Library   Library   `yaml:"library"`
	Media     Media     `yaml:"media"`
	Scrape    Scrape    `yaml:"scrape"`
	Retention Retention `yaml:"retention"`
	Playlists Playlists `yaml:"playlists"`
	Server    Server    `yaml:"server"`
	Output    Output    `yaml:"output"`
	Logging   Logging   `yaml:"logging"`
}

// Identity configures the canonical-identity service (a MusicBrainz-style
// artist search API).
type Identity struct {
	BaseURL   string   `yaml:"base_url"`
	UserAgent string   `yaml:"user_agent"`
	Blacklist []string `yaml:"blacklist"`
}

// Library configures the library-manager importer.
type Library struct {
	URL               string `yaml:"url"`
	APIKeyEnv         string `yaml:"api_key_env"`
	QualityProfileID  int    `yaml:"quality_profile_id"`
	MetadataProfileID int    `yaml:"metadata_profile_id"`
	RootFolder        string `yaml:"root_folder"`
	Monitored         bool   `yaml:"monitored"`
	SearchOnAdd       bool   `yaml:"search_on_add"`
	MinPlaysForImport int    `yaml:"min_plays_for_import"`
	AutoImport        bool   `yaml:"auto_import"`
}

// Media configures the media server hosting the target playlists.
type Media struct {
	URL         string `yaml:"url"`
	TokenEnv    string `yaml:"token_env"`
	LibraryName string `yaml:"library_name"`
	// FuzzyThreshold is the minimum token-set score the matcher's fuzzy
	// stage accepts. 0.85 was derived empirically; exposed so operators
	// can trade precision for recall.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

type Scrape struct {
	IntervalMinutes int    `yaml:"interval_minutes"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	FailureAlert    int    `yaml:"failure_alert_threshold"`
	DatabaseFile    string `yaml:"database_file"`
}

type Retention struct {
	PendingDays  int `yaml:"pending_days"`
	ActivityDays int `yaml:"activity_days"`
	LogDays      int `yaml:"log_days"`
	BackupDays   int `yaml:"backup_days"`
}

// Playlists holds defaults applied to new auto-playlist definitions.
type Playlists struct {
	IntervalMinutes int    `yaml:"interval_minutes"`
	MaxSongs        int    `yaml:"max_songs"`
	Mode            string `yaml:"mode"`
	MinPlays        int    `yaml:"min_plays"`
	Days            int    `yaml:"days"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for spinwatch.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "spinwatch")
}

// DataDir returns the XDG data directory for spinwatch.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "spinwatch")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/spinwatch/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'spinwatch init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Parse parses a YAML config document, applying defaults. Used by the
// settings API to validate an updated document before saving it.
func Parse(data []byte) (*Config, error) {
	return parse(data)
}

// Save writes the config document to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Identity: Identity{
			BaseURL:   "https://musicbrainz.org/ws/2",
			UserAgent: "spinwatch/1.0 (https://github.com/spinwatch/spinwatch)",
		},
		Library: Library{
			URL:               "http://localhost:8686",
			APIKeyEnv:         "LIBRARY_API_KEY",
			QualityProfileID:  1,
			MetadataProfileID: 1,
			RootFolder:        "/data/music/",
			Monitored:         true,
			SearchOnAdd:       true,
			MinPlaysForImport: 5,
		},
		Media: Media{
			URL:            "http://localhost:32400",
			TokenEnv:       "MEDIA_TOKEN",
			LibraryName:    "Music",
			FuzzyThreshold: 0.85,
		},
		Scrape: Scrape{
			IntervalMinutes: 10,
			TimeoutSeconds:  30,
			FailureAlert:    5,
		},
		Retention: Retention{
			PendingDays:  30,
			ActivityDays: 90,
			LogDays:      30,
			BackupDays:   7,
		},
		Playlists: Playlists{
			IntervalMinutes: 60,
			MaxSongs:        50,
			Mode:            "replace",
			MinPlays:        1,
			Days:            7,
		},
		Server:  Server{Port: 8787},
		Logging: Logging{Level: "info"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Media.FuzzyThreshold <= 0 || cfg.Media.FuzzyThreshold > 1 {
		return nil, fmt.Errorf("media.fuzzy_threshold must be in (0,1], got %v", cfg.Media.FuzzyThreshold)
	}
	if cfg.Scrape.IntervalMinutes < 1 {
		return nil, fmt.Errorf("scrape.interval_minutes must be >= 1, got %d", cfg.Scrape.IntervalMinutes)
	}

	return cfg, nil
}

// LibraryAPIKey reads the library-manager API key from the environment.
func (c *Config) LibraryAPIKey() string {
	return os.Getenv(c.Library.APIKeyEnv)
}

// MediaToken reads the media-server token from the environment.
func (c *Config) MediaToken() string {
	return os.Getenv(c.Media.TokenEnv)
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DatabasePath returns the sqlite file path, honoring an explicit override.
func (c *Config) DatabasePath() string {
	if c.Scrape.DatabaseFile != "" {
		return c.Scrape.DatabaseFile
	}
	return filepath.Join(c.GetDataDir(), "spinwatch.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
