package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/spinwatch/spinwatch/internal/api"
	"github.com/spinwatch/spinwatch/internal/config"
	"github.com/spinwatch/spinwatch/internal/identity"
	"github.com/spinwatch/spinwatch/internal/library"
	"github.com/spinwatch/spinwatch/internal/mediaserver"
	"github.com/spinwatch/spinwatch/internal/playlist"
	"github.com/spinwatch/spinwatch/internal/scheduler"
	"github.com/spinwatch/spinwatch/internal/scrape"
	"github.com/spinwatch/spinwatch/internal/store"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfgPath    string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "spinwatch",
	Short:   "Radio airplay monitor and auto-playlist builder",
	Long:    "Spinwatch scrapes radio now-playing feeds, resolves artists to canonical identities, tracks plays, and keeps media-server playlists in sync with what the stations are spinning.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Secrets come from the environment; a .env next to the binary
		// is a convenience for development.
		godotenv.Load()

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfgPath = path

		setupLogging()
		return nil
	},
}

func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(playlistsCmd)
	rootCmd.AddCommand(overridesCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("spinwatch", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/spinwatch/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure stations, service URLs, and API key env vars.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Stations:")
		fmt.Printf("  Configured: %d\n", stats.Stations)
		fmt.Printf("  Enabled: %d\n", stats.EnabledStations)
		fmt.Println("\nArtists:")
		fmt.Printf("  Total: %d\n", stats.Artists)
		fmt.Printf("  Pending resolution: %d\n", stats.PendingArtists)
		fmt.Printf("  Imported to library: %d\n", stats.ImportedArtists)
		fmt.Println("\nPlays:")
		fmt.Printf("  Songs: %d\n", stats.Songs)
		fmt.Printf("  Total plays: %d\n", stats.TotalPlays)
		fmt.Println("\nPlaylists:")
		fmt.Printf("  Definitions: %d\n", stats.Playlists)
		fmt.Printf("\nDatabase: %s (%.1f MB)\n", db.Path(), float64(stats.DatabaseBytes)/1024/1024)
		return nil
	},
}

// --- scrape command ---

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape all enabled station feeds once",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ident := newIdentity(db)
		ing := scrape.NewIngester(db, ident, newRegistry(), cfg.Scrape.FailureAlert)

		stats, err := ing.Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println("Scrape complete:")
		fmt.Printf("  Stations: %d (%d failed)\n", stats.Stations, stats.Failed)
		fmt.Printf("  Tracks observed: %d\n", stats.Observed)
		fmt.Printf("  New plays: %d\n", stats.NewPlays)
		fmt.Printf("  Skipped (rejected names): %d\n", stats.Skipped)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry-pending",
	Short: "Retry identity resolution for placeholder artists",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := newIdentity(db).RetryPending(cmd.Context(), cfg.Retention.PendingDays)
		if err != nil {
			return err
		}

		fmt.Println("Retry complete:")
		fmt.Printf("  Attempted: %d\n", stats.Attempted)
		fmt.Printf("  Resolved: %d (%d via primary-artist fallback)\n", stats.Resolved, stats.Fallback)
		fmt.Printf("  Aged out: %d\n", stats.AgedOut)
		fmt.Printf("  Still pending: %d\n", stats.Remaining)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale placeholders, orphan songs, and aged plays",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		res, err := db.Cleanup(cfg.Retention.PendingDays, cfg.Retention.ActivityDays)
		if err != nil {
			return err
		}

		fmt.Println("Cleanup complete:")
		fmt.Printf("  Invalid artist names: %d\n", res.InvalidArtists)
		fmt.Printf("  Orphan songs: %d\n", res.OrphanSongs)
		fmt.Printf("  Orphan artists: %d\n", res.OrphanArtists)
		fmt.Printf("  Empty placeholders: %d\n", res.EmptyPlaceholders)
		fmt.Printf("  Aged placeholders: %d\n", res.AgedPlaceholders)
		fmt.Printf("  Pruned plays: %d\n", res.PrunedPlays)
		if res.Vacuumed {
			fmt.Println("  Database vacuumed")
		}
		return nil
	},
}

// --- import command ---

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Push eligible artists to the library manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		client := library.NewClient(cfg.Library, cfg.LibraryAPIKey())
		if err := client.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("library manager unreachable: %w", err)
		}

		imp := library.NewImporter(db, client, cfg.Library.MinPlaysForImport)
		stats, err := imp.Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println("Import complete:")
		fmt.Printf("  Eligible: %d\n", stats.Eligible)
		fmt.Printf("  Imported: %d\n", stats.Imported)
		fmt.Printf("  Failed: %d\n", stats.Failed)
		for _, e := range stats.Errors {
			fmt.Printf("    %s\n", e)
		}
		return nil
	},
}

// --- playlists command ---

var playlistsCmd = &cobra.Command{
	Use:   "playlists",
	Short: "Manage auto-playlists",
}

var playlistsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List playlist definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.ListPlaylists()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No playlists defined. Create one via the API or 'spinwatch serve'.")
			return nil
		}

		for _, p := range items {
			state := " "
			if p.Enabled {
				state = "*"
			}
			fmt.Printf("  [%d] %s %s (%s, max %d songs)\n", p.ID, state, p.Name, p.Mode, p.MaxSongs)
			if p.LastUpdated != nil {
				fmt.Printf("        last updated %s\n", p.LastUpdated.Format(time.RFC3339))
			}
		}
		return nil
	},
}

var playlistsRunCmd = &cobra.Command{
	Use:   "run [id]",
	Short: "Rebuild one playlist, or all due playlists when no id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		engine, err := newEngine(cmd.Context(), db)
		if err != nil {
			return err
		}

		var results []*playlist.Result
		if len(args) == 1 {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid playlist ID: %s", args[0])
			}
			res, err := engine.RunByID(cmd.Context(), id, cfg.Playlists.IntervalMinutes)
			if err != nil {
				return err
			}
			results = append(results, res)
		} else {
			results, err = engine.RunDue(cmd.Context(), cfg.Playlists.IntervalMinutes)
			if err != nil {
				return err
			}
		}

		if len(results) == 0 {
			fmt.Println("No playlists due.")
			return nil
		}
		for _, res := range results {
			fmt.Printf("%s (%s): %d added, %d removed, %d kept, %d not in library\n",
				res.Playlist, res.Mode, res.Added, res.Removed, res.Kept, len(res.NotFound))
			for _, miss := range res.NotFound {
				fmt.Printf("  missing: %s - %s\n", miss.Artist, miss.Title)
			}
		}
		return nil
	},
}

func init() {
	playlistsCmd.AddCommand(playlistsListCmd)
	playlistsCmd.AddCommand(playlistsRunCmd)
}

// --- overrides command ---

var overridesCmd = &cobra.Command{
	Use:   "overrides",
	Short: "Manage manual artist-identity overrides",
}

var overridesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List manual overrides",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.ListOverrides()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No overrides defined.")
			return nil
		}
		for _, o := range items {
			mark := " "
			if o.Verified {
				mark = "v"
			}
			fmt.Printf("  [%s] %s -> %s\n", mark, o.NameOriginal, o.CAID)
		}
		return nil
	},
}

var overridesSetCmd = &cobra.Command{
	Use:   "set [name] [caid]",
	Short: "Pin an artist name to a canonical artist ID",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		o, err := db.SetOverride(args[0], args[1], false, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Override set: %s -> %s\n", o.NameOriginal, o.CAID)
		return nil
	},
}

var overridesRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Remove a manual override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.RemoveOverride(args[0]); err != nil {
			return err
		}
		fmt.Printf("Override removed: %s\n", args[0])
		return nil
	},
}

var overridesVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify unverified overrides against the identity service",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := newIdentity(db).VerifyOverrides(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Verified %d override(s)\n", n)
		return nil
	},
}

func init() {
	overridesCmd.AddCommand(overridesListCmd)
	overridesCmd.AddCommand(overridesSetCmd)
	overridesCmd.AddCommand(overridesRemoveCmd)
	overridesCmd.AddCommand(overridesVerifyCmd)
}

// --- backup command ---

var backupCmd = &cobra.Command{
	Use:   "backup [path]",
	Short: "Write a consistent snapshot of the database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		target := fmt.Sprintf("spinwatch-%s.db", time.Now().UTC().Format("20060102-150405"))
		if len(args) == 1 {
			target = args[0]
		}
		if err := db.Backup(target); err != nil {
			return err
		}
		fmt.Printf("Backup written: %s\n", target)
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor daemon: scheduled scraping, playlist updates, and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ident := newIdentity(db)
		ing := scrape.NewIngester(db, ident, newRegistry(), cfg.Scrape.FailureAlert)
		libClient := library.NewClient(cfg.Library, cfg.LibraryAPIKey())
		imp := library.NewImporter(db, libClient, cfg.Library.MinPlaysForImport)
		media := mediaserver.NewClient(cfg.Media, cfg.MediaToken())
		matcher := mediaserver.NewMatcher(media, cfg.Media.FuzzyThreshold)
		engine := playlist.NewEngine(db, media, matcher)

		var monitorOn atomic.Bool
		monitorOn.Store(true)

		sched := scheduler.New(2)
		jobs := []scheduler.Job{
			{
				ID:       scheduler.JobScrape,
				Interval: time.Duration(cfg.Scrape.IntervalMinutes) * time.Minute,
				Gate:     monitorOn.Load,
				Run: func(ctx context.Context) error {
					_, err := ing.Run(ctx)
					return err
				},
			},
			{
				ID: scheduler.JobPlaylists,
				// The scan cadence bounds how late a due playlist can
				// run; definitions accept intervals down to 10 minutes,
				// so the scan must tick at least that often.
				Interval: 5 * time.Minute,
				Run: func(ctx context.Context) error {
					_, err := engine.RunDue(ctx, cfg.Playlists.IntervalMinutes)
					return err
				},
			},
			{
				ID:       scheduler.JobRetry,
				Interval: 24 * time.Hour,
				Run: func(ctx context.Context) error {
					_, err := ident.RetryPending(ctx, cfg.Retention.PendingDays)
					return err
				},
			},
			{
				ID:       scheduler.JobCleanup,
				Interval: 24 * time.Hour,
				Run: func(ctx context.Context) error {
					_, err := db.Cleanup(cfg.Retention.PendingDays, cfg.Retention.ActivityDays)
					return err
				},
			},
		}
		if cfg.Library.AutoImport {
			jobs = append(jobs, scheduler.Job{
				ID:       scheduler.JobImport,
				Interval: 6 * time.Hour,
				Run: func(ctx context.Context) error {
					_, err := imp.Run(ctx)
					return err
				},
			})
		}
		for _, j := range jobs {
			if err := sched.Add(j); err != nil {
				return err
			}
		}
		sched.Start()

		port := cfg.Server.Port
		if servePort != 0 {
			port = servePort
		}
		srv := api.NewServer(db, cfg, cfgPath, ident, imp, engine, sched, &monitorOn)
		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			log.Info().Int("port", port).Msg("api listening")
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		fmt.Printf("Monitoring started. API at http://localhost:%d/api/v1\n", port)
		fmt.Println("Press Ctrl+C to stop")

		select {
		case <-ctx.Done():
		case err := <-errCh:
			return err
		}

		log.Info().Msg("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
		return sched.Shutdown(30 * time.Second)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port for the HTTP API (overrides config)")
}

// --- wiring helpers ---

func openDB() (*store.DB, error) {
	dbPath := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return store.Open(dbPath)
}

func newIdentity(db *store.DB) *identity.Service {
	return identity.NewService(db, identity.NewClient(cfg.Identity), cfg.Identity.Blacklist)
}

func newRegistry() scrape.Registry {
	return scrape.NewRegistry(time.Duration(cfg.Scrape.TimeoutSeconds) * time.Second)
}

func newEngine(ctx context.Context, db *store.DB) (*playlist.Engine, error) {
	media := mediaserver.NewClient(cfg.Media, cfg.MediaToken())
	if err := media.Ping(ctx); err != nil {
		return nil, fmt.Errorf("media server unreachable: %w", err)
	}
	matcher := mediaserver.NewMatcher(media, cfg.Media.FuzzyThreshold)
	return playlist.NewEngine(db, media, matcher), nil
}
