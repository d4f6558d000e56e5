package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spinwatch/spinwatch/internal/config"
	"github.com/spinwatch/spinwatch/internal/scheduler"
	"github.com/spinwatch/spinwatch/internal/store"
)

// --- monitor ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		respondError(w, err)
		return
	}
	stations, err := s.db.ListStations()
	if err != nil {
		respondError(w, err)
		return
	}
	type stationHealth struct {
		ID       string `json:"id"`
		Enabled  bool   `json:"enabled"`
		Failures int    `json:"consecutive_failures"`
		Healthy  bool   `json:"healthy"`
	}
	health := make([]stationHealth, 0, len(stations))
	for _, st := range stations {
		health = append(health, stationHealth{
			ID:       st.ID,
			Enabled:  st.Enabled,
			Failures: st.ConsecutiveFailures,
			Healthy:  st.ConsecutiveFailures < s.cfg.Scrape.FailureAlert,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"monitor_enabled": s.monitorOn.Load(),
		"stats":           stats,
		"stations":        health,
		"jobs":            s.sched.Status(),
	})
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	s.monitorOn.Store(true)
	respondJSON(w, http.StatusOK, map[string]bool{"monitor_enabled": true})
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	s.monitorOn.Store(false)
	respondJSON(w, http.StatusOK, map[string]bool{"monitor_enabled": false})
}

func (s *Server) handleTriggerScrape(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Trigger(scheduler.JobScrape); err != nil {
		respondError(w, err)
		return
	}
	accepted(w, scheduler.JobScrape)
}

// --- stations ---

type stationPayload struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	FeedURL     string  `json:"feed_url"`
	Genre       *string `json:"genre"`
	Market      *string `json:"market"`
	FeedType    string  `json:"feed_type"`
	WaitSeconds int     `json:"wait_seconds"`
}

func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	stations, err := s.db.ListStations()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stations)
}

func (s *Server) handleAddStation(w http.ResponseWriter, r *http.Request) {
	var p stationPayload
	if err := decodeBody(r, &p); err != nil {
		respondValidation(w, err)
		return
	}
	st := &store.Station{
		ID:          p.ID,
		Name:        p.Name,
		FeedURL:     p.FeedURL,
		Genre:       p.Genre,
		Market:      p.Market,
		FeedType:    p.FeedType,
		WaitSeconds: p.WaitSeconds,
	}
	if err := s.db.AddStation(st); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, st)
}

func (s *Server) handleGetStation(w http.ResponseWriter, r *http.Request) {
	st, err := s.db.GetStation(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleUpdateStation(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(r, &p); err != nil {
		respondValidation(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if p.Enabled != nil {
		if err := s.db.SetStationEnabled(id, *p.Enabled); err != nil {
			respondError(w, err)
			return
		}
	}
	st, err := s.db.GetStation(id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleRemoveStation(w http.ResponseWriter, r *http.Request) {
	if err := s.db.RemoveStation(chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"removed": chi.URLParam(r, "id")})
}

// --- playlists ---

type playlistPayload struct {
	Name            string   `json:"name"`
	IntervalMinutes *int     `json:"interval_minutes"`
	StationIDs      []string `json:"station_ids"`
	MaxSongs        *int     `json:"max_songs"`
	Mode            string   `json:"mode"`
	MinPlays        *int     `json:"min_plays"`
	MaxPlays        *int     `json:"max_plays"`
	Days            *int     `json:"days"`
	Enabled         *bool    `json:"enabled"`
}

// apply overlays the payload onto a definition, falling back to the
// configured defaults for absent fields.
func (p playlistPayload) apply(pl *store.Playlist, defaults config.Playlists) {
	if p.Name != "" {
		pl.Name = p.Name
	}
	if p.Mode != "" {
		pl.Mode = p.Mode
	} else if pl.Mode == "" {
		pl.Mode = defaults.Mode
	}
	if p.MaxSongs != nil {
		pl.MaxSongs = *p.MaxSongs
	} else if pl.MaxSongs == 0 {
		pl.MaxSongs = defaults.MaxSongs
	}
	if p.MinPlays != nil {
		pl.MinPlays = *p.MinPlays
	} else if pl.MinPlays == 0 {
		pl.MinPlays = defaults.MinPlays
	}
	if p.IntervalMinutes != nil {
		pl.IntervalMinutes = p.IntervalMinutes
	}
	if p.StationIDs != nil {
		pl.StationIDs = p.StationIDs
	}
	if p.MaxPlays != nil {
		pl.MaxPlays = p.MaxPlays
	}
	if p.Days != nil {
		pl.Days = p.Days
	} else if pl.Days == nil && defaults.Days > 0 {
		d := defaults.Days
		pl.Days = &d
	}
	if p.Enabled != nil {
		pl.Enabled = *p.Enabled
	}
}

func (s *Server) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	playlists, err := s.db.ListPlaylists()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, playlists)
}

func (s *Server) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var p playlistPayload
	if err := decodeBody(r, &p); err != nil {
		respondValidation(w, err)
		return
	}
	pl := &store.Playlist{IsAuto: true, Enabled: true}
	p.apply(pl, s.cfg.Playlists)

	created, err := s.db.CreatePlaylist(pl)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, err)
			return
		}
		respondValidation(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) playlistID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondValidation(w, errors.New("playlist id must be numeric"))
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	id, ok := s.playlistID(w, r)
	if !ok {
		return
	}
	pl, err := s.db.GetPlaylist(id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pl)
}

func (s *Server) handleUpdatePlaylist(w http.ResponseWriter, r *http.Request) {
	id, ok := s.playlistID(w, r)
	if !ok {
		return
	}
	var p playlistPayload
	if err := decodeBody(r, &p); err != nil {
		respondValidation(w, err)
		return
	}
	pl, err := s.db.GetPlaylist(id)
	if err != nil {
		respondError(w, err)
		return
	}
	p.apply(pl, s.cfg.Playlists)
	if err := s.db.UpdatePlaylist(pl); err != nil {
		respondValidation(w, err)
		return
	}
	pl, err = s.db.GetPlaylist(id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pl)
}

func (s *Server) handleRemovePlaylist(w http.ResponseWriter, r *http.Request) {
	id, ok := s.playlistID(w, r)
	if !ok {
		return
	}
	if err := s.db.RemovePlaylist(id); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"removed": id})
}

// handleRunPlaylist executes one definition out of schedule. The run talks
// to the media server, so it goes through the scheduler as a one-shot and
// the request returns immediately.
func (s *Server) handleRunPlaylist(w http.ResponseWriter, r *http.Request) {
	id, ok := s.playlistID(w, r)
	if !ok {
		return
	}
	if _, err := s.db.GetPlaylist(id); err != nil {
		respondError(w, err)
		return
	}
	interval := s.cfg.Playlists.IntervalMinutes
	s.enqueue(w, "playlist-run", func(ctx context.Context) error {
		_, err := s.engine.RunByID(ctx, id, interval)
		return err
	})
}

// --- overrides ---

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := s.db.ListOverrides()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, overrides)
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Name  string  `json:"name"`
		CAID  string  `json:"caid"`
		Notes *string `json:"notes"`
	}
	if err := decodeBody(r, &p); err != nil {
		respondValidation(w, err)
		return
	}
	o, err := s.db.SetOverride(p.Name, p.CAID, false, p.Notes)
	if err != nil {
		respondValidation(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (s *Server) handleValidateOverrides(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, "verify-overrides", func(ctx context.Context) error {
		_, err := s.identity.VerifyOverrides(ctx)
		return err
	})
}

func (s *Server) handleRemoveOverride(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.db.RemoveOverride(name); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"removed": name})
}

// --- artists / importer ---

func (s *Server) handlePendingArtists(w http.ResponseWriter, r *http.Request) {
	pending, err := s.db.ListPendingArtists()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pending)
}

func (s *Server) handleImportArtist(w http.ResponseWriter, r *http.Request) {
	caid := chi.URLParam(r, "caid")
	if _, err := s.db.GetArtist(caid); err != nil {
		respondError(w, err)
		return
	}
	s.enqueue(w, "import-one", func(ctx context.Context) error {
		return s.importer.ImportOne(ctx, caid)
	})
}

func (s *Server) handleTriggerImport(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, "import", func(ctx context.Context) error {
		_, err := s.importer.Run(ctx)
		return err
	})
}

func (s *Server) handleImportCandidates(w http.ResponseWriter, r *http.Request) {
	minPlays := queryInt(r, "min_plays", s.cfg.Library.MinPlaysForImport)
	candidates, err := s.db.ImportCandidates(minPlays)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, candidates)
}

func (s *Server) handleTriggerRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Trigger(scheduler.JobRetry); err != nil {
		respondError(w, err)
		return
	}
	accepted(w, scheduler.JobRetry)
}

func (s *Server) handleTriggerCleanup(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Trigger(scheduler.JobCleanup); err != nil {
		respondError(w, err)
		return
	}
	accepted(w, scheduler.JobCleanup)
}

// --- stats ---

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}

func chartFilter(r *http.Request) store.ChartFilter {
	f := store.ChartFilter{
		MinPlays: queryInt(r, "min_plays", 1),
		Limit:    queryInt(r, "limit", 25),
	}
	if days := queryInt(r, "days", 0); days > 0 {
		f.Days = &days
	}
	if stations, ok := r.URL.Query()["station"]; ok {
		f.StationIDs = stations
	}
	return f
}

func (s *Server) handleTopSongs(w http.ResponseWriter, r *http.Request) {
	songs, err := s.db.TopSongs(chartFilter(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, songs)
}

func (s *Server) handleTopArtists(w http.ResponseWriter, r *http.Request) {
	artists, err := s.db.TopArtists(chartFilter(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, artists)
}

func (s *Server) handleRecentPlays(w http.ResponseWriter, r *http.Request) {
	plays, err := s.db.RecentPlays(queryInt(r, "limit", 50))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, plays)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.db.PlaysOverTime(queryInt(r, "days", 7))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleStationDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := s.db.StationDistribution(queryInt(r, "days", 7))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dist)
}

// --- settings ---

// settingsView is the config without credentials; keys and tokens stay in
// the environment and never leave the process.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"identity":  s.cfg.Identity,
		"library":   s.cfg.Library,
		"media":     s.cfg.Media,
		"scrape":    s.cfg.Scrape,
		"retention": s.cfg.Retention,
		"playlists": s.cfg.Playlists,
		"server":    s.cfg.Server,
		"logging":   s.cfg.Logging,
	})
}

// handleUpdateSettings replaces the config document. The body is the full
// YAML document; it is validated by the same parser the daemon boots with
// before being persisted. Interval changes take effect on restart.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondValidation(w, err)
		return
	}
	cfg, err := config.Parse(body)
	if err != nil {
		respondValidation(w, err)
		return
	}
	if s.cfgPath == "" {
		respondValidation(w, errors.New("no config file to update"))
		return
	}
	if err := config.Save(s.cfgPath, cfg); err != nil {
		respondError(w, err)
		return
	}
	*s.cfg = *cfg
	respondJSON(w, http.StatusOK, map[string]string{"status": "saved", "path": s.cfgPath})
}

// --- database export / import ---

func (s *Server) handleExportDB(w http.ResponseWriter, r *http.Request) {
	tmp := filepath.Join(os.TempDir(),
		"spinwatch-export-"+time.Now().UTC().Format("20060102T150405")+".db")
	if err := s.db.Backup(tmp); err != nil {
		respondError(w, err)
		return
	}
	defer os.Remove(tmp)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="spinwatch.db"`)
	http.ServeFile(w, r, tmp)
}

func (s *Server) handleImportDB(w http.ResponseWriter, r *http.Request) {
	tmp, err := os.CreateTemp("", "spinwatch-import-*.db")
	if err != nil {
		respondError(w, err)
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r.Body); err != nil {
		tmp.Close()
		respondError(w, err)
		return
	}
	if err := tmp.Close(); err != nil {
		respondError(w, err)
		return
	}
	if err := s.db.Restore(tmp.Name()); err != nil {
		respondValidation(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}
