// Package api is the HTTP command surface: a thin JSON dispatch layer over
// the store, the resolver, the importer, and the playlist engine. Handlers
// validate, delegate, serialize; no business logic lives here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/spinwatch/spinwatch/internal/config"
	"github.com/spinwatch/spinwatch/internal/identity"
	"github.com/spinwatch/spinwatch/internal/library"
	"github.com/spinwatch/spinwatch/internal/playlist"
	"github.com/spinwatch/spinwatch/internal/scheduler"
	"github.com/spinwatch/spinwatch/internal/store"
)

// Server carries the wired components the handlers dispatch to.
type Server struct {
	db       *store.DB
	cfg      *config.Config
	identity *identity.Service
	importer *library.Importer
	engine   *playlist.Engine
	sched    *scheduler.Scheduler
	cfgPath  string

	// monitorOn gates the scrape job; pausing the monitor stops ingest
	// without touching playlist updates or retries.
	monitorOn *atomic.Bool
}

// NewServer wires the API. monitorOn is shared with the scheduler's scrape
// job gate.
func NewServer(db *store.DB, cfg *config.Config, cfgPath string, ident *identity.Service,
	imp *library.Importer, engine *playlist.Engine, sched *scheduler.Scheduler,
	monitorOn *atomic.Bool) *Server {
	return &Server{
		db:        db,
		cfg:       cfg,
		cfgPath:   cfgPath,
		identity:  ident,
		importer:  imp,
		engine:    engine,
		sched:     sched,
		monitorOn: monitorOn,
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/monitor/start", s.handleMonitorStart)
		r.Post("/monitor/stop", s.handleMonitorStop)
		r.Post("/scrape", s.handleTriggerScrape)

		r.Route("/stations", func(r chi.Router) {
			r.Get("/", s.handleListStations)
			r.Post("/", s.handleAddStation)
			r.Get("/{id}", s.handleGetStation)
			r.Patch("/{id}", s.handleUpdateStation)
			r.Delete("/{id}", s.handleRemoveStation)
		})

		r.Route("/playlists", func(r chi.Router) {
			r.Get("/", s.handleListPlaylists)
			r.Post("/", s.handleCreatePlaylist)
			r.Get("/{id}", s.handleGetPlaylist)
			r.Put("/{id}", s.handleUpdatePlaylist)
			r.Delete("/{id}", s.handleRemovePlaylist)
			r.Post("/{id}/run", s.handleRunPlaylist)
		})

		r.Route("/overrides", func(r chi.Router) {
			r.Get("/", s.handleListOverrides)
			r.Put("/", s.handleSetOverride)
			r.Post("/validate", s.handleValidateOverrides)
			r.Delete("/{name}", s.handleRemoveOverride)
		})

		r.Route("/artists", func(r chi.Router) {
			r.Get("/pending", s.handlePendingArtists)
			r.Post("/{caid}/import", s.handleImportArtist)
		})

		r.Post("/import", s.handleTriggerImport)
		r.Get("/import/candidates", s.handleImportCandidates)
		r.Post("/retry-pending", s.handleTriggerRetry)
		r.Post("/cleanup", s.handleTriggerCleanup)

		r.Route("/stats", func(r chi.Router) {
			r.Get("/top-songs", s.handleTopSongs)
			r.Get("/top-artists", s.handleTopArtists)
			r.Get("/recent", s.handleRecentPlays)
			r.Get("/timeline", s.handleTimeline)
			r.Get("/stations", s.handleStationDistribution)
		})

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)
		r.Get("/db/export", s.handleExportDB)
		r.Post("/db/import", s.handleImportDB)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// respondError maps error kinds to status codes: unknown rows to 404,
// rejected input to 400, unique-key collisions to 409, the rest to 500.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, identity.ErrRejected):
		status = http.StatusBadRequest
	case isUniqueViolation(err):
		status = http.StatusConflict
	}
	respondJSON(w, status, errorBody{Error: http.StatusText(status), Detail: err.Error()})
}

func respondValidation(w http.ResponseWriter, err error) {
	respondJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Detail: err.Error()})
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// accepted answers a trigger endpoint: the work runs on the scheduler, not
// the request goroutine.
func accepted(w http.ResponseWriter, jobID string) {
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "in progress", "job": jobID})
}

// enqueue schedules fn as a one-shot job and immediately answers 202.
func (s *Server) enqueue(w http.ResponseWriter, name string, fn func(ctx context.Context) error) {
	id := s.sched.Once(name, fn)
	accepted(w, id)
}
