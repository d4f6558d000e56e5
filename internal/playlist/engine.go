// Package playlist turns play history into playlists on the media server.
// Each definition has a reconciliation mode deciding how a run treats the
// existing server-side playlist.
package playlist

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spinwatch/spinwatch/internal/mediaserver"
	"github.com/spinwatch/spinwatch/internal/store"
)

// Server is the slice of the media-server client the engine needs.
type Server interface {
	FindPlaylist(ctx context.Context, title string) (*mediaserver.PlaylistRef, error)
	CreatePlaylist(ctx context.Context, title string, trackIDs []string) (*mediaserver.PlaylistRef, error)
	AddTracks(ctx context.Context, playlistID string, trackIDs []string) error
	PlaylistItems(ctx context.Context, playlistID string) ([]mediaserver.PlaylistItem, error)
	ClearPlaylist(ctx context.Context, playlistID string) error
	RemoveItem(ctx context.Context, playlistID, itemID string) error
}

// TrackMatcher maps a song to a library track.
type TrackMatcher interface {
	Match(ctx context.Context, artist, title string) (*mediaserver.TrackRef, *mediaserver.MatchFailure)
}

// Result reports one playlist run.
type Result struct {
	Playlist string                      `json:"playlist"`
	Mode     string                      `json:"mode"`
	Added    int                         `json:"added"`
	Removed  int                         `json:"removed"`
	Kept     int                         `json:"kept"`
	NotFound []*mediaserver.MatchFailure `json:"not_found,omitempty"`
}

// Engine runs playlist definitions against the media server.
type Engine struct {
	db      *store.DB
	server  Server
	matcher TrackMatcher
}

// NewEngine wires the playlist engine.
func NewEngine(db *store.DB, server Server, matcher TrackMatcher) *Engine {
	return &Engine{db: db, server: server, matcher: matcher}
}

// overQuery is how far past max_songs the projection reaches, so unmatched
// songs do not leave the playlist short. 135% was tuned against typical
// library hit rates.
const overQuery = 135

// RunDue runs every enabled auto playlist whose next_update has passed and
// reschedules each, advancing last_updated only on success.
func (e *Engine) RunDue(ctx context.Context, defaultInterval int) ([]*Result, error) {
	due, err := e.db.ListDuePlaylists(time.Now())
	if err != nil {
		return nil, err
	}

	var results []*Result
	for _, p := range due {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := e.Run(ctx, p)
		success := err == nil
		if err != nil {
			log.Error().Err(err).Str("playlist", p.Name).Msg("playlist run failed")
		} else {
			results = append(results, res)
		}
		if markErr := e.db.MarkPlaylistRun(p.ID, success, time.Now(), defaultInterval); markErr != nil {
			return results, markErr
		}
	}
	return results, nil
}

// RunByID runs one definition immediately, outside its schedule.
func (e *Engine) RunByID(ctx context.Context, id int64, defaultInterval int) (*Result, error) {
	p, err := e.db.GetPlaylist(id)
	if err != nil {
		return nil, err
	}
	res, err := e.Run(ctx, p)
	if markErr := e.db.MarkPlaylistRun(p.ID, err == nil, time.Now(), defaultInterval); markErr != nil && err == nil {
		err = markErr
	}
	return res, err
}

// Run executes one definition. The flow is project, match, reconcile:
// qualifying songs come from the play store, each is matched to a library
// track, and the matched set is applied to the server playlist per the
// definition's mode.
func (e *Engine) Run(ctx context.Context, p *store.Playlist) (*Result, error) {
	res := &Result{Playlist: p.Name, Mode: p.Mode}

	existing, err := e.server.FindPlaylist(ctx, p.Name)
	if err != nil {
		return nil, err
	}
	// create mode is one-shot: once the playlist exists, a scheduled run is a
	// misconfiguration and must fail so last_updated does not advance.
	if p.Mode == store.ModeCreate && existing != nil {
		return nil, fmt.Errorf("playlist %q already exists on the server", p.Name)
	}

	tracks, notFound, err := e.project(ctx, p)
	if err != nil {
		return nil, err
	}
	res.NotFound = notFound
	if len(notFound) > 0 {
		log.Warn().Str("playlist", p.Name).Int("unmatched", len(notFound)).
			Msg("songs without library tracks")
	}

	switch p.Mode {
	case store.ModeCreate, store.ModeReplace, store.ModeRecent, store.ModeRandom:
		err = e.rebuild(ctx, p.Name, existing, tracks, res)
	case store.ModeSnapshot:
		name := fmt.Sprintf("%s %s", p.Name, time.Now().Format("2006-01-02"))
		err = e.rebuild(ctx, name, nil, tracks, res)
		res.Playlist = name
	case store.ModeMerge:
		err = e.reconcile(ctx, p.Name, existing, tracks, res, true)
	case store.ModeAppend:
		err = e.reconcile(ctx, p.Name, existing, tracks, res, false)
	default:
		return nil, fmt.Errorf("unknown playlist mode %q", p.Mode)
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("playlist", res.Playlist).Str("mode", p.Mode).
		Int("added", res.Added).Int("removed", res.Removed).Int("kept", res.Kept).
		Msg("playlist updated")
	return res, nil
}

// project selects and matches the qualifying songs, stopping once max_songs
// tracks are matched. Placeholder artists never qualify: the library cannot
// hold an unresolved credit.
func (e *Engine) project(ctx context.Context, p *store.Playlist) ([]mediaserver.TrackRef, []*mediaserver.MatchFailure, error) {
	order := store.OrderTop
	switch p.Mode {
	case store.ModeRecent:
		order = store.OrderRecent
	case store.ModeRandom:
		order = store.OrderRandom
	}

	filter := store.ChartFilter{
		Days:           p.Days,
		StationIDs:     p.StationIDs,
		MinPlays:       p.MinPlays,
		MaxPlays:       p.MaxPlays,
		Limit:          (p.MaxSongs*overQuery + 99) / 100,
		ExcludePending: true,
	}
	songs, err := e.db.ProjectSongs(filter, order)
	if err != nil {
		return nil, nil, err
	}

	var tracks []mediaserver.TrackRef
	var notFound []*mediaserver.MatchFailure
	for _, s := range songs {
		if len(tracks) >= p.MaxSongs {
			break
		}
		track, fail := e.matcher.Match(ctx, s.Artist, s.Title)
		if fail != nil {
			if fail.Err != nil {
				return nil, nil, fail.Err
			}
			notFound = append(notFound, fail)
			continue
		}
		tracks = append(tracks, *track)
	}
	return tracks, notFound, nil
}

// rebuild replaces the full contents: clear-and-fill when the playlist
// exists, create otherwise.
func (e *Engine) rebuild(ctx context.Context, name string, existing *mediaserver.PlaylistRef, tracks []mediaserver.TrackRef, res *Result) error {
	ids := make([]string, len(tracks))
	for i, t := range tracks {
		ids[i] = t.RatingKey
	}

	if existing == nil {
		if len(ids) == 0 {
			return fmt.Errorf("no matched tracks to build playlist %q", name)
		}
		if _, err := e.server.CreatePlaylist(ctx, name, ids); err != nil {
			return err
		}
		res.Added = len(ids)
		return nil
	}

	if err := e.server.ClearPlaylist(ctx, existing.RatingKey); err != nil {
		return err
	}
	res.Removed = existing.ItemCount
	if err := e.server.AddTracks(ctx, existing.RatingKey, ids); err != nil {
		return err
	}
	res.Added = len(ids)
	return nil
}

// reconcile adds missing tracks and, when prune is set, removes entries
// that no longer qualify.
func (e *Engine) reconcile(ctx context.Context, name string, existing *mediaserver.PlaylistRef, tracks []mediaserver.TrackRef, res *Result, prune bool) error {
	if existing == nil {
		return e.rebuild(ctx, name, nil, tracks, res)
	}

	items, err := e.server.PlaylistItems(ctx, existing.RatingKey)
	if err != nil {
		return err
	}
	current := make(map[string]mediaserver.PlaylistItem, len(items))
	for _, it := range items {
		current[it.RatingKey] = it
	}
	wanted := make(map[string]bool, len(tracks))
	var missing []string
	for _, t := range tracks {
		wanted[t.RatingKey] = true
		if _, ok := current[t.RatingKey]; !ok {
			missing = append(missing, t.RatingKey)
		}
	}

	if prune {
		for key, it := range current {
			if wanted[key] {
				continue
			}
			if err := e.server.RemoveItem(ctx, existing.RatingKey, it.ItemID); err != nil {
				return err
			}
			res.Removed++
		}
	}

	if err := e.server.AddTracks(ctx, existing.RatingKey, missing); err != nil {
		return err
	}
	res.Added = len(missing)
	res.Kept = len(items) - res.Removed
	return nil
}
