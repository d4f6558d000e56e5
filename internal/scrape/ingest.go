package scrape

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spinwatch/spinwatch/internal/identity"
	"github.com/spinwatch/spinwatch/internal/normalize"
	"github.com/spinwatch/spinwatch/internal/store"
)

// RunStats summarizes one ingest pass over the enabled stations.
type RunStats struct {
	Stations int `json:"stations"`
	Failed   int `json:"failed"`
	Observed int `json:"observed"`
	NewPlays int `json:"new_plays"`
	Skipped  int `json:"skipped"`
}

// Ingester polls every enabled station and feeds the observations through
// the resolver into the store.
type Ingester struct {
	db           *store.DB
	resolver     store.Resolver
	scrapers     Registry
	failureAlert int
}

// NewIngester wires the ingest loop. failureAlert is the consecutive
// failure streak at which a station is reported unhealthy.
func NewIngester(db *store.DB, resolver store.Resolver, scrapers Registry, failureAlert int) *Ingester {
	return &Ingester{db: db, resolver: resolver, scrapers: scrapers, failureAlert: failureAlert}
}

// Run performs one ingest pass. A failing station never aborts the pass;
// its failure streak is recorded and the next station is polled.
func (i *Ingester) Run(ctx context.Context) (*RunStats, error) {
	stations, err := i.db.ListEnabledStations()
	if err != nil {
		return nil, err
	}

	stats := &RunStats{}
	for n, st := range stations {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		// Politeness gap between feed requests.
		if n > 0 && st.WaitSeconds > 0 {
			select {
			case <-time.After(time.Duration(st.WaitSeconds) * time.Second):
			case <-ctx.Done():
				return stats, ctx.Err()
			}
		}

		stats.Stations++
		if err := i.scrapeStation(ctx, st, stats); err != nil {
			stats.Failed++
			streak, markErr := i.db.MarkStationFailure(st.ID)
			if markErr != nil {
				log.Error().Err(markErr).Str("station", st.ID).Msg("recording station failure")
			}
			evt := log.Warn()
			if streak >= i.failureAlert {
				evt = log.Error()
			}
			evt.Err(err).Str("station", st.ID).Int("streak", streak).Msg("station scrape failed")
			continue
		}
		if err := i.db.MarkStationSuccess(st.ID, time.Now()); err != nil {
			log.Error().Err(err).Str("station", st.ID).Msg("recording station success")
		}
	}

	log.Info().Int("stations", stats.Stations).Int("failed", stats.Failed).
		Int("observed", stats.Observed).Int("new_plays", stats.NewPlays).
		Int("skipped", stats.Skipped).Msg("ingest pass complete")
	return stats, nil
}

func (i *Ingester) scrapeStation(ctx context.Context, st *store.Station, stats *RunStats) error {
	scraper, err := i.scrapers.For(st)
	if err != nil {
		return err
	}
	tracks, err := scraper.Fetch(ctx, st)
	if err != nil {
		return err
	}

	for _, obs := range bucketObservations(st.ID, tracks) {
		stats.Observed++
		created, err := i.db.RecordPlay(i.resolver, obs)
		switch {
		case errors.Is(err, identity.ErrRejected):
			stats.Skipped++
			log.Debug().Str("station", st.ID).Str("artist", obs.Artist).
				Str("title", obs.Title).Msg("observation rejected")
		case err != nil:
			log.Warn().Err(err).Str("station", st.ID).Str("artist", obs.Artist).
				Msg("recording play failed")
		case created:
			stats.NewPlays++
		}
	}
	return nil
}

// bucketObservations collapses the raw track list into per-hour
// observations. Collaboration credits record a play for each constituent
// artist; a song repeated within an hour raises Seen instead of adding a
// row.
func bucketObservations(stationID string, tracks []Track) []store.PlayObservation {
	type key struct {
		artist string
		title  string
		bucket time.Time
	}
	seen := make(map[key]*store.PlayObservation)
	var order []key

	for _, t := range tracks {
		for _, artist := range normalize.SplitCollaboration(t.Artist) {
			k := key{
				artist: normalize.Key(artist),
				title:  normalize.Key(t.Title),
				bucket: store.HourBucket(t.At),
			}
			if obs, ok := seen[k]; ok {
				obs.Seen++
				continue
			}
			seen[k] = &store.PlayObservation{
				StationID: stationID,
				Artist:    artist,
				Title:     t.Title,
				At:        t.At,
				Seen:      1,
			}
			order = append(order, k)
		}
	}

	out := make([]store.PlayObservation, 0, len(order))
	for _, k := range order {
		out = append(out, *seen[k])
	}
	return out
}
