package identity

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spinwatch/spinwatch/internal/normalize"
)

// RetryStats summarizes one retry pass over the placeholder queue.
type RetryStats struct {
	Attempted int `json:"attempted"`
	Resolved  int `json:"resolved"`
	Fallback  int `json:"fallback"` // resolved via the primary-artist fallback
	AgedOut   int `json:"aged_out"` // past the retention window; left for cleanup
	Remaining int `json:"remaining"`
}

// RetryPending re-queries the identity service for every placeholder first
// seen within the last pendingDays (0 means no age limit). Older
// placeholders are counted as aged out and left for the cleanup job. When
// the stored name fails and looks like a collaboration credit, the primary
// artist (the part before the "feat." clause) gets a second attempt; on
// success the placeholder is promoted under that artist's identity. Caller
// schedules this daily.
func (s *Service) RetryPending(ctx context.Context, pendingDays int) (*RetryStats, error) {
	pending, err := s.db.ListPendingArtists()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -pendingDays)
	stats := &RetryStats{}
	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if pendingDays > 0 && a.FirstSeenAt.Before(cutoff) {
			stats.AgedOut++
			continue
		}
		stats.Attempted++

		cand, err := s.search(ctx, a.Name)
		if err != nil {
			log.Warn().Err(err).Str("artist", a.Name).Msg("retry search failed")
			continue
		}

		usedFallback := false
		if cand == nil {
			if primary := normalize.PrimaryArtist(a.Name); primary != a.Name {
				cand, err = s.search(ctx, primary)
				if err != nil {
					log.Warn().Err(err).Str("artist", primary).Msg("retry fallback search failed")
					continue
				}
				usedFallback = cand != nil
			}
		}
		if cand == nil {
			continue
		}

		if err := s.db.PromotePlaceholder(a.CAID, cand.ID, cand.Name); err != nil {
			log.Error().Err(err).Str("placeholder", a.CAID).Msg("promoting placeholder failed")
			continue
		}
		stats.Resolved++
		if usedFallback {
			stats.Fallback++
		}
		log.Info().Str("artist", a.Name).Str("caid", cand.ID).Str("canonical", cand.Name).
			Bool("fallback", usedFallback).Msg("placeholder resolved on retry")
	}

	stats.Remaining = stats.Attempted - stats.Resolved
	log.Info().Int("attempted", stats.Attempted).Int("resolved", stats.Resolved).
		Int("aged_out", stats.AgedOut).Int("remaining", stats.Remaining).
		Msg("placeholder retry pass complete")
	return stats, nil
}
