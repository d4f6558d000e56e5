package mediaserver

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/spinwatch/spinwatch/internal/normalize"
)

// TrackSearcher is the slice of the client the matcher needs. Tests
// substitute a fixed library.
type TrackSearcher interface {
	SearchTracks(ctx context.Context, title string) ([]TrackRef, error)
}

// MatchFailure explains why a song found no track, including the nearest
// miss so an operator can judge whether the threshold is too strict.
type MatchFailure struct {
	Artist        string  `json:"artist"`
	Title         string  `json:"title"`
	Stage         string  `json:"stage"`
	BestCandidate string  `json:"best_candidate,omitempty"`
	BestScore     float64 `json:"best_score,omitempty"`
	Err           error   `json:"-"`
}

// Matcher maps an observed (artist, title) to a library track through a
// four-stage cascade: exact, normalized, fuzzy, partial. Later stages only
// run when earlier ones found nothing, so a clean library resolves almost
// everything at the first two.
type Matcher struct {
	searcher  TrackSearcher
	threshold float64
}

// NewMatcher builds a matcher. threshold bounds the fuzzy stage's
// token-set score.
func NewMatcher(searcher TrackSearcher, threshold float64) *Matcher {
	return &Matcher{searcher: searcher, threshold: threshold}
}

// Match finds the library track for a song. On failure the returned
// MatchFailure carries the stage that got furthest and the best candidate
// seen.
func (m *Matcher) Match(ctx context.Context, artist, title string) (*TrackRef, *MatchFailure) {
	candidates, err := m.searcher.SearchTracks(ctx, title)
	if err != nil {
		return nil, &MatchFailure{Artist: artist, Title: title, Stage: "search", Err: err}
	}
	if len(candidates) == 0 {
		// Retry the search with the noise stripped; "Song (Live at X)"
		// often only exists as "Song".
		stripped := normalize.Aggressive(title)
		if stripped != "" && !strings.EqualFold(stripped, title) {
			candidates, err = m.searcher.SearchTracks(ctx, stripped)
			if err != nil {
				return nil, &MatchFailure{Artist: artist, Title: title, Stage: "search", Err: err}
			}
		}
	}
	if len(candidates) == 0 {
		return nil, &MatchFailure{Artist: artist, Title: title, Stage: "search"}
	}

	// Stage 1: exact, case-insensitive.
	for i := range candidates {
		if strings.EqualFold(candidates[i].Title, title) &&
			strings.EqualFold(candidates[i].Artist, artist) {
			return &candidates[i], nil
		}
	}

	// Stage 2: normalized equality, which forgives punctuation,
	// diacritics and trailing edition clauses.
	wantTitle := normalize.Aggressive(title)
	wantArtist := normalize.Aggressive(artist)
	for i := range candidates {
		if normalize.Aggressive(candidates[i].Title) == wantTitle &&
			normalize.Aggressive(candidates[i].Artist) == wantArtist {
			return &candidates[i], nil
		}
	}

	// Stage 3: fuzzy title with a normalized artist match. The artist side
	// stays strict: a fuzzy title under the wrong artist is a cover.
	var best *TrackRef
	bestScore := 0.0
	for i := range candidates {
		if normalize.Aggressive(candidates[i].Artist) != wantArtist {
			continue
		}
		score := normalize.TokenSetRatio(candidates[i].Title, title)
		if score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}
	if best != nil && bestScore >= m.threshold {
		log.Debug().Str("title", title).Str("matched", best.Title).
			Float64("score", bestScore).Msg("fuzzy track match")
		return best, nil
	}

	// Stage 4: partial title containment, still artist-strict.
	for i := range candidates {
		if normalize.Aggressive(candidates[i].Artist) != wantArtist {
			continue
		}
		ct := normalize.Aggressive(candidates[i].Title)
		if ct != "" && wantTitle != "" &&
			(strings.Contains(ct, wantTitle) || strings.Contains(wantTitle, ct)) {
			return &candidates[i], nil
		}
	}

	failure := &MatchFailure{Artist: artist, Title: title, Stage: "partial"}
	if best != nil {
		failure.BestCandidate = best.Artist + " - " + best.Title
		failure.BestScore = bestScore
	}
	return nil, failure
}
