package library

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/spinwatch/spinwatch/internal/store"
)

// Adder is the slice of the manager client the importer needs.
type Adder interface {
	AddArtist(ctx context.Context, caid string) error
}

// ImportStats summarizes one import pass.
type ImportStats struct {
	Eligible int      `json:"eligible"`
	Imported int      `json:"imported"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// Importer moves import-eligible artists into the library manager.
type Importer struct {
	db       *store.DB
	client   Adder
	minPlays int
}

// NewImporter wires the batch importer. minPlays is the play-count floor
// below which an artist is not worth collecting yet.
func NewImporter(db *store.DB, client Adder, minPlays int) *Importer {
	if minPlays < 1 {
		minPlays = 1
	}
	return &Importer{db: db, client: client, minPlays: minPlays}
}

// Run imports every eligible artist: resolved (never placeholders), not yet
// imported, at or above the play floor. A per-artist failure is recorded
// and the batch continues; only a context cancellation aborts it.
func (i *Importer) Run(ctx context.Context) (*ImportStats, error) {
	candidates, err := i.db.ImportCandidates(i.minPlays)
	if err != nil {
		return nil, err
	}

	stats := &ImportStats{Eligible: len(candidates)}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := i.client.AddArtist(ctx, c.CAID); err != nil {
			stats.Failed++
			stats.Errors = append(stats.Errors, c.Name+": "+err.Error())
			log.Warn().Err(err).Str("artist", c.Name).Str("caid", c.CAID).Msg("import failed")
			continue
		}
		if err := i.db.MarkArtistImported(c.CAID); err != nil {
			return stats, err
		}
		stats.Imported++
		log.Info().Str("artist", c.Name).Str("caid", c.CAID).Int("plays", c.Plays).
			Msg("artist imported")
	}
	return stats, nil
}

// ImportOne imports a single artist by CAID regardless of the play floor.
func (i *Importer) ImportOne(ctx context.Context, caid string) error {
	a, err := i.db.GetArtist(caid)
	if err != nil {
		return err
	}
	if store.IsPending(a.CAID) {
		return &UnresolvedError{Name: a.Name}
	}
	if a.Imported {
		return nil
	}
	if err := i.client.AddArtist(ctx, a.CAID); err != nil {
		return err
	}
	return i.db.MarkArtistImported(a.CAID)
}

// UnresolvedError marks an import attempt on a placeholder artist.
type UnresolvedError struct {
	Name string
}

func (e *UnresolvedError) Error() string {
	return "artist " + e.Name + " is not resolved yet"
}
