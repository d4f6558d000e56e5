package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/spinwatch/spinwatch/internal/normalize"
	"github.com/spinwatch/spinwatch/internal/store"
)

// ErrRejected marks a name that should never reach the identity service:
// blacklisted feed noise or a string that cannot be an artist name. Callers
// skip the observation instead of storing it.
var ErrRejected = errors.New("name rejected")

const (
	// minScore is the lowest candidate score accepted when no exact match
	// exists.
	minScore = 0.80
	// dominanceGap is how far ahead of the runner-up the best candidate
	// must be to win without an exact name match.
	dominanceGap = 0.05

	maxNameLength  = 100
	resolveTimeout = 30 * time.Second
)

// Service is the canonical-identity resolver. It implements store.Resolver.
type Service struct {
	db        *store.DB
	client    Searcher
	blacklist map[string]bool
}

// NewService wires the resolver. The blacklist entries are matched against
// the normalized lowercase name.
func NewService(db *store.DB, client Searcher, blacklist []string) *Service {
	bl := make(map[string]bool, len(blacklist))
	for _, b := range blacklist {
		bl[strings.ToLower(strings.TrimSpace(b))] = true
	}
	return &Service{db: db, client: client, blacklist: bl}
}

// ValidateName rejects strings that cannot be artist names: blacklisted
// feed noise, over-long credit dumps, multi-comma lists, and strings with
// no letter in them.
func (s *Service) ValidateName(name string) error {
	name = normalize.Name(name)
	if name == "" {
		return fmt.Errorf("%w: empty", ErrRejected)
	}
	if s.blacklist[strings.ToLower(name)] {
		return fmt.Errorf("%w: blacklisted %q", ErrRejected, name)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: %d characters", ErrRejected, len(name))
	}
	if strings.Count(name, ",") >= 2 {
		return fmt.Errorf("%w: multi-comma credit %q", ErrRejected, name)
	}
	hasLetter := false
	for _, r := range name {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return fmt.Errorf("%w: no letters in %q", ErrRejected, name)
	}
	return nil
}

// Resolve maps a raw artist credit to a CAID and canonical display name.
// The cascade is: validation, manual override, resolved-artist cache,
// existing placeholder, upstream search. An unresolvable name gets a fresh
// placeholder, as does any name the service fails or refuses to answer
// for; errors surface only for rejected names and store failures.
func (s *Service) Resolve(name string) (string, string, error) {
	name = normalize.Name(name)
	if err := s.ValidateName(name); err != nil {
		return "", "", err
	}

	if o, err := s.db.GetOverride(name); err == nil {
		return o.CAID, o.NameOriginal, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", "", err
	}

	if a, err := s.db.FindArtistByName(name); err == nil {
		return a.CAID, a.Name, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", "", err
	}

	// An existing placeholder means a recent search already failed; reuse
	// it and let the retry job own further attempts.
	if a, err := s.db.FindPlaceholderByName(name); err == nil {
		return a.CAID, a.Name, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	cand, err := s.search(ctx, name)
	if err != nil {
		// Throttles and outages must not block ingestion: store the play
		// under a placeholder and let the retry job resolve it later.
		log.Warn().Err(err).Str("artist", name).
			Msg("identity search failed; minting placeholder")
		cand = nil
	}
	if cand != nil {
		log.Debug().Str("raw", name).Str("caid", cand.ID).Str("canonical", cand.Name).
			Msg("resolved artist")
		return cand.ID, normalize.Name(cand.Name), nil
	}

	caid := store.PendingPrefix + uuid.NewString()
	log.Info().Str("artist", name).Str("placeholder", caid).Msg("minted placeholder")
	return caid, name, nil
}

// search queries the service and applies the acceptance rules: an exact
// case-insensitive name match always wins; otherwise the best candidate
// must score at least minScore and lead the runner-up by dominanceGap.
func (s *Service) search(ctx context.Context, name string) (*Candidate, error) {
	candidates, err := s.client.SearchArtist(ctx, name)
	if err != nil {
		return nil, err
	}
	return pick(name, candidates), nil
}

func pick(name string, candidates []Candidate) *Candidate {
	if len(candidates) == 0 {
		return nil
	}

	key := normalize.Key(name)
	for i := range candidates {
		if normalize.Key(candidates[i].Name) == key {
			return &candidates[i]
		}
	}

	best := 0
	for i := range candidates {
		if candidates[i].Score > candidates[best].Score {
			best = i
		}
	}
	if candidates[best].Score < minScore {
		return nil
	}
	for i := range candidates {
		if i == best {
			continue
		}
		if candidates[best].Score-candidates[i].Score < dominanceGap {
			// Ambiguous: two near-equal candidates and neither matches
			// the name exactly. Guessing here poisons the cache.
			return nil
		}
	}
	return &candidates[best]
}

// VerifyOverrides checks each unverified manual override against the
// service by CAID and marks the ones that exist. Unknown CAIDs are logged
// and left unverified.
func (s *Service) VerifyOverrides(ctx context.Context) (int, error) {
	overrides, err := s.db.ListOverrides()
	if err != nil {
		return 0, err
	}
	verified := 0
	for _, o := range overrides {
		if o.Verified {
			continue
		}
		cand, err := s.client.LookupArtist(ctx, o.CAID)
		if err != nil {
			return verified, fmt.Errorf("verifying override %q: %w", o.NameOriginal, err)
		}
		if cand == nil {
			log.Warn().Str("name", o.NameOriginal).Str("caid", o.CAID).
				Msg("override caid unknown to identity service")
			continue
		}
		if err := s.db.MarkOverrideVerified(o.NameOriginal); err != nil {
			return verified, err
		}
		verified++
	}
	return verified, nil
}
