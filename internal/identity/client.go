// Package identity resolves raw artist credits from station feeds to
// canonical artist IDs using a MusicBrainz-style search API, with manual
// overrides and PENDING- placeholders for names the service cannot resolve.
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/spinwatch/spinwatch/internal/config"
)

// Candidate is one artist result from the identity service. Score is the
// service's match confidence in [0,1].
type Candidate struct {
	ID             string
	Name           string
	SortName       string
	Disambiguation string
	Score          float64
}

// Searcher is the upstream surface the resolver and the retry job need.
// *Client implements it; tests substitute a fake.
type Searcher interface {
	SearchArtist(ctx context.Context, name string) ([]Candidate, error)
	LookupArtist(ctx context.Context, caid string) (*Candidate, error)
}

// Client talks to the identity service. Requests are paced to at most one
// per second across all goroutines, which the public service requires.
type Client struct {
	http *resty.Client

	mu   sync.Mutex
	last time.Time
}

const requestGap = time.Second

// NewClient builds a client for the configured identity service. The
// service rejects requests without a descriptive User-Agent.
func NewClient(cfg config.Identity) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json").
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second)
	return &Client{http: httpClient}
}

func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	wait := requestGap - time.Since(c.last)
	if wait > 0 {
		c.mu.Unlock()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
	c.last = time.Now()
	c.mu.Unlock()
	return nil
}

type searchResponse struct {
	Artists []artistJSON `json:"artists"`
}

type artistJSON struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	SortName       string `json:"sort-name"`
	Disambiguation string `json:"disambiguation"`
	Score          int    `json:"score"`
}

func (a artistJSON) candidate() Candidate {
	return Candidate{
		ID:             a.ID,
		Name:           a.Name,
		SortName:       a.SortName,
		Disambiguation: a.Disambiguation,
		Score:          float64(a.Score) / 100,
	}
}

// SearchArtist queries the service by name and returns the scored
// candidates, best first.
func (c *Client) SearchArtist(ctx context.Context, name string) ([]Candidate, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	var body searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("query", fmt.Sprintf("artist:%q", name)).
		SetQueryParam("fmt", "json").
		SetQueryParam("limit", "5").
		SetResult(&body).
		Get("/artist")
	if err != nil {
		return nil, fmt.Errorf("searching artist %q: %w", name, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("searching artist %q: service returned %s", name, resp.Status())
	}

	candidates := make([]Candidate, 0, len(body.Artists))
	for _, a := range body.Artists {
		candidates = append(candidates, a.candidate())
	}
	log.Debug().Str("artist", name).Int("candidates", len(candidates)).Msg("identity search")
	return candidates, nil
}

// LookupArtist fetches an artist by CAID. Used to verify manual overrides.
// Returns nil without error when the service does not know the ID.
func (c *Client) LookupArtist(ctx context.Context, caid string) (*Candidate, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	var body artistJSON
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("fmt", "json").
		SetResult(&body).
		Get("/artist/" + caid)
	if err != nil {
		return nil, fmt.Errorf("looking up artist %s: %w", caid, err)
	}
	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("looking up artist %s: service returned %s", caid, resp.Status())
	}
	cand := body.candidate()
	cand.Score = 1
	return &cand, nil
}
