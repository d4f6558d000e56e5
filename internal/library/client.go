// Package library pushes resolved artists into a library manager (a
// Lidarr-style API) so their releases get collected automatically.
package library

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/spinwatch/spinwatch/internal/config"
)

// Client talks to the library manager's v1 API.
type Client struct {
	http *resty.Client
	cfg  config.Library
}

// NewClient builds a client from the library config. The API key comes from
// the environment, never the config file.
func NewClient(cfg config.Library, apiKey string) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.URL).
		SetHeader("X-Api-Key", apiKey).
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second)
	return &Client{http: httpClient, cfg: cfg}
}

// Ping verifies connectivity and the API key.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/api/v1/system/status")
	if err != nil {
		return fmt.Errorf("library manager unreachable: %w", err)
	}
	if resp.StatusCode() == 401 {
		return fmt.Errorf("library manager rejected the api key")
	}
	if resp.IsError() {
		return fmt.Errorf("library manager returned %s", resp.Status())
	}
	return nil
}

// QualityProfiles lists the manager's quality profiles (id and name) for
// the settings surfaces.
func (c *Client) QualityProfiles(ctx context.Context) ([]Profile, error) {
	return c.profiles(ctx, "/api/v1/qualityprofile")
}

// MetadataProfiles lists the manager's metadata profiles.
func (c *Client) MetadataProfiles(ctx context.Context) ([]Profile, error) {
	return c.profiles(ctx, "/api/v1/metadataprofile")
}

// Profile is a quality or metadata profile reference.
type Profile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func (c *Client) profiles(ctx context.Context, path string) ([]Profile, error) {
	var out []Profile
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get(path)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("listing profiles: %s", resp.Status())
	}
	return out, nil
}

// RootFolder is a storage root configured in the manager.
type RootFolder struct {
	ID   int    `json:"id"`
	Path string `json:"path"`
}

// RootFolders lists the manager's storage roots.
func (c *Client) RootFolders(ctx context.Context) ([]RootFolder, error) {
	var out []RootFolder
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/v1/rootfolder")
	if err != nil {
		return nil, fmt.Errorf("listing root folders: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("listing root folders: %s", resp.Status())
	}
	return out, nil
}

// AddArtist imports one artist by canonical ID. The flow is lookup-first:
// the manager's own lookup payload carries the metadata it expects back,
// and the import settings are overlaid on top. An artist the manager
// already has (payload carries an id, or the POST returns 409) counts as
// success.
func (c *Client) AddArtist(ctx context.Context, caid string) error {
	var results []map[string]any
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("term", "lidarr:"+caid).
		SetResult(&results).
		Get("/api/v1/artist/lookup")
	if err != nil {
		return fmt.Errorf("looking up %s: %w", caid, err)
	}
	if resp.IsError() {
		return fmt.Errorf("looking up %s: %s", caid, resp.Status())
	}
	if len(results) == 0 {
		return fmt.Errorf("library manager does not know artist %s", caid)
	}

	payload := results[0]
	if id, ok := payload["id"]; ok {
		if n, isNum := id.(float64); isNum && n > 0 {
			return nil // already in the library
		}
	}

	payload["qualityProfileId"] = c.cfg.QualityProfileID
	payload["metadataProfileId"] = c.cfg.MetadataProfileID
	payload["monitored"] = c.cfg.Monitored
	payload["rootFolderPath"] = c.cfg.RootFolder
	payload["addOptions"] = map[string]any{
		"searchForMissingAlbums": c.cfg.SearchOnAdd,
	}

	resp, err = c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/api/v1/artist")
	if err != nil {
		return fmt.Errorf("adding %s: %w", caid, err)
	}
	// 409 means a concurrent or earlier add won; the artist is there.
	if resp.StatusCode() == 409 {
		return nil
	}
	if resp.IsError() {
		return fmt.Errorf("adding %s: %s", caid, resp.Status())
	}
	return nil
}
