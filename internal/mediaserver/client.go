// Package mediaserver talks to the media server (a Plex-style API) hosting
// the music library and the target playlists, and matches observed songs
// against its tracks.
package mediaserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/spinwatch/spinwatch/internal/config"
)

// TrackRef is one track in the server's music library.
type TrackRef struct {
	RatingKey string
	Title     string
	Artist    string
	Album     string
}

// PlaylistRef is a playlist on the server.
type PlaylistRef struct {
	RatingKey string
	Title     string
	ItemCount int
}

// PlaylistItem is one entry of a playlist. ItemID addresses the entry for
// removal; RatingKey addresses the underlying track.
type PlaylistItem struct {
	ItemID    string
	RatingKey string
	Title     string
	Artist    string
}

// Client talks to the media server.
type Client struct {
	http        *resty.Client
	libraryName string

	machineID string
	sectionID string
}

// NewClient builds a client from the media config. The token comes from the
// environment, never the config file.
func NewClient(cfg config.Media, token string) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.URL).
		SetHeader("X-Plex-Token", token).
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second)
	return &Client{http: httpClient, libraryName: cfg.LibraryName}
}

// Media server JSON envelopes. Everything lives under MediaContainer.
type container struct {
	MediaContainer struct {
		MachineIdentifier string     `json:"machineIdentifier"`
		Directory         []metadata `json:"Directory"`
		Metadata          []metadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

type metadata struct {
	RatingKey        string `json:"ratingKey"`
	Key              string `json:"key"`
	PlaylistItemID   int    `json:"playlistItemID"`
	Title            string `json:"title"`
	Type             string `json:"type"`
	GrandparentTitle string `json:"grandparentTitle"`
	ParentTitle      string `json:"parentTitle"`
	LeafCount        int    `json:"leafCount"`
}

func (c *Client) get(ctx context.Context, path string, params map[string]string) (*container, error) {
	var body container
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&body).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("media server %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("media server %s: %s", path, resp.Status())
	}
	return &body, nil
}

// Ping verifies connectivity and the token, caching the server identity.
func (c *Client) Ping(ctx context.Context) error {
	body, err := c.get(ctx, "/", nil)
	if err != nil {
		return err
	}
	c.machineID = body.MediaContainer.MachineIdentifier
	return nil
}

func (c *Client) machineIdentifier(ctx context.Context) (string, error) {
	if c.machineID == "" {
		if err := c.Ping(ctx); err != nil {
			return "", err
		}
	}
	return c.machineID, nil
}

// musicSection finds the configured music library section, cached after the
// first lookup.
func (c *Client) musicSection(ctx context.Context) (string, error) {
	if c.sectionID != "" {
		return c.sectionID, nil
	}
	body, err := c.get(ctx, "/library/sections", nil)
	if err != nil {
		return "", err
	}
	for _, d := range body.MediaContainer.Directory {
		if d.Type == "artist" && (c.libraryName == "" || strings.EqualFold(d.Title, c.libraryName)) {
			c.sectionID = d.Key
			return c.sectionID, nil
		}
	}
	return "", fmt.Errorf("music library %q not found on media server", c.libraryName)
}

// SearchTracks queries the music section for tracks by title.
func (c *Client) SearchTracks(ctx context.Context, title string) ([]TrackRef, error) {
	section, err := c.musicSection(ctx)
	if err != nil {
		return nil, err
	}
	body, err := c.get(ctx, "/library/sections/"+section+"/search", map[string]string{
		"type":  "10", // track
		"title": title,
	})
	if err != nil {
		return nil, err
	}
	tracks := make([]TrackRef, 0, len(body.MediaContainer.Metadata))
	for _, m := range body.MediaContainer.Metadata {
		tracks = append(tracks, TrackRef{
			RatingKey: m.RatingKey,
			Title:     m.Title,
			Artist:    m.GrandparentTitle,
			Album:     m.ParentTitle,
		})
	}
	return tracks, nil
}

// FindPlaylist returns the playlist with the given title, or nil when the
// server has none.
func (c *Client) FindPlaylist(ctx context.Context, title string) (*PlaylistRef, error) {
	body, err := c.get(ctx, "/playlists", map[string]string{"playlistType": "audio"})
	if err != nil {
		return nil, err
	}
	for _, m := range body.MediaContainer.Metadata {
		if strings.EqualFold(m.Title, title) {
			return &PlaylistRef{RatingKey: m.RatingKey, Title: m.Title, ItemCount: m.LeafCount}, nil
		}
	}
	return nil, nil
}

func (c *Client) itemsURI(ctx context.Context, trackIDs []string) (string, error) {
	machine, err := c.machineIdentifier(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("server://%s/com.plexapp.plugins.library/library/metadata/%s",
		machine, strings.Join(trackIDs, ",")), nil
}

// CreatePlaylist creates an audio playlist seeded with the given tracks.
func (c *Client) CreatePlaylist(ctx context.Context, title string, trackIDs []string) (*PlaylistRef, error) {
	uri, err := c.itemsURI(ctx, trackIDs)
	if err != nil {
		return nil, err
	}
	var body container
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"title": title,
			"type":  "audio",
			"smart": "0",
			"uri":   uri,
		}).
		SetResult(&body).
		Post("/playlists")
	if err != nil {
		return nil, fmt.Errorf("creating playlist %q: %w", title, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("creating playlist %q: %s", title, resp.Status())
	}
	if len(body.MediaContainer.Metadata) == 0 {
		return nil, fmt.Errorf("creating playlist %q: empty response", title)
	}
	m := body.MediaContainer.Metadata[0]
	return &PlaylistRef{RatingKey: m.RatingKey, Title: m.Title, ItemCount: m.LeafCount}, nil
}

// AddTracks appends tracks to an existing playlist.
func (c *Client) AddTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	if len(trackIDs) == 0 {
		return nil
	}
	uri, err := c.itemsURI(ctx, trackIDs)
	if err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("uri", uri).
		Put("/playlists/" + playlistID + "/items")
	if err != nil {
		return fmt.Errorf("adding to playlist %s: %w", playlistID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("adding to playlist %s: %s", playlistID, resp.Status())
	}
	return nil
}

// PlaylistItems lists a playlist's entries.
func (c *Client) PlaylistItems(ctx context.Context, playlistID string) ([]PlaylistItem, error) {
	body, err := c.get(ctx, "/playlists/"+playlistID+"/items", nil)
	if err != nil {
		return nil, err
	}
	items := make([]PlaylistItem, 0, len(body.MediaContainer.Metadata))
	for _, m := range body.MediaContainer.Metadata {
		items = append(items, PlaylistItem{
			ItemID:    fmt.Sprintf("%d", m.PlaylistItemID),
			RatingKey: m.RatingKey,
			Title:     m.Title,
			Artist:    m.GrandparentTitle,
		})
	}
	return items, nil
}

// ClearPlaylist removes every entry, keeping the playlist itself.
func (c *Client) ClearPlaylist(ctx context.Context, playlistID string) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/playlists/" + playlistID + "/items")
	if err != nil {
		return fmt.Errorf("clearing playlist %s: %w", playlistID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("clearing playlist %s: %s", playlistID, resp.Status())
	}
	return nil
}

// RemoveItem removes one entry from a playlist.
func (c *Client) RemoveItem(ctx context.Context, playlistID, itemID string) error {
	resp, err := c.http.R().SetContext(ctx).
		Delete("/playlists/" + playlistID + "/items/" + itemID)
	if err != nil {
		return fmt.Errorf("removing item %s: %w", itemID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("removing item %s: %s", itemID, resp.Status())
	}
	return nil
}

// DeletePlaylist removes a playlist from the server.
func (c *Client) DeletePlaylist(ctx context.Context, playlistID string) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/playlists/" + playlistID)
	if err != nil {
		return fmt.Errorf("deleting playlist %s: %w", playlistID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("deleting playlist %s: %s", playlistID, resp.Status())
	}
	return nil
}
