// Package catalog reads track and track-type records from the HTTP resource API.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"boardsync/model"
)

const (
	apiPrefix        = "/api/v1"
	defaultUserAgent = "boardsync/0.1"
	requestTimeout   = 10 * time.Second
)

// Client talks to the resource API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	token     string
	userAgent string
}

// NewClient builds a Client for the API at base.
func NewClient(base, token string) (*Client, error) {
	u, err := parseBaseURL(base)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:   u,
		http:      &http.Client{Timeout: requestTimeout},
		token:     token,
		userAgent: defaultUserAgent,
	}, nil
}

// Files lists every track in the catalog.
func (c *Client) Files(ctx context.Context) ([]model.CatalogTrack, error) {
	var out []model.CatalogTrack
	if err := c.get(ctx, apiPrefix+"/files", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TrackTypes lists the track types.
func (c *Client) TrackTypes(ctx context.Context) ([]model.TrackType, error) {
	var out []model.TrackType
	if err := c.get(ctx, apiPrefix+"/trackTypes", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamURL returns the media URL an element loads for track id.
func (c *Client) StreamURL(id string) string {
	rel := &url.URL{Path: apiPrefix + "/stream/" + id}
	return c.baseURL.ResolveReference(rel).String()
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: c.token})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("api %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func parseBaseURL(base string) (*url.URL, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		return nil, fmt.Errorf("api base url is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse api base url %q: %w", base, err)
	}
	u.Path = ""
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// Seed is the catalog data used to initialize the store.
type Seed struct {
	Names     map[string]string // track id -> display name
	Repeating map[string]bool   // track id -> type default loop flag
}

// LoadSeed fetches files and types and indexes them by track id.
func (c *Client) LoadSeed(ctx context.Context) (Seed, error) {
	files, err := c.Files(ctx)
	if err != nil {
		return Seed{}, err
	}
	types, err := c.TrackTypes(ctx)
	if err != nil {
		return Seed{}, err
	}
	return BuildSeed(files, types), nil
}

// BuildSeed indexes files by id, applying each file's type repeat default.
func BuildSeed(files []model.CatalogTrack, types []model.TrackType) Seed {
	repeatByType := make(map[string]bool, len(types))
	for _, tt := range types {
		repeatByType[tt.ID] = tt.IsRepeating
	}
	seed := Seed{
		Names:     make(map[string]string, len(files)),
		Repeating: make(map[string]bool, len(files)),
	}
	for _, f := range files {
		seed.Names[f.ID] = f.Name
		if repeatByType[f.TypeID] {
			seed.Repeating[f.ID] = true
		}
	}
	return seed
}

// Name returns the display name for id, "" if unknown.
func (s Seed) Name(id string) string {
	return s.Names[id]
}
