/*
	Photomigrate
	Copyright (c) 2025 The Photomigrate Authors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package immich is a client for the subset of the Immich server API the
// migration engine drives: asset upload and lookup, metadata updates,
// and album management. Every call goes through a shared retry policy;
// the server is assumed slow, rate-limited, and transiently failing.
package immich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/photomigrate/photomigrate/migrate"
)

const apiKeyHeader = "x-api-key"

// Client talks to one Immich server with one API key. It implements
// migrate.Service. Safe for concurrent use.
type Client struct {
	base     *url.URL
	apiKey   string
	hc       *http.Client
	deviceID string
	retry    retryPolicy
	log      *zap.Logger
}

// Options tunes the client. Zero values get sensible defaults.
type Options struct {
	// Timeout bounds a single HTTP attempt (not the whole retry loop).
	Timeout time.Duration

	// MaxAttempts bounds the retry loop per logical call; default 3.
	MaxAttempts int

	// RetryBaseDelay is the first backoff step; default one second.
	RetryBaseDelay time.Duration

	// RequestsPerMinute, when positive, paces all requests through a
	// token-bucket transport.
	RequestsPerMinute int

	// Transport overrides the underlying RoundTripper (tests).
	Transport http.RoundTripper

	Logger *zap.Logger
}

// NewClient builds a client for serverURL (e.g. "http://host:2283")
// authenticated with apiKey.
func NewClient(serverURL, apiKey string, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing server URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("server URL %q must include scheme and host", serverURL)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	rt := opts.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	if opts.RequestsPerMinute > 0 {
		rt = newRateLimitedRoundTripper(rt, opts.RequestsPerMinute)
	}

	return &Client{
		base:     base,
		apiKey:   apiKey,
		hc:       &http.Client{Transport: rt, Timeout: opts.Timeout},
		deviceID: "photomigrate-" + uuid.NewString(),
		retry: retryPolicy{
			maxAttempts: opts.MaxAttempts,
			baseDelay:   opts.RetryBaseDelay,
			maxDelay:    time.Minute,
		},
		log: opts.Logger,
	}, nil
}

// ValidateConnection verifies the server is reachable and the API key is
// accepted. The engine treats a failure here as run-fatal.
func (c *Client) ValidateConnection(ctx context.Context) error {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newJSONRequest(ctx, http.MethodGet, "/api/users/me", nil)
	}, http.StatusOK)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// FindAssetByChecksum asks the server whether it already stores content
// with the given SHA-1, and if so fetches that asset's metadata state.
// Returns (nil, nil) when the server does not have the content.
func (c *Client) FindAssetByChecksum(ctx context.Context, checksum string) (*migrate.RemoteAsset, error) {
	body := map[string]any{
		"assets": []map[string]string{{"id": checksum, "checksum": checksum}},
	}
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newJSONRequest(ctx, http.MethodPost, "/api/assets/bulk-upload-check", body)
	}, http.StatusOK)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var check struct {
		Results []struct {
			Action  string `json:"action"`
			Reason  string `json:"reason"`
			AssetID string `json:"assetId"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&check); err != nil {
		return nil, fmt.Errorf("decoding bulk upload check: %w", err)
	}
	if len(check.Results) == 0 || check.Results[0].Action != "reject" || check.Results[0].AssetID == "" {
		return nil, nil
	}
	return c.assetInfo(ctx, check.Results[0].AssetID, checksum)
}

// assetInfo reads an asset's current capture time and GPS presence.
func (c *Client) assetInfo(ctx context.Context, assetID, checksum string) (*migrate.RemoteAsset, error) {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newJSONRequest(ctx, http.MethodGet, "/api/assets/"+assetID, nil)
	}, http.StatusOK)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info struct {
		ID       string `json:"id"`
		ExifInfo struct {
			DateTimeOriginal *time.Time `json:"dateTimeOriginal"`
			Latitude         *float64   `json:"latitude"`
			Longitude        *float64   `json:"longitude"`
		} `json:"exifInfo"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding asset info: %w", err)
	}

	asset := &migrate.RemoteAsset{
		ID:          assetID,
		Checksum:    checksum,
		HasLocation: info.ExifInfo.Latitude != nil && info.ExifInfo.Longitude != nil,
	}
	if info.ExifInfo.DateTimeOriginal != nil {
		asset.Taken = *info.ExifInfo.DateTimeOriginal
	}
	return asset, nil
}

// UploadAsset streams the file to the server as multipart form data. The
// server detects duplicates by checksum and responds 200 with status
// "duplicate" instead of 201.
func (c *Client) UploadAsset(ctx context.Context, req migrate.UploadRequest) (migrate.UploadResult, error) {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newUploadRequest(ctx, req)
	}, http.StatusCreated, http.StatusOK)
	if err != nil {
		return migrate.UploadResult{}, err
	}
	defer resp.Body.Close()

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return migrate.UploadResult{}, fmt.Errorf("decoding upload response: %w", err)
	}
	return migrate.UploadResult{
		AssetID:   created.ID,
		Duplicate: resp.StatusCode == http.StatusOK && created.Status == "duplicate",
	}, nil
}

// newUploadRequest builds the multipart request from scratch so the
// retry loop can replay it: the file is reopened for every attempt.
func (c *Client) newUploadRequest(ctx context.Context, req migrate.UploadRequest) (*http.Request, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", req.Path, err)
	}

	// buffering the whole body keeps Content-Length set and the request
	// trivially replayable; Takeout media files fit in memory
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"deviceAssetId":  fmt.Sprintf("%s-%d", req.Filename, req.Size),
		"deviceId":       c.deviceID,
		"fileCreatedAt":  formatTime(req.Taken),
		"fileModifiedAt": formatTime(req.Taken),
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing form field %s: %w", name, err)
		}
	}
	part, err := w.CreateFormFile("assetData", req.Filename)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading %s: %w", req.Path, err)
	}
	f.Close()
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+"/api/assets", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set(apiKeyHeader, c.apiKey)
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("x-immich-checksum", req.Checksum)
	return httpReq, nil
}

// UpdateAssetMetadata issues a metadata-only update for one asset.
func (c *Client) UpdateAssetMetadata(ctx context.Context, assetID string, meta migrate.AssetMetadata) error {
	body := map[string]any{"ids": []string{assetID}}
	if !meta.Taken.IsZero() {
		body["dateTimeOriginal"] = formatTime(meta.Taken)
	}
	if meta.Latitude != nil && meta.Longitude != nil {
		body["latitude"] = *meta.Latitude
		body["longitude"] = *meta.Longitude
	}
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newJSONRequest(ctx, http.MethodPut, "/api/assets", body)
	}, http.StatusNoContent, http.StatusOK)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// FindAlbumByName returns the ID of the album whose display name matches
// exactly (case-sensitive), or "" when there is none.
func (c *Client) FindAlbumByName(ctx context.Context, name string) (string, error) {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newJSONRequest(ctx, http.MethodGet, "/api/albums", nil)
	}, http.StatusOK)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var albums []struct {
		ID        string `json:"id"`
		AlbumName string `json:"albumName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&albums); err != nil {
		return "", fmt.Errorf("decoding album list: %w", err)
	}
	for _, a := range albums {
		if a.AlbumName == name {
			return a.ID, nil
		}
	}
	return "", nil
}

// CreateAlbum creates an empty album and returns its ID.
func (c *Client) CreateAlbum(ctx context.Context, name string) (string, error) {
	body := map[string]string{"albumName": name}
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newJSONRequest(ctx, http.MethodPost, "/api/albums", body)
	}, http.StatusCreated, http.StatusOK)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decoding created album: %w", err)
	}
	return created.ID, nil
}

// AlbumAssetIDs lists the current member asset IDs of an album.
func (c *Client) AlbumAssetIDs(ctx context.Context, albumID string) ([]string, error) {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newJSONRequest(ctx, http.MethodGet, "/api/albums/"+albumID, nil)
	}, http.StatusOK)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var album struct {
		Assets []struct {
			ID string `json:"id"`
		} `json:"assets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&album); err != nil {
		return nil, fmt.Errorf("decoding album members: %w", err)
	}
	ids := make([]string, 0, len(album.Assets))
	for _, a := range album.Assets {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// AddAssetsToAlbum assigns assets to an album. The server treats the
// call as additive, so repeating it for already-member assets is
// harmless.
func (c *Client) AddAssetsToAlbum(ctx context.Context, albumID string, assetIDs []string) error {
	body := map[string][]string{"ids": assetIDs}
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newJSONRequest(ctx, http.MethodPut, "/api/albums/"+albumID+"/assets", body)
	}, http.StatusOK)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// interface conformance
var _ migrate.Service = (*Client)(nil)
