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

// Package migrate drives a Google Photos Takeout export into a remote
// photo service: it classifies each indexed item against remote state,
// runs a bounded-concurrency upload/update pipeline with per-item
// failure isolation, and reconciles album membership idempotently.
package migrate

import (
	"context"
	"time"
)

// RemoteAsset is the engine's view of an asset that exists on the remote
// service. It is read-only except through explicit update calls.
type RemoteAsset struct {
	ID          string
	Checksum    string
	Taken       time.Time // zero when the server has no capture time
	HasLocation bool
}

// UploadRequest describes one asset upload. The file at Path is streamed
// to the server; Checksum is its SHA-1, hex-encoded.
type UploadRequest struct {
	Path      string
	Filename  string
	Size      int64
	Checksum  string
	Taken     time.Time
	Latitude  *float64
	Longitude *float64
}

// UploadResult is the server's answer to an upload. Duplicate is set
// when the server already had an asset with the same content and
// returned its ID instead of storing a new copy.
type UploadResult struct {
	AssetID   string
	Duplicate bool
}

// AssetMetadata carries the fields of a metadata-only update.
type AssetMetadata struct {
	Taken     time.Time
	Latitude  *float64
	Longitude *float64
}

// Service is the remote photo service surface the engine needs. Every
// call is potentially slow, rate-limited, and transiently failing;
// implementations own retry and authentication. Lookups report absence
// with a nil/zero result and a nil error.
type Service interface {
	// ValidateConnection checks reachability and the credential. A
	// failure here is run-fatal: the engine aborts before processing.
	ValidateConnection(ctx context.Context) error

	// FindAssetByChecksum returns the remote asset with the given
	// content fingerprint, or nil if none exists.
	FindAssetByChecksum(ctx context.Context, checksum string) (*RemoteAsset, error)

	UploadAsset(ctx context.Context, req UploadRequest) (UploadResult, error)
	UpdateAssetMetadata(ctx context.Context, assetID string, meta AssetMetadata) error

	// FindAlbumByName returns the ID of the album with the exact display
	// name, or "" if none exists.
	FindAlbumByName(ctx context.Context, name string) (string, error)
	CreateAlbum(ctx context.Context, name string) (string, error)
	AlbumAssetIDs(ctx context.Context, albumID string) ([]string, error)
	AddAssetsToAlbum(ctx context.Context, albumID string, assetIDs []string) error
}
