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

package takeout

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is the normalized metadata for one media item. Latitude and
// Longitude are set together or not at all; Taken is the zero time when
// no capture timestamp could be determined.
type Record struct {
	OriginalFilename string
	Description      string
	Taken            time.Time
	Latitude         *float64
	Longitude        *float64
	Trashed          bool
}

// HasLocation reports whether the record carries GPS coordinates.
func (r Record) HasLocation() bool { return r.Latitude != nil && r.Longitude != nil }

// sidecarJSON mirrors the fields of a Takeout media sidecar that the
// migration cares about. Timestamps are epoch-second strings; geoData
// uses latitude/longitude 0,0 as a "no GPS data" sentinel.
type sidecarJSON struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	CreationTime struct {
		Timestamp string `json:"timestamp"`
	} `json:"creationTime"`
	PhotoTakenTime struct {
		Timestamp string `json:"timestamp"`
	} `json:"photoTakenTime"`
	PhotoLastModifiedTime struct {
		Timestamp string `json:"timestamp"`
	} `json:"photoLastModifiedTime"`
	GeoData     sidecarGeo `json:"geoData"`
	GeoDataExif sidecarGeo `json:"geoDataExif"`
	Trashed     bool       `json:"trashed"`
}

type sidecarGeo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// ParseSidecar normalizes sidecar JSON into a Record. Malformed input
// degrades to the best extractable subset rather than failing the item:
// whatever fields decoded before the error are kept, and the returned
// error only describes what was lost. The on-disk filename and mtime are
// fallbacks for a missing title or timestamp.
func ParseSidecar(data []byte, fallbackName string, mtime time.Time) (Record, error) {
	var sc sidecarJSON
	decodeErr := json.Unmarshal(data, &sc)
	if decodeErr != nil {
		// a partial decode may still have populated leading fields
		decodeErr = fmt.Errorf("decoding sidecar: %w", decodeErr)
	}

	rec := Record{
		OriginalFilename: sc.Title,
		Description:      sc.Description,
		Trashed:          sc.Trashed,
	}
	if rec.OriginalFilename == "" {
		rec.OriginalFilename = fallbackName
	}

	rec.Taken = sidecarTimestamp(sc)
	if rec.Taken.IsZero() {
		rec.Taken = mtime
	}

	// geoData first, geoDataExif as fallback; 0,0 means "no GPS data",
	// never a capture at the origin
	for _, geo := range []sidecarGeo{sc.GeoData, sc.GeoDataExif} {
		if geo.Latitude == 0 && geo.Longitude == 0 {
			continue
		}
		lat, lon := geo.Latitude, geo.Longitude
		rec.Latitude, rec.Longitude = &lat, &lon
		break
	}

	return rec, decodeErr
}

// sidecarTimestamp prefers photoTakenTime, then creationTime, then
// photoLastModifiedTime, same as the export's own ordering of trust.
func sidecarTimestamp(sc sidecarJSON) time.Time {
	for _, ts := range []string{
		sc.PhotoTakenTime.Timestamp,
		sc.CreationTime.Timestamp,
		sc.PhotoLastModifiedTime.Timestamp,
	} {
		if ts == "" {
			continue
		}
		epoch, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			continue
		}
		return time.Unix(epoch, 0).UTC()
	}
	return time.Time{}
}

// albumMetadataNames are the known names of the per-folder album
// metadata file; exports localize it to the account language.
var albumMetadataNames = []string{
	"metadata.json",
	"Metadaten.json",   // German
	"métadonnées.json", // French
	"metadatos.json",   // Spanish
	"metadati.json",    // Italian
}

func isAlbumMetadataName(name string) bool {
	for _, n := range albumMetadataNames {
		if strings.EqualFold(name, n) {
			return true
		}
	}
	return false
}

type albumMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func parseAlbumMetadata(data []byte) (albumMetadata, error) {
	var meta albumMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return albumMetadata{}, fmt.Errorf("decoding album metadata: %w", err)
	}
	return meta, nil
}
