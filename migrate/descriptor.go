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

package migrate

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/photomigrate/photomigrate/takeout"
)

// Descriptor is the canonical per-file unit flowing through the
// pipeline: one indexed media item plus its lazily computed content
// fingerprint. Exactly one Descriptor exists per distinct source file,
// and each produces exactly one Outcome.
type Descriptor struct {
	Item *takeout.Item

	once sync.Once
	sum  string
	err  error
}

// Fingerprint returns the hex-encoded SHA-1 of the file's bytes,
// computing it on first call and caching the result. SHA-1 because the
// remote service defines asset equivalence in SHA-1 terms.
func (d *Descriptor) Fingerprint() (string, error) {
	d.once.Do(func() {
		f, err := os.Open(d.Item.Path)
		if err != nil {
			d.err = fmt.Errorf("opening %s: %w", d.Item.Path, err)
			return
		}
		defer f.Close()
		h := sha1.New()
		if _, err := io.Copy(h, f); err != nil {
			d.err = fmt.Errorf("hashing %s: %w", d.Item.Path, err)
			return
		}
		d.sum = hex.EncodeToString(h.Sum(nil))
	})
	return d.sum, d.err
}

// uploadRequest assembles the upload call for this descriptor.
func (d *Descriptor) uploadRequest(checksum string) UploadRequest {
	md := d.Item.Metadata
	return UploadRequest{
		Path:      d.Item.Path,
		Filename:  md.OriginalFilename,
		Size:      d.Item.Size,
		Checksum:  checksum,
		Taken:     md.Taken,
		Latitude:  md.Latitude,
		Longitude: md.Longitude,
	}
}
