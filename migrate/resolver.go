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
	"context"
	"sync"

	"go.uber.org/zap"
)

// resolver maintains the run-scoped view of remote state, keyed by
// content fingerprint. Cache entries are written once per key and are
// then safe for concurrent reads; the keyed mutex serializes all work on
// one fingerprint, so each fingerprint triggers at most one remote
// lookup and at most one upload.
type resolver struct {
	svc Service
	log *zap.Logger

	lmu   sync.Mutex
	locks map[string]chan struct{} // fingerprint -> release signal

	mu    sync.RWMutex
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	asset *RemoteAsset // nil = confirmed absent remotely
	// uploadedThisRun distinguishes "duplicate of something we just
	// uploaded" from "already migrated before this run".
	uploadedThisRun bool
}

func newResolver(svc Service, log *zap.Logger) *resolver {
	return &resolver{
		svc:   svc,
		log:   log,
		locks: make(map[string]chan struct{}),
		cache: make(map[string]*cacheEntry),
	}
}

// lock acquires the per-fingerprint critical section. Callers hold it
// across classify + upload + put so identical content processed by two
// workers can never be uploaded twice. Distinct fingerprints stay fully
// concurrent: the holder of a fingerprint parks a channel in the locks
// map, and waiters block on it until unlock closes it.
func (r *resolver) lock(checksum string) {
	for {
		r.lmu.Lock()
		held, ok := r.locks[checksum]
		if !ok {
			r.locks[checksum] = make(chan struct{})
			r.lmu.Unlock()
			return
		}
		r.lmu.Unlock()
		<-held
	}
}

func (r *resolver) unlock(checksum string) {
	r.lmu.Lock()
	held := r.locks[checksum]
	delete(r.locks, checksum)
	r.lmu.Unlock()
	close(held)
}

// resolve returns the cached entry for the fingerprint, querying the
// remote service once on a miss. Must be called with the fingerprint
// lock held.
func (r *resolver) resolve(ctx context.Context, checksum string) (*cacheEntry, error) {
	r.mu.RLock()
	entry, ok := r.cache[checksum]
	r.mu.RUnlock()
	if ok {
		return entry, nil
	}

	asset, err := r.svc.FindAssetByChecksum(ctx, checksum)
	if err != nil {
		return nil, err
	}
	entry = &cacheEntry{asset: asset}
	r.put(checksum, entry)
	if asset != nil {
		r.log.Debug("fingerprint already on server",
			zap.String("checksum", checksum),
			zap.String("asset_id", asset.ID))
	}
	return entry, nil
}

// put records the remote state reached for a fingerprint. Entries are
// replaced wholesale, never mutated, so concurrent readers always see a
// consistent value.
func (r *resolver) put(checksum string, entry *cacheEntry) {
	r.mu.Lock()
	r.cache[checksum] = entry
	r.mu.Unlock()
}

// warm seeds the cache before workers start, e.g. from the run journal.
func (r *resolver) warm(checksum string, asset *RemoteAsset) {
	r.put(checksum, &cacheEntry{asset: asset})
}

// needsMetadata reports whether the local record carries a field the
// remote asset lacks. Per the documented precedence, any such field
// makes the item "metadata-updated" rather than "duplicate-skipped".
func needsMetadata(remote *RemoteAsset, d *Descriptor) bool {
	md := d.Item.Metadata
	if remote.Taken.IsZero() && !md.Taken.IsZero() {
		return true
	}
	if !remote.HasLocation && md.HasLocation() {
		return true
	}
	return false
}
