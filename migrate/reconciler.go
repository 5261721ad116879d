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
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// reconcileConcurrency bounds how many albums are reconciled at once.
// Albums are independent of each other; within one album all membership
// work happens on a single goroutine.
const reconcileConcurrency = 4

// reconciler collects desired album membership during the pipeline and,
// once all items have drained, makes remote album state match it:
// create-if-absent by exact name, then assign only the members the album
// does not already have. Safe to re-run: a fully migrated export yields
// zero creations and zero assignment calls.
type reconciler struct {
	svc   Service
	log   *zap.Logger
	stats *stats

	mu   sync.Mutex
	want map[string][]string // album title -> asset IDs
}

func newReconciler(svc Service, log *zap.Logger, st *stats) *reconciler {
	return &reconciler{
		svc:   svc,
		log:   log,
		stats: st,
		want:  make(map[string][]string),
	}
}

// register notes that the asset belongs in the named album. Called by
// pipeline workers only after the asset is known to exist remotely.
func (rc *reconciler) register(album, assetID string) {
	if album == "" || assetID == "" {
		return
	}
	rc.mu.Lock()
	rc.want[album] = append(rc.want[album], assetID)
	rc.mu.Unlock()
}

// albums returns the registered album titles, sorted for deterministic
// logs and tests.
func (rc *reconciler) albums() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	names := make([]string, 0, len(rc.want))
	for name := range rc.want {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// reconcile brings every registered album up to date. Album failures are
// recorded in the run stats and never abort other albums; the returned
// error is only a context cancellation.
func (rc *reconciler) reconcile(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)

	for _, name := range rc.albums() {
		name := name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := rc.reconcileAlbum(ctx, name); err != nil {
				rc.log.Warn("album reconciliation failed",
					zap.String("album", name), zap.Error(err))
				rc.stats.albumFailed(name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (rc *reconciler) reconcileAlbum(ctx context.Context, name string) error {
	rc.mu.Lock()
	assetIDs := append([]string(nil), rc.want[name]...)
	rc.mu.Unlock()

	albumID, err := rc.svc.FindAlbumByName(ctx, name)
	if err != nil {
		return fmt.Errorf("looking up album: %w", err)
	}
	if albumID == "" {
		albumID, err = rc.svc.CreateAlbum(ctx, name)
		if err != nil {
			return fmt.Errorf("creating album: %w", err)
		}
		rc.stats.albumCreated(name)
		rc.log.Info("created album", zap.String("album", name), zap.String("album_id", albumID))
	} else {
		rc.stats.albumExisting(name)
	}

	members, err := rc.svc.AlbumAssetIDs(ctx, albumID)
	if err != nil {
		return fmt.Errorf("listing album members: %w", err)
	}
	have := make(map[string]struct{}, len(members))
	for _, id := range members {
		have[id] = struct{}{}
	}

	// the same asset can be registered twice (several copies of the same
	// content targeting one album); dedupe before assigning
	var missing []string
	queued := make(map[string]struct{})
	for _, id := range assetIDs {
		if _, ok := have[id]; ok {
			continue
		}
		if _, ok := queued[id]; ok {
			continue
		}
		queued[id] = struct{}{}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		rc.log.Debug("album membership already complete", zap.String("album", name))
		return nil
	}

	if err := rc.svc.AddAssetsToAlbum(ctx, albumID, missing); err != nil {
		return fmt.Errorf("assigning %d assets: %w", len(missing), err)
	}
	rc.log.Info("assigned assets to album",
		zap.String("album", name),
		zap.Int("assigned", len(missing)))
	return nil
}

// preview resolves which registered albums already exist without
// mutating anything; used by dry-run mode to report what a real run
// would create.
func (rc *reconciler) preview(ctx context.Context) error {
	for _, name := range rc.albums() {
		if err := ctx.Err(); err != nil {
			return err
		}
		albumID, err := rc.svc.FindAlbumByName(ctx, name)
		if err != nil {
			rc.stats.albumFailed(name, err)
			continue
		}
		if albumID == "" {
			rc.stats.albumCreated(name) // would be created
		} else {
			rc.stats.albumExisting(name)
		}
	}
	return nil
}
