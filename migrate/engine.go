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
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/photomigrate/photomigrate/takeout"
)

// defaultWorkers is the pipeline's concurrency when Config.Workers is
// unset.
const defaultWorkers = 10

// Config configures one migration run.
type Config struct {
	// Root is the extracted Takeout directory to migrate.
	Root string

	// Service is the remote photo service.
	Service Service

	// Workers is the size of the upload worker pool; defaults to
	// defaultWorkers.
	Workers int

	// DryRun indexes and classifies without uploading or mutating
	// anything remotely.
	DryRun bool

	// JournalPath, when set, enables the SQLite run journal used to warm
	// the remote-state cache across runs.
	JournalPath string

	Logger *zap.Logger
}

// Engine runs the migration pipeline.
type Engine struct {
	cfg   Config
	svc   Service
	log   *zap.Logger
	runID string

	res     *resolver
	stats   *stats
	albums  *reconciler
	journal *Journal
}

// New validates cfg and returns an engine ready to Run.
func New(cfg Config) (*Engine, error) {
	if cfg.Root == "" {
		return nil, errors.New("export root is required")
	}
	if cfg.Service == nil {
		return nil, errors.New("remote service is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	st := newStats()
	return &Engine{
		cfg:    cfg,
		svc:    cfg.Service,
		log:    cfg.Logger,
		runID:  uuid.NewString(),
		res:    newResolver(cfg.Service, cfg.Logger.Named("resolver")),
		stats:  st,
		albums: newReconciler(cfg.Service, cfg.Logger.Named("albums"), st),
	}, nil
}

// Run executes the migration: index, classify, upload/update, reconcile
// albums, summarize. Per-item and per-album failures are captured in the
// summary and never abort the run; the returned error is non-nil only
// for run-fatal conditions (unreachable service, invalid credential,
// missing export root) or cancellation. On cancellation the summary
// still reflects everything completed so far.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if info, err := os.Stat(e.cfg.Root); err != nil || !info.IsDir() {
		return e.stats.summary(), fmt.Errorf("export root %s is not a readable directory", e.cfg.Root)
	}
	if err := e.svc.ValidateConnection(ctx); err != nil {
		return e.stats.summary(), fmt.Errorf("remote service unavailable: %w", err)
	}

	if e.cfg.JournalPath != "" {
		journal, err := OpenJournal(e.cfg.JournalPath)
		if err != nil {
			// degraded but not fatal: the run just loses warm starts
			e.log.Warn("journal unavailable; continuing without it", zap.Error(err))
		} else {
			e.journal = journal
			defer journal.Close()
			e.warmFromJournal(ctx)
		}
	}

	e.log.Info("starting migration",
		zap.String("run_id", e.runID),
		zap.String("root", e.cfg.Root),
		zap.Int("workers", e.cfg.Workers),
		zap.Bool("dry_run", e.cfg.DryRun))

	indexer := takeout.NewIndexer(e.cfg.Root, e.log.Named("indexer"))
	entries := indexer.Items(ctx)

	wg := new(sync.WaitGroup)
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			for entry := range entries {
				if ctx.Err() != nil {
					// stop dispatch; in-flight work has already finished
					return
				}
				e.processEntry(ctx, entry, workerNum)
			}
		}(i)
	}
	wg.Wait()

	e.stats.mu.Lock()
	e.stats.skippedUnsupported = indexer.SkippedUnsupported()
	e.stats.skippedTrashed = indexer.SkippedTrashed()
	e.stats.mu.Unlock()

	// album work only begins once every asset either exists remotely or
	// has failed for good
	var reconcileErr error
	if e.cfg.DryRun {
		reconcileErr = e.albums.preview(ctx)
	} else {
		reconcileErr = e.albums.reconcile(ctx)
	}

	summary := e.stats.summary()
	if err := ctx.Err(); err != nil {
		e.log.Warn("run canceled; summary is partial", zap.Error(err))
		return summary, err
	}
	if reconcileErr != nil {
		return summary, reconcileErr
	}
	return summary, nil
}

func (e *Engine) warmFromJournal(ctx context.Context) {
	assets, err := e.journal.Assets(ctx)
	if err != nil {
		e.log.Warn("could not warm cache from journal", zap.Error(err))
		return
	}
	for checksum, asset := range assets {
		e.res.warm(checksum, &asset)
	}
	if len(assets) > 0 {
		e.log.Info("warmed remote-state cache from journal", zap.Int("entries", len(assets)))
	}
}

func (e *Engine) processEntry(ctx context.Context, entry takeout.Entry, workerNum int) {
	if entry.Err != nil {
		// per-file indexing failure: recorded, never aborts the run
		e.log.Warn("index error", zap.Int("worker", workerNum), zap.Error(entry.Err))
		e.stats.record(Outcome{
			Disposition: DispositionFailed,
			Kind:        ErrorLocal,
			Err:         entry.Err,
		})
		return
	}

	d := &Descriptor{Item: entry.Item}
	outcome := e.processItem(ctx, d)
	e.stats.record(outcome)

	switch outcome.Disposition {
	case DispositionFailed:
		e.log.Warn("item failed",
			zap.Int("worker", workerNum),
			zap.String("file", outcome.Path),
			zap.String("error_kind", outcome.Kind.String()),
			zap.Error(outcome.Err))
	default:
		e.log.Debug("item processed",
			zap.Int("worker", workerNum),
			zap.String("file", outcome.Path),
			zap.String("disposition", outcome.Disposition.String()))
	}
}

// processItem decides and performs the action for one descriptor. The
// per-item causal order is fixed: fingerprint, remote lookup, upload or
// skip, metadata update, then album registration; cross-item order is
// unspecified.
func (e *Engine) processItem(ctx context.Context, d *Descriptor) Outcome {
	out := Outcome{Path: d.Item.Path, Album: d.Item.Album}

	checksum, err := d.Fingerprint()
	if err != nil {
		out.Disposition, out.Kind, out.Err = DispositionFailed, ErrorLocal, err
		return out
	}

	// serialize all work on this fingerprint so identical content in two
	// folders can never race into a double upload
	e.res.lock(checksum)
	defer e.res.unlock(checksum)

	entry, err := e.res.resolve(ctx, checksum)
	if err != nil {
		out.Disposition, out.Kind, out.Err = DispositionFailed, classifyError(err), err
		return out
	}

	if entry.asset == nil {
		return e.uploadNew(ctx, d, checksum, out)
	}
	return e.updateExisting(ctx, d, checksum, entry, out)
}

func (e *Engine) uploadNew(ctx context.Context, d *Descriptor, checksum string, out Outcome) Outcome {
	if e.cfg.DryRun {
		out.Disposition = DispositionUploaded
		// mark the fingerprint as handled so a second copy classifies as
		// a duplicate, mirroring a real run
		e.res.put(checksum, &cacheEntry{
			asset:           &RemoteAsset{Checksum: checksum, Taken: d.Item.Metadata.Taken, HasLocation: d.Item.Metadata.HasLocation()},
			uploadedThisRun: true,
		})
		e.albums.register(out.Album, "dry-run:"+checksum)
		return out
	}

	result, err := e.svc.UploadAsset(ctx, d.uploadRequest(checksum))
	if err != nil {
		out.Disposition, out.Kind, out.Err = DispositionFailed, classifyError(err), err
		return out
	}
	out.AssetID = result.AssetID

	if result.Duplicate {
		// the pre-upload check missed it (e.g. uploaded by someone else
		// between lookup and upload); fall through to the existing-asset
		// path with freshly fetched state
		remote, err := e.svc.FindAssetByChecksum(ctx, checksum)
		if err != nil || remote == nil {
			remote = &RemoteAsset{ID: result.AssetID, Checksum: checksum}
		}
		entry := &cacheEntry{asset: remote}
		e.res.put(checksum, entry)
		return e.updateExisting(ctx, d, checksum, entry, out)
	}

	md := d.Item.Metadata
	if md.HasLocation() {
		// the upload call carries the capture time but not GPS; bytes
		// are on the server now, so a metadata update completes the item
		err := e.svc.UpdateAssetMetadata(ctx, result.AssetID, AssetMetadata{
			Taken:     md.Taken,
			Latitude:  md.Latitude,
			Longitude: md.Longitude,
		})
		if err != nil {
			out.Disposition, out.Kind, out.Err = DispositionFailed, classifyError(err), err
			return out
		}
	}

	out.Disposition = DispositionUploaded
	e.finishAsset(ctx, RemoteAsset{
		ID:          result.AssetID,
		Checksum:    checksum,
		Taken:       md.Taken,
		HasLocation: md.HasLocation(),
	}, true)
	e.albums.register(out.Album, result.AssetID)
	return out
}

func (e *Engine) updateExisting(ctx context.Context, d *Descriptor, checksum string, entry *cacheEntry, out Outcome) Outcome {
	remote := entry.asset
	out.AssetID = remote.ID

	if needsMetadata(remote, d) {
		md := d.Item.Metadata
		if !e.cfg.DryRun {
			err := e.svc.UpdateAssetMetadata(ctx, remote.ID, AssetMetadata{
				Taken:     md.Taken,
				Latitude:  md.Latitude,
				Longitude: md.Longitude,
			})
			if err != nil {
				out.Disposition, out.Kind, out.Err = DispositionFailed, classifyError(err), err
				return out
			}
		}
		out.Disposition = DispositionMetadataUpdated
		updated := RemoteAsset{
			ID:          remote.ID,
			Checksum:    checksum,
			Taken:       remote.Taken,
			HasLocation: remote.HasLocation || md.HasLocation(),
		}
		if updated.Taken.IsZero() {
			updated.Taken = md.Taken
		}
		if !e.cfg.DryRun {
			e.finishAsset(ctx, updated, entry.uploadedThisRun)
		}
		e.albums.register(out.Album, remote.ID)
		return out
	}

	if entry.uploadedThisRun {
		out.Disposition = DispositionDuplicate
	} else {
		out.Disposition = DispositionMetadataCorrect
	}
	e.albums.register(out.Album, remote.ID)
	return out
}

// finishAsset publishes an asset's final remote state to the cache and,
// when enabled, the journal.
func (e *Engine) finishAsset(ctx context.Context, asset RemoteAsset, uploadedThisRun bool) {
	e.res.put(asset.Checksum, &cacheEntry{asset: &asset, uploadedThisRun: uploadedThisRun})
	if e.journal != nil {
		if err := e.journal.Record(ctx, e.runID, asset); err != nil {
			e.log.Warn("journal write failed", zap.String("asset_id", asset.ID), zap.Error(err))
		}
	}
}
