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

// Package takeout indexes a Google Photos Takeout export: it walks the
// export tree, pairs each media file with its JSON metadata sidecar
// despite Takeout's lossy filename truncation, and normalizes sidecar
// contents into a canonical metadata record.
package takeout

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/maruel/natural"
	"go.uber.org/zap"
)

// Kind is the broad media type of an item, derived from its extension.
type Kind int

const (
	KindImage Kind = iota + 1
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	}
	return "unknown"
}

// Item is one media file discovered in the export. Its identity is the
// path relative to the export root; two files with the same base name in
// different folders are distinct items. An Item is immutable once emitted.
type Item struct {
	Path    string // absolute path to the media file
	RelPath string // path relative to the export root
	Size    int64
	ModTime time.Time
	Kind    Kind

	// Album is the resolved album title for the folder the file sits in:
	// the title from the folder's album metadata file when present,
	// otherwise the folder name itself. Empty for files directly under
	// the export root.
	Album string

	// SidecarPath is the absolute path of the matched JSON sidecar, or
	// empty when no candidate matched.
	SidecarPath string

	Metadata Record
}

// Entry is one result of walking the export: either an item, or a
// non-fatal per-file error (unreadable file or directory). The walk
// never aborts on an Entry error.
type Entry struct {
	Item *Item
	Err  error
}

// Indexer walks a Takeout export tree and produces media items paired
// with their sidecar metadata.
type Indexer struct {
	root string
	log  *zap.Logger

	skippedUnsupported atomic.Int64
	skippedTrashed     atomic.Int64
}

// NewIndexer returns an indexer rooted at the extracted export directory
// (the directory holding the album folders, e.g. "Takeout/Google Photos").
func NewIndexer(root string, log *zap.Logger) *Indexer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Indexer{root: root, log: log}
}

// SkippedUnsupported reports how many files were skipped for having an
// unsupported extension. Valid once the Items channel has been drained.
func (ix *Indexer) SkippedUnsupported() int64 { return ix.skippedUnsupported.Load() }

// SkippedTrashed reports how many items were skipped because their
// sidecar marked them as trashed. Valid once the Items channel drained.
func (ix *Indexer) SkippedTrashed() int64 { return ix.skippedTrashed.Load() }

// Items walks the export and sends one Entry per media file. The channel
// is closed when the walk finishes or ctx is canceled. Files without a
// resolvable sidecar are still emitted, with metadata derived from
// filesystem attributes only.
func (ix *Indexer) Items(ctx context.Context) <-chan Entry {
	out := make(chan Entry)
	go func() {
		defer close(out)
		visited := make(map[string]struct{})
		ix.walkDir(ctx, ix.root, visited, out)
	}()
	return out
}

func (ix *Indexer) walkDir(ctx context.Context, dir string, visited map[string]struct{}, out chan<- Entry) {
	if ctx.Err() != nil {
		return
	}

	// symlinked directories can loop; track resolved paths and visit each once
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		resolved = dir
	}
	if _, ok := visited[resolved]; ok {
		ix.log.Warn("skipping already-visited directory (symlink loop?)", zap.String("dir", dir))
		return
	}
	visited[resolved] = struct{}{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		ix.emit(ctx, out, Entry{Err: fmt.Errorf("reading directory %s: %w", dir, err)})
		return
	}

	// Sort the listing by name length then natural sort before matching
	// sidecars. Google appears to sort folder contents this way before
	// truncating long filenames, so matching in the same order keeps the
	// truncation disambiguation ("(1)", "(2)", ...) stable.
	sort.Slice(entries, func(i, j int) bool {
		iName, jName := entries[i].Name(), entries[j].Name()
		iStem := strings.TrimSuffix(iName, filepath.Ext(iName))
		jStem := strings.TrimSuffix(jName, filepath.Ext(jName))
		if len(iStem) != len(jStem) {
			return len(iStem) < len(jStem)
		}
		return natural.Less(iName, jName)
	})

	album := ix.albumTitle(dir)

	// collect the directory's JSON files so sidecar candidates can be
	// tested with map lookups instead of stat calls
	jsons := make(map[string]struct{})
	var subdirs []string
	for _, d := range entries {
		name := d.Name()
		if d.IsDir() {
			subdirs = append(subdirs, name)
			continue
		}
		if strings.EqualFold(filepath.Ext(name), ".json") && !isAlbumMetadataName(name) {
			jsons[name] = struct{}{}
		}
	}

	for _, d := range entries {
		if ctx.Err() != nil {
			return
		}
		if d.IsDir() {
			continue
		}
		name := d.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext == ".json" {
			continue // sidecars and album metadata are consumed via their media file
		}
		if _, ok := mediaExtensions[ext]; !ok {
			ix.skippedUnsupported.Add(1)
			ix.log.Debug("skipping unsupported file", zap.String("file", filepath.Join(dir, name)))
			continue
		}

		item, err := ix.makeItem(dir, name, d, album, jsons)
		if err != nil {
			ix.emit(ctx, out, Entry{Err: err})
			continue
		}
		if item.Metadata.Trashed {
			ix.skippedTrashed.Add(1)
			ix.log.Debug("skipping trashed item", zap.String("file", item.Path))
			continue
		}
		if !ix.emit(ctx, out, Entry{Item: item}) {
			return
		}
	}

	for _, sub := range subdirs {
		ix.walkDir(ctx, filepath.Join(dir, sub), visited, out)
	}
}

func (ix *Indexer) makeItem(dir, name string, d os.DirEntry, album string, jsons map[string]struct{}) (*Item, error) {
	fpath := filepath.Join(dir, name)
	finfo, err := d.Info()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", fpath, err)
	}

	relPath, err := filepath.Rel(ix.root, fpath)
	if err != nil {
		relPath = fpath
	}

	item := &Item{
		Path:    fpath,
		RelPath: relPath,
		Size:    finfo.Size(),
		ModTime: finfo.ModTime(),
		Kind:    kindForExt(strings.ToLower(filepath.Ext(name))),
		Album:   album,
	}

	sidecar, matcher := sidecarFor(name, jsons)
	if sidecar == "" {
		// never drop the item; fall back to filesystem attributes
		item.Metadata = Record{OriginalFilename: name, Taken: finfo.ModTime()}
		ix.log.Debug("no sidecar found", zap.String("file", fpath))
		return item, nil
	}

	item.SidecarPath = filepath.Join(dir, sidecar)
	data, err := os.ReadFile(item.SidecarPath)
	if err != nil {
		// sidecar unreadable: degrade, don't fail the item
		ix.log.Warn("could not read sidecar", zap.String("sidecar", item.SidecarPath), zap.Error(err))
		item.Metadata = Record{OriginalFilename: name, Taken: finfo.ModTime()}
		return item, nil
	}

	rec, err := ParseSidecar(data, name, finfo.ModTime())
	if err != nil {
		ix.log.Warn("sidecar only partially parsed",
			zap.String("sidecar", item.SidecarPath),
			zap.String("matcher", matcher),
			zap.Error(err))
	}
	item.Metadata = rec
	return item, nil
}

// albumTitle resolves the album name for files in dir: the title from the
// folder's album metadata file when one exists, otherwise the folder name.
// Files directly under the export root belong to no album.
func (ix *Indexer) albumTitle(dir string) string {
	if sameFile(dir, ix.root) {
		return ""
	}
	for _, name := range albumMetadataNames {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		meta, err := parseAlbumMetadata(data)
		if err != nil {
			ix.log.Warn("could not parse album metadata",
				zap.String("file", filepath.Join(dir, name)), zap.Error(err))
			continue
		}
		if meta.Title != "" {
			return meta.Title
		}
	}
	return filepath.Base(dir)
}

func (ix *Indexer) emit(ctx context.Context, out chan<- Entry, e Entry) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func sameFile(a, b string) bool {
	ai, err1 := os.Stat(a)
	bi, err2 := os.Stat(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return os.SameFile(ai, bi)
}

func kindForExt(ext string) Kind {
	if _, ok := videoExtensions[ext]; ok {
		return KindVideo
	}
	return KindImage
}

// mediaExtensions are the file extensions treated as media. Everything
// else (except JSON sidecars) is counted as unsupported and skipped.
var mediaExtensions = map[string]struct{}{
	".jpg": {}, ".jpe": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {},
	".tif": {}, ".tiff": {}, ".webp": {}, ".heic": {}, ".heif": {},
	".raw": {}, ".dng": {}, ".nef": {},
	".mp4": {}, ".mov": {}, ".mpeg": {}, ".avi": {}, ".wmv": {}, ".mkv": {},
	".webm": {}, ".m4v": {}, ".3gp": {}, ".3g2": {}, ".mts": {}, ".m2ts": {}, ".m2t": {},
}

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mov": {}, ".mpeg": {}, ".avi": {}, ".wmv": {}, ".mkv": {},
	".webm": {}, ".m4v": {}, ".3gp": {}, ".3g2": {}, ".mts": {}, ".m2ts": {}, ".m2t": {},
}
