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
	"sync"
	"time"
)

// stats accumulates outcomes and album events from all pipeline workers.
// All mutation goes through the mutex; the original script's ambient
// global counters become this injected structure.
type stats struct {
	mu sync.Mutex

	found           int
	succeeded       int
	failed          int
	uploaded        int
	duplicates      int
	metadataUpdated int
	metadataCorrect int

	skippedUnsupported int64
	skippedTrashed     int64

	albumsCreated  []string
	albumsExisting []string
	albumFailures  []AlbumOutcome

	failures []Outcome

	start time.Time
}

func newStats() *stats {
	return &stats{start: time.Now()}
}

func (s *stats) record(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.found++
	switch o.Disposition {
	case DispositionUploaded:
		s.succeeded++
		s.uploaded++
	case DispositionDuplicate:
		s.succeeded++
		s.duplicates++
	case DispositionMetadataUpdated:
		s.succeeded++
		s.metadataUpdated++
	case DispositionMetadataCorrect:
		s.succeeded++
		s.metadataCorrect++
	case DispositionFailed:
		s.failed++
		s.failures = append(s.failures, o)
	}
}

func (s *stats) albumCreated(name string) {
	s.mu.Lock()
	s.albumsCreated = append(s.albumsCreated, name)
	s.mu.Unlock()
}

func (s *stats) albumExisting(name string) {
	s.mu.Lock()
	s.albumsExisting = append(s.albumsExisting, name)
	s.mu.Unlock()
}

func (s *stats) albumFailed(name string, err error) {
	s.mu.Lock()
	s.albumFailures = append(s.albumFailures, AlbumOutcome{Name: name, Err: err})
	s.mu.Unlock()
}

// AlbumOutcome records an album-level failure; it blocks neither other
// albums nor unrelated items.
type AlbumOutcome struct {
	Name string
	Err  error
}

// Summary is the structured result of a run. It is complete even after
// cancellation, reflecting everything processed so far.
type Summary struct {
	TotalFound             int
	Succeeded              int
	Failed                 int
	Uploaded               int
	Duplicates             int
	MetadataUpdated        int
	MetadataAlreadyCorrect int

	SkippedUnsupported int64
	SkippedTrashed     int64

	AlbumsCreated  []string
	AlbumsExisting []string
	AlbumFailures  []AlbumOutcome

	Failures []Outcome

	Elapsed time.Duration
}

// SuccessRate is the fraction of found items that succeeded, in percent.
func (s Summary) SuccessRate() float64 {
	if s.TotalFound == 0 {
		return 100
	}
	return float64(s.Succeeded) / float64(s.TotalFound) * 100
}

func (s *stats) summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		TotalFound:             s.found,
		Succeeded:              s.succeeded,
		Failed:                 s.failed,
		Uploaded:               s.uploaded,
		Duplicates:             s.duplicates,
		MetadataUpdated:        s.metadataUpdated,
		MetadataAlreadyCorrect: s.metadataCorrect,
		SkippedUnsupported:     s.skippedUnsupported,
		SkippedTrashed:         s.skippedTrashed,
		AlbumsCreated:          append([]string(nil), s.albumsCreated...),
		AlbumsExisting:         append([]string(nil), s.albumsExisting...),
		AlbumFailures:          append([]AlbumOutcome(nil), s.albumFailures...),
		Failures:               append([]Outcome(nil), s.failures...),
		Elapsed:                time.Since(s.start),
	}
}
