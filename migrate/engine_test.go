package migrate

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService is an in-memory remote photo service. It tracks every
// mutation so tests can assert exactly what a run changed.
type fakeService struct {
	mu sync.Mutex

	assets map[string]*RemoteAsset // checksum -> asset
	albums map[string]*fakeAlbum   // name -> album
	nextID int

	findCalls    map[string]int // checksum -> lookup count
	uploadCalls  int
	updateCalls  int
	createCalls  int
	addCalls     int
	validateErr  error
	uploadErrFor map[string]error // checksum -> error
	createErrFor map[string]error // album name -> error
}

type fakeAlbum struct {
	id      string
	members map[string]struct{}
}

func newFakeService() *fakeService {
	return &fakeService{
		assets:       make(map[string]*RemoteAsset),
		albums:       make(map[string]*fakeAlbum),
		findCalls:    make(map[string]int),
		uploadErrFor: make(map[string]error),
		createErrFor: make(map[string]error),
	}
}

func (f *fakeService) ValidateConnection(ctx context.Context) error {
	return f.validateErr
}

func (f *fakeService) FindAssetByChecksum(ctx context.Context, checksum string) (*RemoteAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls[checksum]++
	asset, ok := f.assets[checksum]
	if !ok {
		return nil, nil
	}
	cp := *asset
	return &cp, nil
}

func (f *fakeService) UploadAsset(ctx context.Context, req UploadRequest) (UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.uploadErrFor[req.Checksum]; err != nil {
		return UploadResult{}, err
	}
	f.uploadCalls++
	if existing, ok := f.assets[req.Checksum]; ok {
		return UploadResult{AssetID: existing.ID, Duplicate: true}, nil
	}
	f.nextID++
	asset := &RemoteAsset{
		ID:       fmt.Sprintf("asset-%d", f.nextID),
		Checksum: req.Checksum,
		Taken:    req.Taken,
	}
	f.assets[req.Checksum] = asset
	return UploadResult{AssetID: asset.ID}, nil
}

func (f *fakeService) UpdateAssetMetadata(ctx context.Context, assetID string, meta AssetMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	for _, asset := range f.assets {
		if asset.ID != assetID {
			continue
		}
		if !meta.Taken.IsZero() {
			asset.Taken = meta.Taken
		}
		if meta.Latitude != nil && meta.Longitude != nil {
			asset.HasLocation = true
		}
		return nil
	}
	return fmt.Errorf("no such asset %s", assetID)
}

func (f *fakeService) FindAlbumByName(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if album, ok := f.albums[name]; ok {
		return album.id, nil
	}
	return "", nil
}

func (f *fakeService) CreateAlbum(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErrFor[name]; err != nil {
		return "", err
	}
	f.createCalls++
	id := fmt.Sprintf("album-%d", len(f.albums)+1)
	f.albums[name] = &fakeAlbum{id: id, members: make(map[string]struct{})}
	return id, nil
}

func (f *fakeService) AlbumAssetIDs(ctx context.Context, albumID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, album := range f.albums {
		if album.id != albumID {
			continue
		}
		ids := make([]string, 0, len(album.members))
		for id := range album.members {
			ids = append(ids, id)
		}
		return ids, nil
	}
	return nil, fmt.Errorf("no such album %s", albumID)
}

func (f *fakeService) AddAssetsToAlbum(ctx context.Context, albumID string, assetIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	for _, album := range f.albums {
		if album.id != albumID {
			continue
		}
		for _, id := range assetIDs {
			album.members[id] = struct{}{}
		}
		return nil
	}
	return fmt.Errorf("no such album %s", albumID)
}

func (f *fakeService) albumMembers(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	album, ok := f.albums[name]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(album.members))
	for id := range album.members {
		ids = append(ids, id)
	}
	return ids
}

// fakeStatusError mimics a transport error that knows its HTTP status.
type fakeStatusError struct{ code int }

func (e *fakeStatusError) Error() string   { return fmt.Sprintf("server returned %d", e.code) }
func (e *fakeStatusError) HTTPStatus() int { return e.code }

func checksumOf(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

func writeMedia(t *testing.T, root, album, name, content, sidecar string) {
	t.Helper()
	dir := filepath.Join(root, album)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	if sidecar != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".supplemental-metadata.json"), []byte(sidecar), 0o644))
	}
}

const takenSidecar = `{"title": "%s", "photoTakenTime": {"timestamp": "1609459200"}}`

// buildExport lays out the canonical three-file fixture: two distinct
// photos in one album plus a byte-identical copy of the first in a
// second album.
func buildExport(t *testing.T) string {
	root := t.TempDir()
	writeMedia(t, root, "Holiday", "IMG_001.jpg", "content-alpha", fmt.Sprintf(takenSidecar, "IMG_001.jpg"))
	writeMedia(t, root, "Holiday", "IMG_002.jpg", "content-beta", fmt.Sprintf(takenSidecar, "IMG_002.jpg"))
	writeMedia(t, root, "Friends", "IMG_COPY.jpg", "content-alpha", fmt.Sprintf(takenSidecar, "IMG_COPY.jpg"))
	return root
}

func runEngine(t *testing.T, cfg Config) Summary {
	t.Helper()
	engine, err := New(cfg)
	require.NoError(t, err)
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	return summary
}

func TestRunFreshExport(t *testing.T) {
	root := buildExport(t)
	svc := newFakeService()

	summary := runEngine(t, Config{Root: root, Service: svc})

	assert.Equal(t, 3, summary.TotalFound)
	assert.Equal(t, 2, summary.Uploaded)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, float64(100), summary.SuccessRate())
	assert.ElementsMatch(t, []string{"Holiday", "Friends"}, summary.AlbumsCreated)
	assert.Empty(t, summary.AlbumsExisting)

	// the duplicate content must not have been uploaded twice
	assert.Equal(t, 2, svc.uploadCalls)
	// and must have triggered exactly one remote lookup
	assert.Equal(t, 1, svc.findCalls[checksumOf("content-alpha")])

	// the shared asset belongs to both albums
	holiday := svc.albumMembers("Holiday")
	friends := svc.albumMembers("Friends")
	assert.Len(t, holiday, 2)
	assert.Len(t, friends, 1)
	assert.Contains(t, holiday, friends[0])
}

func TestRerunIsIdempotent(t *testing.T) {
	root := buildExport(t)
	svc := newFakeService()

	runEngine(t, Config{Root: root, Service: svc})

	uploadsAfterFirst := svc.uploadCalls
	createsAfterFirst := svc.createCalls
	addsAfterFirst := svc.addCalls

	summary := runEngine(t, Config{Root: root, Service: svc})

	assert.Equal(t, 3, summary.TotalFound)
	assert.Equal(t, 0, summary.Uploaded)
	assert.Equal(t, 0, summary.MetadataUpdated)
	assert.Equal(t, 3, summary.MetadataAlreadyCorrect)
	assert.Empty(t, summary.AlbumsCreated)
	assert.ElementsMatch(t, []string{"Holiday", "Friends"}, summary.AlbumsExisting)

	assert.Equal(t, uploadsAfterFirst, svc.uploadCalls, "re-run must not upload")
	assert.Equal(t, createsAfterFirst, svc.createCalls, "re-run must not create albums")
	assert.Equal(t, addsAfterFirst, svc.addCalls, "re-run must not re-assign members")
}

func TestMetadataBackfill(t *testing.T) {
	root := t.TempDir()
	sidecar := `{"title": "IMG_GPS.jpg",
		"photoTakenTime": {"timestamp": "1609459200"},
		"geoData": {"latitude": 48.858, "longitude": 2.294}}`
	writeMedia(t, root, "Paris", "IMG_GPS.jpg", "content-paris", sidecar)

	// the asset already exists remotely, but without GPS
	svc := newFakeService()
	checksum := checksumOf("content-paris")
	svc.assets[checksum] = &RemoteAsset{
		ID:       "asset-preexisting",
		Checksum: checksum,
		Taken:    time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	summary := runEngine(t, Config{Root: root, Service: svc})

	assert.Equal(t, 1, summary.MetadataUpdated)
	assert.Equal(t, 0, summary.Uploaded)
	assert.Equal(t, 1, svc.updateCalls)
	assert.True(t, svc.assets[checksum].HasLocation)
}

func TestAuthFailureIsolatedPerItem(t *testing.T) {
	root := buildExport(t)
	svc := newFakeService()
	svc.uploadErrFor[checksumOf("content-beta")] = &fakeStatusError{code: 403}

	summary := runEngine(t, Config{Root: root, Service: svc})

	assert.Equal(t, 3, summary.TotalFound)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Succeeded)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, ErrorAuth, summary.Failures[0].Kind)
	assert.Equal(t, DispositionFailed, summary.Failures[0].Disposition)
}

func TestUnreadableFileIsolated(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions do not apply to root")
	}
	root := buildExport(t)
	// a subdirectory that cannot be listed produces one local failure
	bad := filepath.Join(root, "Broken")
	require.NoError(t, os.MkdirAll(bad, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "IMG_X.jpg"), []byte("x"), 0o644))
	require.NoError(t, os.Chmod(bad, 0o000))
	t.Cleanup(func() { os.Chmod(bad, 0o755) })

	svc := newFakeService()
	summary := runEngine(t, Config{Root: root, Service: svc})

	assert.Equal(t, 4, summary.TotalFound)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, summary.Succeeded)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, ErrorLocal, summary.Failures[0].Kind)
}

func TestDryRunMakesNoChanges(t *testing.T) {
	root := buildExport(t)
	svc := newFakeService()

	summary := runEngine(t, Config{Root: root, Service: svc, DryRun: true})

	assert.Equal(t, 2, summary.Uploaded)
	assert.Equal(t, 1, summary.Duplicates)
	assert.ElementsMatch(t, []string{"Holiday", "Friends"}, summary.AlbumsCreated)

	assert.Equal(t, 0, svc.uploadCalls)
	assert.Equal(t, 0, svc.updateCalls)
	assert.Equal(t, 0, svc.createCalls)
	assert.Equal(t, 0, svc.addCalls)
}

func TestValidateConnectionFatal(t *testing.T) {
	root := buildExport(t)
	svc := newFakeService()
	svc.validateErr = &fakeStatusError{code: 401}

	engine, err := New(Config{Root: root, Service: svc})
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, svc.uploadCalls)
}

func TestMissingRootFatal(t *testing.T) {
	engine, err := New(Config{Root: filepath.Join(t.TempDir(), "nope"), Service: newFakeService()})
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	require.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{Service: newFakeService()})
	assert.Error(t, err)
	_, err = New(Config{Root: "/somewhere"})
	assert.Error(t, err)
}

func TestOutcomeCountsAlwaysSum(t *testing.T) {
	root := buildExport(t)
	svc := newFakeService()
	svc.uploadErrFor[checksumOf("content-beta")] = &fakeStatusError{code: 500}

	summary := runEngine(t, Config{Root: root, Service: svc, Workers: 4})

	assert.Equal(t, summary.TotalFound, summary.Succeeded+summary.Failed)
	assert.Equal(t, summary.Succeeded,
		summary.Uploaded+summary.Duplicates+summary.MetadataUpdated+summary.MetadataAlreadyCorrect)
}

// cancelingService cancels the run's context as soon as the first
// upload lands, simulating an interrupt arriving mid-pipeline.
type cancelingService struct {
	*fakeService
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelingService) UploadAsset(ctx context.Context, req UploadRequest) (UploadResult, error) {
	result, err := c.fakeService.UploadAsset(ctx, req)
	c.once.Do(c.cancel)
	return result, err
}

func TestCancellationReturnsPartialSummary(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 8; i++ {
		writeMedia(t, root, "Big Album", fmt.Sprintf("IMG_%03d.jpg", i),
			fmt.Sprintf("content-%d", i), "")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := &cancelingService{fakeService: newFakeService(), cancel: cancel}

	// one worker keeps dispatch deterministic: the upload that triggers
	// cancellation completes, everything after it is never dispatched
	engine, err := New(Config{Root: root, Service: svc, Workers: 1})
	require.NoError(t, err)

	summary, err := engine.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Less(t, summary.TotalFound, 8, "dispatch must stop after cancellation")
	assert.Equal(t, 1, summary.Uploaded, "in-flight upload finishes before the worker stops")
	assert.Equal(t, summary.TotalFound, summary.Succeeded+summary.Failed,
		"partial summary must still account for every dispatched item")
	assert.Empty(t, summary.AlbumsCreated, "album reconciliation must not run after cancellation")
}

func TestAlbumFailureDoesNotAffectOthers(t *testing.T) {
	root := buildExport(t)
	svc := newFakeService()
	svc.createErrFor["Friends"] = &fakeStatusError{code: 500}

	summary := runEngine(t, Config{Root: root, Service: svc})

	// item uploads are unaffected by album trouble
	assert.Equal(t, 2, summary.Uploaded)
	assert.Equal(t, 0, summary.Failed)

	require.Len(t, summary.AlbumFailures, 1)
	assert.Equal(t, "Friends", summary.AlbumFailures[0].Name)
	assert.Equal(t, []string{"Holiday"}, summary.AlbumsCreated)
	assert.Len(t, svc.albumMembers("Holiday"), 2)
}

func TestClassifyError(t *testing.T) {
	for _, test := range []struct {
		err    error
		expect ErrorKind
	}{
		{nil, ErrorNone},
		{&fakeStatusError{code: 401}, ErrorAuth},
		{&fakeStatusError{code: 403}, ErrorAuth},
		{&fakeStatusError{code: 400}, ErrorInvalid},
		{&fakeStatusError{code: 404}, ErrorInvalid},
		{&fakeStatusError{code: 429}, ErrorNetwork},
		{&fakeStatusError{code: 500}, ErrorNetwork},
		{fmt.Errorf("wrapped: %w", &fakeStatusError{code: 403}), ErrorAuth},
		{context.DeadlineExceeded, ErrorNetwork},
		{fmt.Errorf("connection refused"), ErrorNetwork},
	} {
		assert.Equal(t, test.expect, classifyError(test.err), "error %v", test.err)
	}
}
