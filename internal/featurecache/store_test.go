package featurecache

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screen-matcher/internal/features"
)

// fakeExtractor derives deterministic features from file bytes, so builds
// are reproducible without a real detector. Content starting with "BAD"
// simulates an unreadable image. Call counts prove what a build re-extracted.
type fakeExtractor struct {
	calls map[string]int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{calls: map[string]int{}}
}

func (f *fakeExtractor) ExtractFile(path string) (features.Set, error) {
	f.calls[filepath.Base(path)]++
	data, err := os.ReadFile(path)
	if err != nil {
		return features.Set{}, err
	}
	if bytes.HasPrefix(data, []byte("BAD")) {
		return features.Set{}, errors.New("synthetic decode failure")
	}

	sum := sha256.Sum256(data)
	kps := make([]features.Keypoint, 4)
	descs := make([][]byte, 4)
	for i := range kps {
		kps[i] = features.Keypoint{X: float64(sum[i]), Y: float64(sum[i+4]), Size: 31}
		d := make([]byte, 32)
		copy(d, sum[:])
		d[0] = byte(i)
		descs[i] = d
	}
	return features.Set{Keypoints: kps, Descriptors: descs, Width: 116, Height: 116}, nil
}

func testOptions(dir string) Options {
	return Options{
		Dir:           filepath.Join(dir, "cache"),
		FeatureFile:   "features.bin",
		IndexFile:     "freshness.json",
		DetectorKind:  "orb",
		TargetWidth:   116,
		TargetHeight:  116,
		FeatureBudget: 2000,
	}
}

func testStore(dir string) (*Store, *fakeExtractor) {
	fx := newFakeExtractor()
	return NewStore(testOptions(dir), fx, zerolog.Nop()), fx
}

func writeTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestBuildFullAndLookup(t *testing.T) {
	root := t.TempDir()
	tmpl := filepath.Join(root, "templates")
	require.NoError(t, os.Mkdir(tmpl, 0o755))
	writeTemplate(t, tmpl, "alpha.png", "alpha pixels")
	writeTemplate(t, tmpl, "beta.png", "beta pixels")

	store, _ := testStore(root)
	report, err := store.Build(tmpl, Full)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Extracted)
	assert.Equal(t, 0, report.Failed)

	// Lookup accepts the stem, the filename, or any image extension.
	for _, id := range []string{"alpha", "alpha.png", "alpha.jpg"} {
		r, err := store.Lookup(id)
		require.NoError(t, err, "id %q", id)
		assert.Equal(t, "alpha", r.TemplateID)
		assert.Len(t, r.Keypoints, 4)
		assert.NotEmpty(t, r.ContentHash)
	}

	_, err = store.Lookup("missing")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoValidCache)
}

func TestLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	tmpl := filepath.Join(root, "templates")
	require.NoError(t, os.Mkdir(tmpl, 0o755))
	writeTemplate(t, tmpl, "alpha.png", "alpha pixels")

	store, _ := testStore(root)
	_, err := store.Build(tmpl, Full)
	require.NoError(t, err)
	want, err := store.Lookup("alpha")
	require.NoError(t, err)

	// A fresh handle over the same files sees the identical record.
	reopened, _ := testStore(root)
	c, err := reopened.Load()
	require.NoError(t, err)
	assert.True(t, reopened.IsValid(c))
	got, err := reopened.Lookup("alpha")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBuildIdempotent(t *testing.T) {
	root := t.TempDir()
	tmpl := filepath.Join(root, "templates")
	require.NoError(t, os.Mkdir(tmpl, 0o755))
	writeTemplate(t, tmpl, "alpha.png", "alpha pixels")
	writeTemplate(t, tmpl, "beta.png", "beta pixels")

	store, _ := testStore(root)
	_, err := store.Build(tmpl, Full)
	require.NoError(t, err)
	first, err := store.Load()
	require.NoError(t, err)

	_, err = store.Build(tmpl, Full)
	require.NoError(t, err)
	second, err := store.Load()
	require.NoError(t, err)

	// Everything but the build timestamp is reproduced exactly.
	first.CreatedAt = second.CreatedAt
	assert.Equal(t, first, second)
}

func TestIncrementalBuild(t *testing.T) {
	root := t.TempDir()
	tmpl := filepath.Join(root, "templates")
	require.NoError(t, os.Mkdir(tmpl, 0o755))
	writeTemplate(t, tmpl, "alpha.png", "alpha pixels")
	writeTemplate(t, tmpl, "beta.png", "beta pixels")
	writeTemplate(t, tmpl, "gamma.png", "gamma pixels")

	store, _ := testStore(root)
	_, err := store.Build(tmpl, Full)
	require.NoError(t, err)

	// Change one template, remove one, add one.
	writeTemplate(t, tmpl, "beta.png", "beta pixels v2")
	require.NoError(t, os.Remove(filepath.Join(tmpl, "gamma.png")))
	writeTemplate(t, tmpl, "delta.png", "delta pixels")

	updated, fx := testStore(root)
	report, err := updated.Build(tmpl, Incremental)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Extracted)
	assert.Equal(t, 1, report.CopiedForward)
	assert.Equal(t, 1, report.Removed)

	// Unchanged templates were copied forward, not re-extracted.
	assert.Zero(t, fx.calls["alpha.png"])
	assert.Equal(t, 1, fx.calls["beta.png"])
	assert.Equal(t, 1, fx.calls["delta.png"])

	_, err = updated.Lookup("gamma")
	assert.Error(t, err)

	// The incremental result matches a full rebuild of the same directory.
	fresh, _ := testStore(filepath.Join(root, "fresh"))
	_, err = fresh.Build(tmpl, Full)
	require.NoError(t, err)
	incCache, err := updated.Load()
	require.NoError(t, err)
	fullCache, err := fresh.Load()
	require.NoError(t, err)
	assert.Equal(t, fullCache.Entries, incCache.Entries)
}

func TestIncrementalWithoutIndexFallsBackToFull(t *testing.T) {
	root := t.TempDir()
	tmpl := filepath.Join(root, "templates")
	require.NoError(t, os.Mkdir(tmpl, 0o755))
	writeTemplate(t, tmpl, "alpha.png", "alpha pixels")
	writeTemplate(t, tmpl, "beta.png", "beta pixels")

	store, _ := testStore(root)
	_, err := store.Build(tmpl, Full)
	require.NoError(t, err)
	require.NoError(t, os.Remove(store.IndexPath()))

	updated, fx := testStore(root)
	report, err := updated.Build(tmpl, Incremental)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Extracted)
	assert.Equal(t, 0, report.CopiedForward)
	assert.Equal(t, 1, fx.calls["alpha.png"])
	assert.Equal(t, 1, fx.calls["beta.png"])
}

func TestCorruptCacheLoadsAsAbsent(t *testing.T) {
	root := t.TempDir()
	tmpl := filepath.Join(root, "templates")
	require.NoError(t, os.Mkdir(tmpl, 0o755))
	writeTemplate(t, tmpl, "alpha.png", "alpha pixels")

	store, _ := testStore(root)
	_, err := store.Build(tmpl, Full)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.FeaturePath(), []byte("not a gob blob"), 0o644))

	reopened, _ := testStore(root)
	c, err := reopened.Load()
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = reopened.Lookup("alpha")
	assert.ErrorIs(t, err, ErrNoValidCache)
}

func TestEnsureRebuildsCorruptCache(t *testing.T) {
	root := t.TempDir()
	tmpl := filepath.Join(root, "templates")
	require.NoError(t, os.Mkdir(tmpl, 0o755))
	writeTemplate(t, tmpl, "alpha.png", "alpha pixels")

	store, _ := testStore(root)
	_, err := store.Build(tmpl, Full)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.FeaturePath(), []byte("garbage"), 0o644))

	reopened, fx := testStore(root)
	require.NoError(t, reopened.Ensure(tmpl))
	assert.Equal(t, 1, fx.calls["alpha.png"])

	r, err := reopened.Lookup("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", r.TemplateID)
}

func TestEnsureSkipsValidCache(t *testing.T) {
	root := t.TempDir()
	tmpl := filepath.Join(root, "templates")
	require.NoError(t, os.Mkdir(tmpl, 0o755))
	writeTemplate(t, tmpl, "alpha.png", "alpha pixels")

	store, _ := testStore(root)
	_, err := store.Build(tmpl, Full)
	require.NoError(t, err)

	reopened, fx := testStore(root)
	require.NoError(t, reopened.Ensure(tmpl))
	assert.Empty(t, fx.calls)
}

func TestConfigMismatchInvalidatesCache(t *testing.T) {
	root := t.TempDir()
	tmpl := filepath.Join(root, "templates")
	require.NoError(t, os.Mkdir(tmpl, 0o755))
	writeTemplate(t, tmpl, "alpha.png", "alpha pixels")

	store, _ := testStore(root)
	_, err := store.Build(tmpl, Full)
	require.NoError(t, err)

	opts := testOptions(root)
	opts.TargetWidth = 64
	resized := NewStore(opts, newFakeExtractor(), zerolog.Nop())
	c, err := resized.Load()
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.False(t, resized.IsValid(c))

	// Ensure rebuilds under the new configuration.
	require.NoError(t, resized.Ensure(tmpl))
	loaded, err := resized.Load()
	require.NoError(t, err)
	assert.Equal(t, 64, loaded.TargetWidth)
}

func TestBuildSkipsFailedTemplates(t *testing.T) {
	root := t.TempDir()
	tmpl := filepath.Join(root, "templates")
	require.NoError(t, os.Mkdir(tmpl, 0o755))
	writeTemplate(t, tmpl, "good.png", "good pixels")
	writeTemplate(t, tmpl, "broken.png", "BAD pixels")

	store, _ := testStore(root)
	report, err := store.Build(tmpl, Full)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Extracted)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"broken.png"}, report.FailedFiles)

	_, err = store.Lookup("good")
	assert.NoError(t, err)
	_, err = store.Lookup("broken")
	assert.Error(t, err)
}

func TestBuildFailsWithNoUsableTemplates(t *testing.T) {
	root := t.TempDir()
	empty := filepath.Join(root, "empty")
	require.NoError(t, os.Mkdir(empty, 0o755))

	store, _ := testStore(root)
	_, err := store.Build(empty, Full)
	assert.Error(t, err)

	allBroken := filepath.Join(root, "broken")
	require.NoError(t, os.Mkdir(allBroken, 0o755))
	writeTemplate(t, allBroken, "a.png", "BAD pixels")
	_, err = store.Build(allBroken, Full)
	assert.Error(t, err)
}

func TestBuildDuplicateStemKeepsFirst(t *testing.T) {
	root := t.TempDir()
	tmpl := filepath.Join(root, "templates")
	require.NoError(t, os.Mkdir(tmpl, 0o755))
	writeTemplate(t, tmpl, "alpha.jpg", "jpg pixels")
	writeTemplate(t, tmpl, "alpha.png", "png pixels")

	store, _ := testStore(root)
	report, err := store.Build(tmpl, Full)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Extracted)

	r, err := store.Lookup("alpha")
	require.NoError(t, err)
	wantHash, err := HashFile(filepath.Join(tmpl, "alpha.jpg"))
	require.NoError(t, err)
	assert.Equal(t, wantHash, r.ContentHash)
}

func TestBuildLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	tmpl := filepath.Join(root, "templates")
	require.NoError(t, os.Mkdir(tmpl, 0o755))
	writeTemplate(t, tmpl, "alpha.png", "alpha pixels")

	store, _ := testStore(root)
	_, err := store.Build(tmpl, Full)
	require.NoError(t, err)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(store.FeaturePath()), "*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}
