package recognize

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screen-matcher/internal/config"
	"screen-matcher/internal/match"
)

// stubComparer scores candidates by filename so batch semantics can be
// tested without any image decoding.
type stubComparer struct {
	scores map[string]float64
	failOn map[string]bool
}

func (s *stubComparer) Compare(templatePath, queryPath string) (match.Result, error) {
	name := filepath.Base(queryPath)
	if s.failOn[name] {
		return match.Result{}, errors.New("synthetic comparison failure")
	}
	return match.Result{
		TemplateID: "template",
		Confidence: s.scores[name],
		Algorithm:  "stub",
	}, nil
}

func (s *stubComparer) Close() error { return nil }

// candidateDir creates empty candidate files; the stub never reads them.
func candidateDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	return dir
}

func TestCompareThresholding(t *testing.T) {
	r := &Recognizer{
		cmp: &stubComparer{scores: map[string]float64{"q.png": 70}},
		log: zerolog.Nop(),
	}

	sim, isMatch, err := r.Compare("tpl.png", "q.png", 70)
	require.NoError(t, err)
	assert.Equal(t, 70.0, sim)
	assert.True(t, isMatch)

	_, isMatch, err = r.Compare("tpl.png", "q.png", 70.01)
	require.NoError(t, err)
	assert.False(t, isMatch)

	_, isMatch, err = r.Compare("tpl.png", "q.png", 50)
	require.NoError(t, err)
	assert.True(t, isMatch)
}

func TestCompareError(t *testing.T) {
	r := &Recognizer{
		cmp: &stubComparer{failOn: map[string]bool{"q.png": true}},
		log: zerolog.Nop(),
	}
	_, _, err := r.Compare("tpl.png", "q.png", 50)
	assert.Error(t, err)
}

func TestBatchRecognizeRankingAndThreshold(t *testing.T) {
	dir := candidateDir(t, "low.png", "high.png", "mid.png", "below.png")
	r := &Recognizer{
		cmp: &stubComparer{scores: map[string]float64{
			"low.png":   61,
			"high.png":  95,
			"mid.png":   80,
			"below.png": 40,
		}},
		log: zerolog.Nop(),
	}

	results, report, err := r.BatchRecognize("tpl.png", dir, 60)
	require.NoError(t, err)
	assert.Equal(t, BatchReport{Processed: 4, Matched: 3, Failed: 0}, report)

	require.Len(t, results, 3)
	assert.Equal(t, "high.png", results[0].Candidate)
	assert.Equal(t, "mid.png", results[1].Candidate)
	assert.Equal(t, "low.png", results[2].Candidate)
}

func TestBatchRecognizeTiebreakByName(t *testing.T) {
	dir := candidateDir(t, "b.png", "a.png", "c.png")
	r := &Recognizer{
		cmp: &stubComparer{scores: map[string]float64{
			"a.png": 80, "b.png": 80, "c.png": 80,
		}},
		log: zerolog.Nop(),
	}

	results, _, err := r.BatchRecognize("tpl.png", dir, 50)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a.png", results[0].Candidate)
	assert.Equal(t, "b.png", results[1].Candidate)
	assert.Equal(t, "c.png", results[2].Candidate)
}

func TestBatchRecognizeIsolatesFailures(t *testing.T) {
	dir := candidateDir(t, "ok.png", "boom.png")
	r := &Recognizer{
		cmp: &stubComparer{
			scores: map[string]float64{"ok.png": 90},
			failOn: map[string]bool{"boom.png": true},
		},
		log: zerolog.Nop(),
	}

	results, report, err := r.BatchRecognize("tpl.png", dir, 50)
	require.NoError(t, err)
	assert.Equal(t, BatchReport{Processed: 2, Matched: 1, Failed: 1}, report)
	require.Len(t, results, 1)
	assert.Equal(t, "ok.png", results[0].Candidate)
}

func TestBatchRecognizeMissingDir(t *testing.T) {
	r := &Recognizer{cmp: &stubComparer{}, log: zerolog.Nop()}
	_, _, err := r.BatchRecognize("tpl.png", filepath.Join(t.TempDir(), "nope"), 50)
	assert.Error(t, err)
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	cfg := config.Default()
	cfg.Matching.Strategy = "telepathy"
	_, err := New(cfg, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewCachedStrategyRequiresStore(t *testing.T) {
	cfg := config.Default()
	cfg.Matching.Strategy = config.StrategyCachedFeatures
	_, err := New(cfg, nil, zerolog.Nop())
	assert.Error(t, err)
}

func gradientImage(w, h int, invert bool) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255 * x / w)
			if invert {
				v = 255 - v
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func noisePNG(t *testing.T, path string, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(rng.Intn(256))
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	writePNG(t, path, img)
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// End-to-end batch run through the perceptual-hash backend: the re-rendered
// copy of the template matches, the unrelated candidates do not.
func TestBatchRecognizePerceptualHash(t *testing.T) {
	root := t.TempDir()
	template := filepath.Join(root, "template.png")
	writePNG(t, template, gradientImage(120, 90, false))

	candidates := filepath.Join(root, "candidates")
	require.NoError(t, os.Mkdir(candidates, 0o755))
	writePNG(t, filepath.Join(candidates, "copy.png"), gradientImage(60, 45, false))
	writePNG(t, filepath.Join(candidates, "inverted.png"), gradientImage(120, 90, true))
	noisePNG(t, filepath.Join(candidates, "noise.png"), 11)

	cfg := config.Default()
	cfg.Matching.Strategy = config.StrategyPerceptualHash
	r, err := New(cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	defer r.Close()

	results, report, err := r.BatchRecognize(template, candidates, 90)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, results, 1)
	assert.Equal(t, "copy.png", results[0].Candidate)
	assert.GreaterOrEqual(t, results[0].Confidence, 90.0)
}
