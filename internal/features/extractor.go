package features

import (
	"fmt"

	"gocv.io/x/gocv"

	"screen-matcher/internal/imaging"
)

// minKeypoints is the detector minimum below which extraction returns an
// empty set. Near-blank crops routinely land here; callers treat the empty
// set as "unrecognizable" rather than an error.
const minKeypoints = 2

// Options configures the extractor. All images are normalized to
// TargetWidth x TargetHeight before detection.
type Options struct {
	TargetWidth   int
	TargetHeight  int
	FeatureBudget int
	Equalize      bool
	Blur          bool
}

// Extractor detects ORB keypoints and computes binary descriptors on
// normalized images. It is not safe for concurrent use; the engine is
// single-threaded by design.
type Extractor struct {
	orb  gocv.ORB
	opts Options
}

// NewExtractor creates an ORB extractor capped at the configured feature
// budget. Close must be called to release the native detector.
func NewExtractor(opts Options) *Extractor {
	orb := gocv.NewORBWithParams(
		opts.FeatureBudget, // nFeatures
		1.2,                // scaleFactor
		8,                  // nLevels
		31,                 // edgeThreshold
		0,                  // firstLevel
		2,                  // WTA_K
		gocv.ORBScoreTypeHarris,
		31, // patchSize
		20, // fastThreshold
	)
	return &Extractor{orb: orb, opts: opts}
}

// Close releases detector resources.
func (e *Extractor) Close() error {
	return e.orb.Close()
}

// TargetSize returns the normalized shape extraction uses.
func (e *Extractor) TargetSize() (width, height int) {
	return e.opts.TargetWidth, e.opts.TargetHeight
}

// Extract normalizes src and runs detection. Fewer than minKeypoints
// detections yield an empty Set with a nil error.
func (e *Extractor) Extract(src gocv.Mat) (Set, error) {
	if src.Empty() {
		return Set{}, fmt.Errorf("extract: empty input image")
	}

	gray := imaging.Normalize(src, e.opts.TargetWidth, e.opts.TargetHeight, e.opts.Equalize, e.opts.Blur)
	defer gray.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := e.orb.DetectAndCompute(gray, mask)
	defer desc.Close()

	if len(kps) < minKeypoints || desc.Empty() {
		return Set{Width: e.opts.TargetWidth, Height: e.opts.TargetHeight}, nil
	}

	return Set{
		Keypoints:   FromKeyPoints(kps),
		Descriptors: descriptorRows(desc),
		Width:       e.opts.TargetWidth,
		Height:      e.opts.TargetHeight,
	}, nil
}

// ExtractFile loads an image file and extracts its features.
func (e *Extractor) ExtractFile(path string) (Set, error) {
	m, err := imaging.ReadMat(path)
	if err != nil {
		return Set{}, err
	}
	defer m.Close()
	return e.Extract(m)
}

// descriptorRows copies a CV_8U descriptor Mat into one byte slice per row,
// detaching the data from the native buffer.
func descriptorRows(desc gocv.Mat) [][]byte {
	rows, cols := desc.Rows(), desc.Cols()
	data := desc.ToBytes()
	out := make([][]byte, rows)
	for i := 0; i < rows; i++ {
		row := make([]byte, cols)
		copy(row, data[i*cols:(i+1)*cols])
		out[i] = row
	}
	return out
}
