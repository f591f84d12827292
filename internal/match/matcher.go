// Package match implements geometric feature matching: nearest-neighbor
// descriptor matching with ratio-test filtering, RANSAC homography
// verification, and bounded confidence scoring.
package match

import (
	"math"
	"math/bits"

	"screen-matcher/internal/features"
	"screen-matcher/pkg/geometry"
)

// Result is the outcome of matching one template against one query. It is
// ephemeral; persistence of results belongs to the orchestration layer.
type Result struct {
	TemplateID        string
	Candidate         string
	Confidence        float64
	MatchCount        int
	HomographyInliers int
	MatchRatio        float64
	Algorithm         string
}

// Options tunes the matcher. Zero values are not defaulted here; the
// config package owns defaults.
type Options struct {
	// RatioThreshold is Lowe's ratio-test cutoff: a correspondence survives
	// only if its nearest distance is below this fraction of the
	// second-nearest distance.
	RatioThreshold float64

	// MinMatchCount gates homography estimation; below it the result is
	// confidence 0.
	MinMatchCount int

	// MinInliers gates the homography consensus.
	MinInliers int

	// RansacIterations and ReprojThreshold tune homography estimation.
	RansacIterations int
	ReprojThreshold  float64
}

// Matcher performs geometric matching between feature sets. It is
// threshold-agnostic: callers decide match/no-match by comparing Confidence
// against their own threshold.
type Matcher struct {
	opts Options
}

// NewMatcher creates a matcher with the given options.
func NewMatcher(opts Options) *Matcher {
	return &Matcher{opts: opts}
}

// correspondence pairs a query keypoint index with its best template
// keypoint index.
type correspondence struct {
	queryIdx    int
	templateIdx int
}

// Match compares cached template features against freshly extracted query
// features. Empty inputs and failed gates yield confidence 0, never an
// error; an unrecognizable image is a non-match.
func (m *Matcher) Match(template, query features.Set) Result {
	result := Result{Algorithm: "geometric"}

	if template.Empty() || query.Empty() || len(template.Descriptors) < 2 {
		return result
	}

	good := m.knnRatioMatch(query.Descriptors, template.Descriptors)
	result.MatchCount = len(good)
	result.MatchRatio = float64(len(good)) / float64(len(query.Descriptors))

	if len(good) < m.opts.MinMatchCount {
		return result
	}

	src := make([]geometry.Point2D, len(good))
	dst := make([]geometry.Point2D, len(good))
	for i, c := range good {
		t := template.Keypoints[c.templateIdx]
		q := query.Keypoints[c.queryIdx]
		src[i] = geometry.Point2D{X: t.X, Y: t.Y}
		dst[i] = geometry.Point2D{X: q.X, Y: q.Y}
	}

	_, inliers, err := estimateHomographyRANSAC(src, dst, m.opts.RansacIterations, m.opts.ReprojThreshold)
	if err != nil {
		return result
	}
	result.HomographyInliers = len(inliers)

	if len(inliers) < m.opts.MinInliers {
		return result
	}

	result.Confidence = confidence(result.MatchCount, result.HomographyInliers, result.MatchRatio)
	return result
}

// knnRatioMatch finds, for every query descriptor, its two nearest template
// descriptors by Hamming distance and keeps the correspondence only when
// the best is decisively better than the runner-up.
func (m *Matcher) knnRatioMatch(query, template [][]byte) []correspondence {
	var good []correspondence
	for qi, qd := range query {
		best := -1
		bestDist, secondDist := math.MaxInt32, math.MaxInt32
		for ti, td := range template {
			d := hamming(qd, td)
			switch {
			case d < bestDist:
				secondDist = bestDist
				best, bestDist = ti, d
			case d < secondDist:
				secondDist = d
			}
		}
		if best < 0 || secondDist == math.MaxInt32 {
			continue
		}
		if float64(bestDist) < m.opts.RatioThreshold*float64(secondDist) {
			good = append(good, correspondence{queryIdx: qi, templateIdx: best})
		}
	}
	return good
}

// hamming counts differing bits between two equal-length binary
// descriptors. Length mismatches compare only the common prefix.
func hamming(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	d := 0
	for i := 0; i < n; i++ {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d
}

// confidence combines the gate inputs into a bounded [0,100] score.
//
// The weighting is a tuned heuristic: the inlier term dominates (0.55) and
// is strictly increasing via the saturating form n/(n+12), the match-count
// term (0.25) saturates at 50 matches, and the ratio-test pass rate
// contributes the remaining 0.20. Callers get 0 before the gates pass, so
// this function only shapes scores for geometrically verified matches.
func confidence(matchCount, inliers int, matchRatio float64) float64 {
	mc := math.Min(float64(matchCount), 50) / 50
	in := float64(inliers) / (float64(inliers) + 12)
	c := 100 * (0.25*mc + 0.55*in + 0.20*matchRatio)
	return math.Max(0, math.Min(100, c))
}
