package recognize

import (
	"image"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"screen-matcher/internal/config"
	"screen-matcher/internal/imaging"
	"screen-matcher/internal/match"
)

// Confidence blend for the color backend: correlation carries most of the
// weight, histogram agreement corroborates.
const (
	colorCorrWeight = 0.7
	colorHistWeight = 0.3
)

// colorTemplateComparer matches by normalized cross-correlation over the
// color image, corroborated by grayscale histogram similarity. A template
// with a meaningful alpha channel contributes a foreground mask so that
// transparent regions do not vote.
type colorTemplateComparer struct {
	width  int
	height int
}

func (c *colorTemplateComparer) Compare(templatePath, queryPath string) (match.Result, error) {
	result := match.Result{
		TemplateID: imaging.Stem(templatePath),
		Algorithm:  config.StrategyColorTemplate,
	}

	raw, err := imaging.ReadMatUnchanged(templatePath)
	if err != nil {
		return result, err
	}
	defer raw.Close()

	query, err := imaging.ReadMat(queryPath)
	if err != nil {
		return result, err
	}
	defer query.Close()

	template, mask := splitForegroundMask(raw)
	defer template.Close()
	defer mask.Close()

	size := image.Point{X: c.width, Y: c.height}
	tmplN := gocv.NewMat()
	defer tmplN.Close()
	queryN := gocv.NewMat()
	defer queryN.Close()
	gocv.Resize(template, &tmplN, size, 0, 0, gocv.InterpolationArea)
	gocv.Resize(query, &queryN, size, 0, 0, gocv.InterpolationArea)

	corr := correlate(queryN, tmplN, mask, size)
	hist := histogramSimilarity(tmplN, queryN)

	conf := 100 * (colorCorrWeight*clamp01(corr) + colorHistWeight*clamp01(hist))
	result.Confidence = math.Min(100, conf)
	result.MatchRatio = clamp01(corr)
	return result, nil
}

func (c *colorTemplateComparer) Close() error {
	return nil
}

// splitForegroundMask separates a possibly-BGRA template into its BGR
// pixels and a binary foreground mask. Fully opaque or 3-channel templates
// get an empty mask, which MatchTemplate treats as "use every pixel".
func splitForegroundMask(raw gocv.Mat) (template, mask gocv.Mat) {
	if raw.Channels() != 4 {
		return raw.Clone(), gocv.NewMat()
	}

	channels := gocv.Split(raw)
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()

	alpha := channels[3]
	mask = gocv.NewMat()
	gocv.Threshold(alpha, &mask, 0, 255, gocv.ThresholdBinary)

	template = gocv.NewMat()
	gocv.CvtColor(raw, &template, gocv.ColorBGRAToBGR)
	return template, mask
}

// correlate runs template matching on equal-size images, which yields a
// single correlation score. Masked matching needs the CCORR variant; the
// unmasked path uses the lighting-invariant CCOEFF variant.
func correlate(query, template, mask gocv.Mat, size image.Point) float64 {
	resultMat := gocv.NewMat()
	defer resultMat.Close()

	if !mask.Empty() {
		maskN := gocv.NewMat()
		defer maskN.Close()
		gocv.Resize(mask, &maskN, size, 0, 0, gocv.InterpolationNearestNeighbor)
		gocv.MatchTemplate(query, template, &resultMat, gocv.TmCcorrNormed, maskN)
	} else {
		empty := gocv.NewMat()
		defer empty.Close()
		gocv.MatchTemplate(query, template, &resultMat, gocv.TmCcoeffNormed, empty)
	}

	_, maxVal, _, _ := gocv.MinMaxLoc(resultMat)
	return float64(maxVal)
}

// histogramSimilarity compares 64-bin grayscale histograms by Pearson
// correlation.
func histogramSimilarity(a, b gocv.Mat) float64 {
	corr := stat.Correlation(grayHistogram(a), grayHistogram(b), nil)
	if math.IsNaN(corr) {
		// Zero-variance histogram (flat image); correlation is undefined.
		return 0
	}
	return corr
}

// grayHistogram computes a 64-bin grayscale intensity histogram.
func grayHistogram(m gocv.Mat) []float64 {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(m, &gray, gocv.ColorBGRToGray)

	hist := gocv.NewMat()
	defer hist.Close()
	noMask := gocv.NewMat()
	defer noMask.Close()
	gocv.CalcHist([]gocv.Mat{gray}, []int{0}, noMask, &hist, []int{64}, []float64{0, 256}, false)

	out := make([]float64, hist.Rows())
	for i := range out {
		out[i] = float64(hist.GetFloatAt(i, 0))
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
