// Package recognize exposes one uniform recognition contract over four
// interchangeable backends: cache-backed geometric matching, uncached
// geometric matching, color template matching, and perceptual-hash
// matching. The backend is chosen once at construction from the
// configuration tag, never per call.
package recognize

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"screen-matcher/internal/config"
	"screen-matcher/internal/featurecache"
	"screen-matcher/internal/features"
	"screen-matcher/internal/imaging"
	"screen-matcher/internal/match"
)

// comparer is the single capability every backend implements.
type comparer interface {
	// Compare matches one template file against one query file.
	Compare(templatePath, queryPath string) (match.Result, error)
	Close() error
}

// BatchReport summarizes a batch recognition run. Per-item failures are
// isolated: one bad candidate never stops the batch.
type BatchReport struct {
	Processed int
	Matched   int
	Failed    int
}

// Recognizer dispatches recognition to the configured backend.
type Recognizer struct {
	cmp comparer
	log zerolog.Logger
}

// New constructs a recognizer for the configured strategy. The cached
// strategy requires a store whose cache has been built or loaded; the other
// strategies ignore the store.
func New(cfg *config.Config, store *featurecache.Store, log zerolog.Logger) (*Recognizer, error) {
	matcher := match.NewMatcher(match.Options{
		RatioThreshold:   cfg.Matching.RatioThreshold,
		MinMatchCount:    cfg.Matching.MinMatchCount,
		MinInliers:       cfg.EffectiveMinInliers(),
		RansacIterations: cfg.Matching.RansacIterations,
		ReprojThreshold:  cfg.Matching.ReprojThreshold,
	})
	extractorOpts := features.Options{
		TargetWidth:   cfg.Detector.TargetWidth,
		TargetHeight:  cfg.Detector.TargetHeight,
		FeatureBudget: cfg.Detector.FeatureBudget,
		Equalize:      cfg.Detector.Equalize,
		Blur:          cfg.Detector.Blur,
	}

	var cmp comparer
	switch cfg.Matching.Strategy {
	case config.StrategyCachedFeatures:
		if store == nil {
			return nil, fmt.Errorf("strategy %s requires a feature cache store", cfg.Matching.Strategy)
		}
		cmp = &cachedFeatureComparer{
			store:   store,
			ex:      features.NewExtractor(extractorOpts),
			matcher: matcher,
		}
	case config.StrategyUncachedFeatures:
		cmp = &uncachedFeatureComparer{
			ex:      features.NewExtractor(extractorOpts),
			matcher: matcher,
		}
	case config.StrategyColorTemplate:
		cmp = &colorTemplateComparer{
			width:  cfg.Detector.TargetWidth,
			height: cfg.Detector.TargetHeight,
		}
	case config.StrategyPerceptualHash:
		cmp = &perceptualHashComparer{}
	default:
		return nil, fmt.Errorf("unknown recognition strategy %q", cfg.Matching.Strategy)
	}

	return &Recognizer{cmp: cmp, log: log}, nil
}

// Close releases backend resources.
func (r *Recognizer) Close() error {
	return r.cmp.Close()
}

// Compare matches a template against a query and thresholds the similarity.
// isMatch is true exactly when similarity is at or above threshold.
func (r *Recognizer) Compare(templatePath, queryPath string, threshold float64) (similarity float64, isMatch bool, err error) {
	res, err := r.cmp.Compare(templatePath, queryPath)
	if err != nil {
		return 0, false, err
	}
	return res.Confidence, res.Confidence >= threshold, nil
}

// BatchRecognize compares the template against every image in candidateDir,
// skipping candidates that fail with a warning, discarding results below
// threshold, and ranking the rest by confidence descending with candidate
// filename as the deterministic tiebreak.
func (r *Recognizer) BatchRecognize(templatePath, candidateDir string, threshold float64) ([]match.Result, BatchReport, error) {
	var report BatchReport

	names, err := imaging.ListImages(candidateDir)
	if err != nil {
		return nil, report, err
	}

	var results []match.Result
	for _, name := range names {
		report.Processed++
		res, err := r.cmp.Compare(templatePath, filepath.Join(candidateDir, name))
		if err != nil {
			report.Failed++
			r.log.Warn().Err(err).Str("candidate", name).Msg("candidate skipped")
			continue
		}
		res.Candidate = name
		if res.Confidence < threshold {
			continue
		}
		report.Matched++
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		return results[i].Candidate < results[j].Candidate
	})

	r.log.Info().
		Int("processed", report.Processed).
		Int("matched", report.Matched).
		Int("failed", report.Failed).
		Msg("batch recognition done")
	return results, report, nil
}
