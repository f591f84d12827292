// Command recognize is the orchestration front end for the recognition
// engine. It builds and updates the template feature cache, runs single and
// batch recognition, scans the template set for duplicates, and reads
// numeric overlays from crops.
//
// Usage:
//
//	recognize build [--full]
//	recognize compare <template> <query> <threshold>
//	recognize match <template> [--out results.csv]
//	recognize dedupe
//	recognize ocr <image> <x> <y> <w> <h>
//	recognize version
//
// Configuration comes from matcher.yaml (or MATCHER_CONFIG) plus MATCHER_*
// environment variables.
package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"screen-matcher/internal/config"
	"screen-matcher/internal/featurecache"
	"screen-matcher/internal/features"
	"screen-matcher/internal/imaging"
	"screen-matcher/internal/logging"
	"screen-matcher/internal/match"
	"screen-matcher/internal/ocr"
	"screen-matcher/internal/phash"
	"screen-matcher/internal/recognize"
	"screen-matcher/internal/version"
	"screen-matcher/pkg/geometry"

	"github.com/rs/zerolog"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [args]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  build [--full]                    build or update the feature cache\n")
	fmt.Fprintf(os.Stderr, "  compare <template> <query> <thr>  compare one template against one query\n")
	fmt.Fprintf(os.Stderr, "  match <template> [--out <csv>]    batch recognize the candidate directory\n")
	fmt.Fprintf(os.Stderr, "  dedupe                            scan templates for likely duplicates\n")
	fmt.Fprintf(os.Stderr, "  ocr <image> <x> <y> <w> <h>       read a numeric overlay region\n")
	fmt.Fprintf(os.Stderr, "  version                           print version information\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	if os.Args[1] == "version" {
		fmt.Printf("recognize %s (commit %s, built %s)\n",
			version.Version, version.GitCommit, version.BuildTime)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging, os.Stderr)

	var cmdErr error
	switch os.Args[1] {
	case "build":
		cmdErr = runBuild(cfg, log, os.Args[2:])
	case "compare":
		cmdErr = runCompare(cfg, log, os.Args[2:])
	case "match":
		cmdErr = runMatch(cfg, log, os.Args[2:])
	case "dedupe":
		cmdErr = runDedupe(cfg)
	case "ocr":
		cmdErr = runOCR(os.Args[2:])
	default:
		usage()
	}

	if cmdErr != nil {
		log.Error().Err(cmdErr).Str("command", os.Args[1]).Msg("command failed")
		os.Exit(1)
	}
}

func newStore(cfg *config.Config, log zerolog.Logger) (*featurecache.Store, *features.Extractor) {
	ex := features.NewExtractor(features.Options{
		TargetWidth:   cfg.Detector.TargetWidth,
		TargetHeight:  cfg.Detector.TargetHeight,
		FeatureBudget: cfg.Detector.FeatureBudget,
		Equalize:      cfg.Detector.Equalize,
		Blur:          cfg.Detector.Blur,
	})
	store := featurecache.NewStore(featurecache.Options{
		Dir:           cfg.Cache.Dir,
		FeatureFile:   cfg.Cache.FeatureFile,
		IndexFile:     cfg.Cache.IndexFile,
		DetectorKind:  cfg.Detector.Kind,
		TargetWidth:   cfg.Detector.TargetWidth,
		TargetHeight:  cfg.Detector.TargetHeight,
		FeatureBudget: cfg.Detector.FeatureBudget,
	}, ex, log)
	return store, ex
}

func runBuild(cfg *config.Config, log zerolog.Logger, args []string) error {
	mode := featurecache.Incremental
	if len(args) > 0 && args[0] == "--full" {
		mode = featurecache.Full
	}

	store, ex := newStore(cfg, log)
	defer ex.Close()

	report, err := store.Build(cfg.Paths.TemplateDir, mode)
	if err != nil {
		return err
	}
	fmt.Printf("Cache built: %d extracted, %d copied forward, %d removed, %d failed\n",
		report.Extracted, report.CopiedForward, report.Removed, report.Failed)
	for _, name := range report.FailedFiles {
		fmt.Printf("  warning: extraction failed for %s\n", name)
	}
	return nil
}

func runCompare(cfg *config.Config, log zerolog.Logger, args []string) error {
	if len(args) != 3 {
		usage()
	}
	threshold, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid threshold %q: %w", args[2], err)
	}

	store, ex := newStore(cfg, log)
	defer ex.Close()

	if cfg.Matching.Strategy == config.StrategyCachedFeatures {
		if err := store.Ensure(cfg.Paths.TemplateDir); err != nil {
			return err
		}
	}

	rec, err := recognize.New(cfg, store, log)
	if err != nil {
		return err
	}
	defer rec.Close()

	similarity, isMatch, err := rec.Compare(args[0], args[1], threshold)
	if err != nil {
		return err
	}
	fmt.Printf("similarity=%.2f match=%v (threshold %.2f, strategy %s)\n",
		similarity, isMatch, threshold, cfg.Matching.Strategy)
	return nil
}

func runMatch(cfg *config.Config, log zerolog.Logger, args []string) error {
	if len(args) < 1 {
		usage()
	}
	templatePath := args[0]
	outPath := ""
	for i := 1; i < len(args)-1; i++ {
		if args[i] == "--out" {
			outPath = args[i+1]
		}
	}

	store, ex := newStore(cfg, log)
	defer ex.Close()

	if cfg.Matching.Strategy == config.StrategyCachedFeatures {
		if err := store.Ensure(cfg.Paths.TemplateDir); err != nil {
			return err
		}
	}

	rec, err := recognize.New(cfg, store, log)
	if err != nil {
		return err
	}
	defer rec.Close()

	// Threshold 0 keeps every candidate; downstream consumers filter.
	results, report, err := rec.BatchRecognize(templatePath, cfg.Paths.CandidateDir, 0)
	if err != nil {
		return err
	}

	fmt.Printf("Processed %d candidates: %d scored, %d failed\n",
		report.Processed, report.Matched, report.Failed)
	for _, r := range results {
		fmt.Printf("  %-40s %6.2f (matches=%d inliers=%d)\n",
			r.Candidate, r.Confidence, r.MatchCount, r.HomographyInliers)
	}

	if outPath != "" {
		if err := writeResultsCSV(outPath, results); err != nil {
			return err
		}
		fmt.Printf("Results written to %s\n", outPath)
	}
	return nil
}

func runDedupe(cfg *config.Config) error {
	pairs, skipped, err := phash.FindDuplicates(cfg.Paths.TemplateDir, phash.DefaultDuplicateThreshold)
	if err != nil {
		return err
	}
	for _, name := range skipped {
		fmt.Printf("  warning: could not hash %s\n", name)
	}
	if len(pairs) == 0 {
		fmt.Println("No likely duplicates found.")
		return nil
	}
	fmt.Printf("%d likely duplicate pair(s):\n", len(pairs))
	for _, p := range pairs {
		fmt.Printf("  %s <-> %s (distance %d)\n", p.A, p.B, p.Distance)
	}
	return nil
}

func runOCR(args []string) error {
	if len(args) != 5 {
		usage()
	}
	coords := make([]int, 4)
	for i, s := range args[1:] {
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid coordinate %q: %w", s, err)
		}
		coords[i] = v
	}

	img, err := imaging.ReadMat(args[0])
	if err != nil {
		return err
	}
	defer img.Close()

	engine, err := ocr.NewEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	text, err := engine.ReadDigits(img, geometry.RectInt{
		X: coords[0], Y: coords[1], Width: coords[2], Height: coords[3],
	})
	if err != nil {
		return err
	}
	fmt.Printf("overlay: %q\n", text)
	return nil
}

func writeResultsCSV(path string, results []match.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"candidate", "template", "confidence", "matches", "inliers", "ratio", "algorithm"}); err != nil {
		return err
	}
	for _, r := range results {
		record := []string{
			r.Candidate,
			r.TemplateID,
			strconv.FormatFloat(r.Confidence, 'f', 2, 64),
			strconv.Itoa(r.MatchCount),
			strconv.Itoa(r.HomographyInliers),
			strconv.FormatFloat(r.MatchRatio, 'f', 4, 64),
			r.Algorithm,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
