package featurecache

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"screen-matcher/internal/features"
	"screen-matcher/internal/imaging"
)

// Mode selects how much of the cache a build recomputes.
type Mode int

const (
	// Full re-extracts every template.
	Full Mode = iota
	// Incremental consults the freshness index and re-extracts only new and
	// changed templates, copying unchanged entries forward.
	Incremental
)

// Extractor is the feature source a build uses. *features.Extractor
// satisfies it; tests substitute a deterministic fake.
type Extractor interface {
	ExtractFile(path string) (features.Set, error)
}

// Options pins the store to a detector configuration. A cache built under a
// different configuration is invalid and triggers a rebuild rather than
// serving incompatible features.
type Options struct {
	Dir           string
	FeatureFile   string
	IndexFile     string
	DetectorKind  string
	TargetWidth   int
	TargetHeight  int
	FeatureBudget int
}

// BuildReport summarizes one build or update.
type BuildReport struct {
	Extracted     int
	CopiedForward int
	Removed       int
	Failed        int
	FailedFiles   []string
}

// Store owns the feature cache and freshness index files. It is an explicit
// handle: open one, build or load, look up, and let it go out of scope. It
// is not safe for concurrent use; build ordering is enforced by sequencing.
type Store struct {
	opts  Options
	ex    Extractor
	log   zerolog.Logger
	cache *Cache
}

// NewStore creates a store handle. No I/O happens until Load or Build.
func NewStore(opts Options, ex Extractor, log zerolog.Logger) *Store {
	return &Store{opts: opts, ex: ex, log: log}
}

// FeaturePath returns the cache blob path.
func (s *Store) FeaturePath() string {
	return filepath.Join(s.opts.Dir, s.opts.FeatureFile)
}

// IndexPath returns the freshness index path.
func (s *Store) IndexPath() string {
	return filepath.Join(s.opts.Dir, s.opts.IndexFile)
}

// Load reads the cache blob from disk. Absent, corrupt or structurally
// broken caches return (nil, nil); the cache is simply not there yet.
func (s *Store) Load() (*Cache, error) {
	c, err := readCacheFile(s.FeaturePath())
	if err != nil {
		return nil, err
	}
	s.cache = c
	return c, nil
}

// IsValid reports whether the cache can be trusted for lookups: version and
// detector configuration match the store's, and there is at least one entry.
func (s *Store) IsValid(c *Cache) bool {
	return c != nil &&
		c.Version == Version &&
		c.DetectorKind == s.opts.DetectorKind &&
		c.TargetWidth == s.opts.TargetWidth &&
		c.TargetHeight == s.opts.TargetHeight &&
		c.FeatureBudget == s.opts.FeatureBudget &&
		len(c.Entries) > 0
}

// Lookup returns the cached features for a template. The id may carry any
// known image extension or none; the canonical extension-free id is tried
// first, then the id as given.
func (s *Store) Lookup(id string) (Record, error) {
	if !s.IsValid(s.cache) {
		return Record{}, ErrNoValidCache
	}
	if r, ok := s.cache.Entries[imaging.Stem(id)]; ok {
		return r, nil
	}
	if r, ok := s.cache.Entries[id]; ok {
		return r, nil
	}
	return Record{}, fmt.Errorf("template %q not in cache", id)
}

// Ensure makes the store ready for lookups: load the cache and, if it is
// absent or invalid, run an incremental build (which falls back to full).
func (s *Store) Ensure(templateDir string) error {
	if c, err := s.Load(); err == nil && s.IsValid(c) {
		return nil
	}
	_, err := s.Build(templateDir, Incremental)
	return err
}

// Build (re)builds the cache from templateDir and persists both the cache
// blob and the freshness index. Per-template extraction failures are logged
// and counted but do not fail the build; a build with zero usable templates
// does fail. Partial progress is never flushed: the cache file is replaced
// only after the whole build succeeds.
func (s *Store) Build(templateDir string, mode Mode) (BuildReport, error) {
	var report BuildReport

	currentHashes, err := hashTemplateDir(templateDir)
	if err != nil {
		return report, fmt.Errorf("scanning templates: %w", err)
	}
	if len(currentHashes) == 0 {
		return report, fmt.Errorf("no template images in %s", templateDir)
	}

	// Decide what to reuse. Incremental needs both a valid prior cache and
	// a freshness index; missing either downgrades to a full build.
	var prior *Cache
	var diff Diff
	if mode == Incremental {
		idx := readIndex(s.IndexPath())
		if s.cache == nil {
			s.cache, _ = s.Load()
		}
		if idx != nil && s.IsValid(s.cache) {
			prior = s.cache
			diff = DiffIndex(currentHashes, idx)
		} else {
			mode = Full
		}
	}
	if mode == Full {
		for name := range currentHashes {
			diff.New = append(diff.New, name)
		}
	}

	s.log.Info().
		Int("templates", len(currentHashes)).
		Int("new", len(diff.New)).
		Int("changed", len(diff.Changed)).
		Int("removed", len(diff.Removed)).
		Msg("building feature cache")

	toExtract := make(map[string]bool, len(diff.New)+len(diff.Changed))
	for _, name := range diff.New {
		toExtract[name] = true
	}
	for _, name := range diff.Changed {
		toExtract[name] = true
	}

	entries := make(map[string]Record, len(currentHashes))
	indexed := make(map[string]string, len(currentHashes))

	names := make([]string, 0, len(currentHashes))
	for name := range currentHashes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		hash := currentHashes[name]
		id := imaging.Stem(name)
		if _, dup := entries[id]; dup {
			s.log.Warn().Str("template", name).Msg("duplicate template id, keeping first")
			continue
		}

		if prior != nil && !toExtract[name] {
			if r, ok := prior.Entries[id]; ok && r.ContentHash == hash {
				entries[id] = r
				indexed[name] = hash
				report.CopiedForward++
				continue
			}
			// Index said unchanged but the cache disagrees; re-extract.
		}

		set, err := s.ex.ExtractFile(filepath.Join(templateDir, name))
		if err != nil {
			s.log.Warn().Err(err).Str("template", name).Msg("feature extraction failed, skipping")
			report.Failed++
			report.FailedFiles = append(report.FailedFiles, name)
			continue
		}
		entries[id] = Record{
			TemplateID:  id,
			Keypoints:   set.Keypoints,
			Descriptors: set.Descriptors,
			Width:       set.Width,
			Height:      set.Height,
			ContentHash: hash,
		}
		indexed[name] = hash
		report.Extracted++
	}
	report.Removed = len(diff.Removed)

	if len(entries) == 0 {
		return report, fmt.Errorf("no usable templates in %s (%d failed)", templateDir, report.Failed)
	}

	cache := &Cache{
		Version:       Version,
		CreatedAt:     time.Now().UTC(),
		DetectorKind:  s.opts.DetectorKind,
		TargetWidth:   s.opts.TargetWidth,
		TargetHeight:  s.opts.TargetHeight,
		FeatureBudget: s.opts.FeatureBudget,
		Entries:       entries,
	}

	if err := writeCacheFile(s.FeaturePath(), cache); err != nil {
		return report, fmt.Errorf("persisting feature cache: %w", err)
	}
	if err := writeIndex(s.IndexPath(), &Index{Files: indexed, UpdatedAt: cache.CreatedAt}); err != nil {
		return report, fmt.Errorf("persisting freshness index: %w", err)
	}

	s.cache = cache
	s.log.Info().
		Int("extracted", report.Extracted).
		Int("copied", report.CopiedForward).
		Int("removed", report.Removed).
		Int("failed", report.Failed).
		Msg("feature cache written")
	return report, nil
}
