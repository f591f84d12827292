// Package featurecache persists extracted template features and keeps them
// consistent with the template directory via a content-hash freshness index.
//
// The cache is written as a single gob blob replaced atomically (temp file
// then rename), so a crash mid-write can never leave a partially written
// cache behind. A corrupt or unreadable cache loads as absent and triggers
// a full rebuild instead of failing the caller.
package featurecache

import (
	"encoding/gob"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"screen-matcher/internal/features"
)

// Version identifies the cache blob layout. Bump on incompatible changes;
// a version mismatch invalidates the cache and forces a rebuild.
const Version = "1"

// ErrNoValidCache is returned by lookups when no valid cache is loaded.
var ErrNoValidCache = errors.New("no valid feature cache")

// Record holds the persisted features of one template image.
type Record struct {
	TemplateID  string
	Keypoints   []features.Keypoint
	Descriptors [][]byte
	Width       int
	Height      int
	ContentHash string
}

// Set converts the record back to the extractor's in-memory form.
func (r Record) Set() features.Set {
	return features.Set{
		Keypoints:   r.Keypoints,
		Descriptors: r.Descriptors,
		Width:       r.Width,
		Height:      r.Height,
	}
}

// Cache is the whole persisted feature cache.
type Cache struct {
	Version       string
	CreatedAt     time.Time
	DetectorKind  string
	TargetWidth   int
	TargetHeight  int
	FeatureBudget int
	Entries       map[string]Record
}

// cacheFile is the on-disk form. Records are sorted by TemplateID so that
// rebuilding an unchanged template set produces byte-identical entry data.
type cacheFile struct {
	Version       string
	CreatedAt     time.Time
	DetectorKind  string
	TargetWidth   int
	TargetHeight  int
	FeatureBudget int
	Records       []Record
}

func (c *Cache) toFile() cacheFile {
	records := make([]Record, 0, len(c.Entries))
	for _, r := range c.Entries {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].TemplateID < records[j].TemplateID
	})
	return cacheFile{
		Version:       c.Version,
		CreatedAt:     c.CreatedAt,
		DetectorKind:  c.DetectorKind,
		TargetWidth:   c.TargetWidth,
		TargetHeight:  c.TargetHeight,
		FeatureBudget: c.FeatureBudget,
		Records:       records,
	}
}

func (f cacheFile) toCache() *Cache {
	entries := make(map[string]Record, len(f.Records))
	for _, r := range f.Records {
		entries[r.TemplateID] = r
	}
	return &Cache{
		Version:       f.Version,
		CreatedAt:     f.CreatedAt,
		DetectorKind:  f.DetectorKind,
		TargetWidth:   f.TargetWidth,
		TargetHeight:  f.TargetHeight,
		FeatureBudget: f.FeatureBudget,
		Entries:       entries,
	}
}

// writeCacheFile writes the blob next to its final path and renames it into
// place. Rename within one directory is atomic on the platforms we target.
func writeCacheFile(path string, c *Cache) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(c.toFile()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// readCacheFile loads a cache blob. Any read or decode failure is reported
// as absent (nil, nil): callers respond by rebuilding, not crashing.
func readCacheFile(path string) (*Cache, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	var cf cacheFile
	if err := gob.NewDecoder(f).Decode(&cf); err != nil {
		return nil, nil
	}

	c := cf.toCache()
	if !structurallySound(c) {
		return nil, nil
	}
	return c, nil
}

// structurallySound checks the per-record invariant that every keypoint has
// exactly one descriptor row.
func structurallySound(c *Cache) bool {
	for _, r := range c.Entries {
		if len(r.Keypoints) != len(r.Descriptors) {
			return false
		}
	}
	return true
}
