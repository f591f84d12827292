package featurecache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"screen-matcher/internal/imaging"
)

// Index is the freshness sidecar: filename to content hash for every
// template file covered by the cache. It loads fast and lets the incremental
// build decide rebuild scope without touching the descriptor blobs.
type Index struct {
	Files     map[string]string `json:"files"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Diff partitions the template directory against the index. The three sets
// are disjoint; membership is decided purely by content-hash equality, never
// by modification time, so copies, touches and byte-identical re-saves do
// not trigger re-extraction.
type Diff struct {
	New     []string
	Changed []string
	Removed []string
}

// DiffIndex compares current (filename -> content hash) against the index.
// A nil index marks every file as new.
func DiffIndex(current map[string]string, idx *Index) Diff {
	var d Diff
	for name, hash := range current {
		if idx == nil {
			d.New = append(d.New, name)
			continue
		}
		prev, ok := idx.Files[name]
		switch {
		case !ok:
			d.New = append(d.New, name)
		case prev != hash:
			d.Changed = append(d.Changed, name)
		}
	}
	if idx != nil {
		for name := range idx.Files {
			if _, ok := current[name]; !ok {
				d.Removed = append(d.Removed, name)
			}
		}
	}
	return d
}

// HashFile returns the hex SHA-256 digest of a file's bytes.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// hashTemplateDir hashes every image file in dir.
func hashTemplateDir(dir string) (map[string]string, error) {
	names, err := imaging.ListImages(dir)
	if err != nil {
		return nil, err
	}
	hashes := make(map[string]string, len(names))
	for _, name := range names {
		h, err := HashFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		hashes[name] = h
	}
	return hashes, nil
}

// readIndex loads the freshness index; any failure reads as absent.
func readIndex(path string) *Index {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil || idx.Files == nil {
		return nil
	}
	return &idx
}

// writeIndex persists the index with the same temp-then-rename pattern as
// the cache blob.
func writeIndex(path string, idx *Index) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
