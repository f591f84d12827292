package phash

import (
	"fmt"
	"path/filepath"

	"screen-matcher/internal/imaging"
)

// DuplicatePair records two template files whose hashes are within the
// duplicate threshold.
type DuplicatePair struct {
	A, B     string
	Distance int
}

// FindDuplicates hashes every image in dir and flags pairs with Hamming
// distance at or below threshold. The scan is a plain all-pairs pass; the
// template set is small (tens, not millions), so O(n^2) is fine.
//
// Files that fail to decode are skipped and reported alongside the pairs.
func FindDuplicates(dir string, threshold int) (pairs []DuplicatePair, skipped []string, err error) {
	names, err := imaging.ListImages(dir)
	if err != nil {
		return nil, nil, err
	}

	type entry struct {
		name string
		hash Hash
	}
	entries := make([]entry, 0, len(names))
	for _, name := range names {
		img, err := imaging.DecodeFile(filepath.Join(dir, name))
		if err != nil {
			skipped = append(skipped, name)
			continue
		}
		entries = append(entries, entry{name: name, hash: FromImage(img)})
	}

	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			d := Distance(entries[i].hash, entries[j].hash)
			if d <= threshold {
				pairs = append(pairs, DuplicatePair{
					A:        entries[i].name,
					B:        entries[j].name,
					Distance: d,
				})
			}
		}
	}
	return pairs, skipped, nil
}

// FromFile decodes an image file and hashes it.
func FromFile(path string) (Hash, error) {
	img, err := imaging.DecodeFile(path)
	if err != nil {
		return 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	return FromImage(img), nil
}
