// Package phash implements a 64-bit difference hash (dHash) for fast
// approximate image comparison.
//
// The hash is built by downsizing an image to a 9x8 grayscale grid and
// taking the sign of each horizontal adjacent-pixel difference as one bit.
// It is coarse but stable under re-encoding and small crop offsets, which
// makes it useful both as a fallback matching backend and as a duplicate
// detector over the template set.
package phash

import (
	"image"
	"image/draw"
	"math/bits"

	xdraw "golang.org/x/image/draw"
)

// Grid dimensions: hashCols+1 columns of hashRows pixels yield
// hashCols*hashRows = 64 difference bits.
const (
	hashCols = 8
	hashRows = 8
)

// BitLength is the number of bits in a Hash.
const BitLength = hashCols * hashRows

// DefaultDuplicateThreshold is the Hamming distance at or below which two
// templates are flagged as likely duplicates.
const DefaultDuplicateThreshold = 5

// Hash is a 64-bit dHash fingerprint.
type Hash uint64

// FromImage computes the dHash of an image.
func FromImage(img image.Image) Hash {
	// Downsize to (hashCols+1) x hashRows with area-averaging resampling,
	// then convert to grayscale.
	small := image.NewRGBA(image.Rect(0, 0, hashCols+1, hashRows))
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	gray := image.NewGray(small.Bounds())
	draw.Draw(gray, gray.Bounds(), small, image.Point{}, draw.Src)

	var h Hash
	bit := uint(BitLength - 1)
	for y := 0; y < hashRows; y++ {
		for x := 0; x < hashCols; x++ {
			left := gray.GrayAt(x, y).Y
			right := gray.GrayAt(x+1, y).Y
			if left > right {
				h |= 1 << bit
			}
			bit--
		}
	}
	return h
}

// Distance returns the Hamming distance between two hashes.
func Distance(a, b Hash) int {
	return bits.OnesCount64(uint64(a ^ b))
}

// Similarity converts Hamming distance to a percentage in [0,100].
func Similarity(a, b Hash) float64 {
	return (1 - float64(Distance(a, b))/float64(BitLength)) * 100
}
