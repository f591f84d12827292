// Package imaging provides image loading, directory listing and the
// normalization pipeline shared by the recognition backends.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	_ "golang.org/x/image/bmp" // register BMP decoder

	"gocv.io/x/gocv"
)

// ErrUnreadable marks a file that exists but cannot be decoded as an image.
// Batch callers skip these items; single-item callers surface the error.
var ErrUnreadable = errors.New("unreadable image")

// Extensions lists the image extensions the engine recognizes, in lookup
// order. The same template may be referenced with any of these across the
// pipeline.
var Extensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".gif"}

// IsImageFile reports whether the filename carries a known image extension.
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Stem returns the extension-free base name used as a template identity.
func Stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ListImages returns the image filenames in dir, sorted ascending for
// deterministic iteration. Subdirectories are ignored.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Decode decodes raw image bytes into an image.Image.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return img, nil
}

// DecodeFile reads and decodes an image file.
func DecodeFile(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	img, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// ReadMat loads an image file as a BGR gocv.Mat. The caller owns the Mat.
func ReadMat(path string) (gocv.Mat, error) {
	m := gocv.IMRead(path, gocv.IMReadColor)
	if m.Empty() {
		return gocv.Mat{}, fmt.Errorf("%w: %s", ErrUnreadable, path)
	}
	return m, nil
}

// ReadMatUnchanged loads an image file preserving any alpha channel.
func ReadMatUnchanged(path string) (gocv.Mat, error) {
	m := gocv.IMRead(path, gocv.IMReadUnchanged)
	if m.Empty() {
		return gocv.Mat{}, fmt.Errorf("%w: %s", ErrUnreadable, path)
	}
	return m, nil
}

// Normalize resizes src to width x height with area resampling and converts
// it to single-channel intensity. Equalize applies histogram equalization;
// blur applies a light 3x3 Gaussian. The caller owns the returned Mat; src
// is left untouched.
func Normalize(src gocv.Mat, width, height int, equalize, blur bool) gocv.Mat {
	resized := gocv.NewMat()
	gocv.Resize(src, &resized, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationArea)

	var gray gocv.Mat
	switch src.Channels() {
	case 1:
		gray = resized.Clone()
	case 4:
		gray = gocv.NewMat()
		gocv.CvtColor(resized, &gray, gocv.ColorBGRAToGray)
	default:
		gray = gocv.NewMat()
		gocv.CvtColor(resized, &gray, gocv.ColorBGRToGray)
	}
	resized.Close()

	if equalize {
		equalized := gocv.NewMat()
		gocv.EqualizeHist(gray, &equalized)
		gray.Close()
		gray = equalized
	}

	if blur {
		blurred := gocv.NewMat()
		gocv.GaussianBlur(gray, &blurred, image.Pt(3, 3), 0, 0, gocv.BorderDefault)
		gray.Close()
		gray = blurred
	}

	return gray
}
