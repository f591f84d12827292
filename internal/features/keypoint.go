// Package features normalizes images and extracts ORB keypoints and binary
// descriptors for geometric matching.
package features

import "gocv.io/x/gocv"

// Keypoint is a detector-agnostic keypoint record. It is decoupled from the
// native gocv.KeyPoint so that cached features can be serialized and later
// reconstructed exactly, with no dependency on the detector library's
// in-memory layout.
type Keypoint struct {
	X        float64
	Y        float64
	Size     float64
	Angle    float64
	Response float64
	Octave   int
	ClassID  int
}

// Set bundles the keypoints and descriptors extracted from one image,
// together with the normalized shape the image was resized to beforehand.
// Descriptors hold one fixed-length binary row per keypoint.
type Set struct {
	Keypoints   []Keypoint
	Descriptors [][]byte
	Width       int
	Height      int
}

// Empty reports whether the set holds no usable descriptors. An empty set
// means "unrecognizable", not an error.
func (s Set) Empty() bool {
	return len(s.Descriptors) == 0
}

// FromKeyPoints converts native detector keypoints to records.
func FromKeyPoints(kps []gocv.KeyPoint) []Keypoint {
	out := make([]Keypoint, len(kps))
	for i, kp := range kps {
		out[i] = Keypoint{
			X:        kp.X,
			Y:        kp.Y,
			Size:     kp.Size,
			Angle:    kp.Angle,
			Response: kp.Response,
			Octave:   kp.Octave,
			ClassID:  kp.ClassID,
		}
	}
	return out
}

// ToKeyPoints converts records back to the native detector type.
func ToKeyPoints(kps []Keypoint) []gocv.KeyPoint {
	out := make([]gocv.KeyPoint, len(kps))
	for i, kp := range kps {
		out[i] = gocv.KeyPoint{
			X:        kp.X,
			Y:        kp.Y,
			Size:     kp.Size,
			Angle:    kp.Angle,
			Response: kp.Response,
			Octave:   kp.Octave,
			ClassID:  kp.ClassID,
		}
	}
	return out
}
