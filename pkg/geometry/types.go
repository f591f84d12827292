// Package geometry provides basic geometric types used throughout the application.
package geometry

import (
	"math"
)

// Point2D represents a 2D point with floating-point coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint2D creates a new Point2D.
func NewPoint2D(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Add returns the sum of two points.
func (p Point2D) Add(other Point2D) Point2D {
	return Point2D{X: p.X + other.X, Y: p.Y + other.Y}
}

// Sub returns the difference of two points.
func (p Point2D) Sub(other Point2D) Point2D {
	return Point2D{X: p.X - other.X, Y: p.Y - other.Y}
}

// RectInt represents a rectangle with integer coordinates.
type RectInt struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Homography represents a 3x3 planar projective transform.
// [h11 h12 h13]
// [h21 h22 h23]
// [h31 h32 h33]
type Homography struct {
	H11, H12, H13 float64
	H21, H22, H23 float64
	H31, H32, H33 float64
}

// IdentityHomography returns the identity transform.
func IdentityHomography() Homography {
	return Homography{H11: 1, H22: 1, H33: 1}
}

// Apply transforms a point through the homography, dividing out the
// projective coordinate. Points at infinity map to (Inf, Inf).
func (h Homography) Apply(p Point2D) Point2D {
	w := h.H31*p.X + h.H32*p.Y + h.H33
	if w == 0 {
		return Point2D{X: math.Inf(1), Y: math.Inf(1)}
	}
	return Point2D{
		X: (h.H11*p.X + h.H12*p.Y + h.H13) / w,
		Y: (h.H21*p.X + h.H22*p.Y + h.H23) / w,
	}
}
