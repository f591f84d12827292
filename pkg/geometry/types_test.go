package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoint2DDistance(t *testing.T) {
	a := NewPoint2D(0, 0)
	b := NewPoint2D(3, 4)
	assert.Equal(t, 5.0, a.Distance(b))
	assert.Equal(t, 0.0, a.Distance(a))
}

func TestIdentityHomography(t *testing.T) {
	h := IdentityHomography()
	for _, p := range []Point2D{{0, 0}, {10, -3}, {116, 116}} {
		got := h.Apply(p)
		assert.InDelta(t, p.X, got.X, 1e-12)
		assert.InDelta(t, p.Y, got.Y, 1e-12)
	}
}

func TestHomographyApplyProjective(t *testing.T) {
	// Pure translation expressed as a homography.
	h := Homography{H11: 1, H13: 5, H22: 1, H23: -2, H33: 1}
	got := h.Apply(Point2D{X: 1, Y: 1})
	assert.InDelta(t, 6.0, got.X, 1e-12)
	assert.InDelta(t, -1.0, got.Y, 1e-12)

	// Projective scaling divides through by w.
	h = Homography{H11: 2, H22: 2, H33: 2}
	got = h.Apply(Point2D{X: 3, Y: 7})
	assert.InDelta(t, 3.0, got.X, 1e-12)
	assert.InDelta(t, 7.0, got.Y, 1e-12)
}

func TestHomographyApplyPointAtInfinity(t *testing.T) {
	h := Homography{H11: 1, H22: 1, H31: 1, H33: 0}
	got := h.Apply(Point2D{X: 0, Y: 5})
	assert.True(t, math.IsInf(got.X, 1))
	assert.True(t, math.IsInf(got.Y, 1))
}
