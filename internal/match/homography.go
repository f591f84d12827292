package match

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"screen-matcher/pkg/geometry"
)

// estimateHomographyRANSAC fits a planar projective transform mapping src
// points onto dst points, tolerating outliers. It randomly samples minimal
// 4-point sets, keeps the consensus with the most inliers under the
// reprojection threshold, and refits on all inliers with least squares.
func estimateHomographyRANSAC(src, dst []geometry.Point2D, iterations int, threshold float64) (geometry.Homography, []int, error) {
	if len(src) != len(dst) {
		return geometry.Homography{}, nil, fmt.Errorf("point count mismatch: %d vs %d", len(src), len(dst))
	}
	n := len(src)
	if n < 4 {
		return geometry.Homography{}, nil, fmt.Errorf("need at least 4 points, got %d", n)
	}

	var bestInliers []int
	var bestH geometry.Homography

	for iter := 0; iter < iterations; iter++ {
		indices := rand.Perm(n)[:4]

		sample := make([]geometry.Point2D, 4)
		target := make([]geometry.Point2D, 4)
		for i, idx := range indices {
			sample[i] = src[idx]
			target[i] = dst[idx]
		}

		h, err := homographyFromPoints(sample, target)
		if err != nil {
			// Degenerate sample (collinear points); try another.
			continue
		}

		var inliers []int
		for i := range src {
			if h.Apply(src[i]).Distance(dst[i]) < threshold {
				inliers = append(inliers, i)
			}
		}

		if len(inliers) > len(bestInliers) {
			bestInliers = inliers
			bestH = h
		}
	}

	if len(bestInliers) < 4 {
		return geometry.Homography{}, nil, fmt.Errorf("RANSAC failed to find enough inliers")
	}

	inlierSrc := make([]geometry.Point2D, len(bestInliers))
	inlierDst := make([]geometry.Point2D, len(bestInliers))
	for i, idx := range bestInliers {
		inlierSrc[i] = src[idx]
		inlierDst[i] = dst[idx]
	}

	refined, err := homographyLeastSquares(inlierSrc, inlierDst)
	if err != nil {
		return bestH, bestInliers, nil
	}

	// Recount inliers under the refined transform.
	var refinedInliers []int
	for i := range src {
		if refined.Apply(src[i]).Distance(dst[i]) < threshold {
			refinedInliers = append(refinedInliers, i)
		}
	}
	if len(refinedInliers) < len(bestInliers) {
		return bestH, bestInliers, nil
	}
	return refined, refinedInliers, nil
}

// homographyFromPoints computes the exact homography through 4 point pairs
// by solving the 8x8 linear system with h33 fixed to 1:
//
//	x' = (h11 x + h12 y + h13) / (h31 x + h32 y + 1)
//	y' = (h21 x + h22 y + h23) / (h31 x + h32 y + 1)
func homographyFromPoints(src, dst []geometry.Point2D) (geometry.Homography, error) {
	if len(src) != 4 || len(dst) != 4 {
		return geometry.Homography{}, fmt.Errorf("need exactly 4 points")
	}

	A := mat.NewDense(8, 8, nil)
	B := mat.NewVecDense(8, nil)

	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		xp, yp := dst[i].X, dst[i].Y

		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		A.Set(i*2, 6, -xp*x)
		A.Set(i*2, 7, -xp*y)
		B.SetVec(i*2, xp)

		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		A.Set(i*2+1, 6, -yp*x)
		A.Set(i*2+1, 7, -yp*y)
		B.SetVec(i*2+1, yp)
	}

	var params mat.VecDense
	if err := params.SolveVec(A, B); err != nil {
		return geometry.Homography{}, err
	}

	return homographyFromParams(&params), nil
}

// homographyLeastSquares fits the overdetermined system over all point
// pairs using QR decomposition.
func homographyLeastSquares(src, dst []geometry.Point2D) (geometry.Homography, error) {
	n := len(src)
	if n < 4 {
		return geometry.Homography{}, fmt.Errorf("need at least 4 points")
	}

	A := mat.NewDense(n*2, 8, nil)
	B := mat.NewVecDense(n*2, nil)

	for i := 0; i < n; i++ {
		x, y := src[i].X, src[i].Y
		xp, yp := dst[i].X, dst[i].Y

		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		A.Set(i*2, 6, -xp*x)
		A.Set(i*2, 7, -xp*y)
		B.SetVec(i*2, xp)

		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		A.Set(i*2+1, 6, -yp*x)
		A.Set(i*2+1, 7, -yp*y)
		B.SetVec(i*2+1, yp)
	}

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.Homography{}, err
	}

	return homographyFromParams(&params), nil
}

func homographyFromParams(p *mat.VecDense) geometry.Homography {
	return geometry.Homography{
		H11: p.AtVec(0), H12: p.AtVec(1), H13: p.AtVec(2),
		H21: p.AtVec(3), H22: p.AtVec(4), H23: p.AtVec(5),
		H31: p.AtVec(6), H32: p.AtVec(7), H33: 1,
	}
}
