package alignment

import (
	"fmt"
	"math"

	"warpmap/internal/match"
	"warpmap/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// AffineFit is the least-squares affine component of a correspondence set.
type AffineFit struct {
	Transform geometry.AffineTransform // Maps A points onto B points
	RMS       float64                  // Root mean square residual, pixels
	MaxError  float64
}

// FitAffine computes the affine transform A -> B that best explains corrs in
// the least-squares sense. The diffusion maps carry whatever this global
// component leaves unexplained.
func FitAffine(corrs []match.Correspondence) (*AffineFit, error) {
	n := len(corrs)
	if n < 3 {
		return nil, fmt.Errorf("need at least 3 points, got %d", n)
	}

	// Build overdetermined system
	A := mat.NewDense(n*2, 6, nil)
	B := mat.NewVecDense(n*2, nil)

	for i, c := range corrs {
		x, y := c.A.X, c.A.Y
		xp, yp := c.B.X, c.B.Y

		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		B.SetVec(i*2, xp)

		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		B.SetVec(i*2+1, yp)
	}

	// Solve using QR decomposition
	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return nil, fmt.Errorf("affine least squares: %w", err)
	}

	transform := geometry.AffineTransform{
		A:  params.AtVec(0),
		B:  params.AtVec(1),
		TX: params.AtVec(2),
		C:  params.AtVec(3),
		D:  params.AtVec(4),
		TY: params.AtVec(5),
	}
	rms, maxErr := residuals(corrs, transform)
	return &AffineFit{Transform: transform, RMS: rms, MaxError: maxErr}, nil
}

// residuals returns the RMS and maximum distance between the transformed A
// points and their B points.
func residuals(corrs []match.Correspondence, transform geometry.AffineTransform) (rms, maxErr float64) {
	if len(corrs) == 0 {
		return math.Inf(1), math.Inf(1)
	}

	var sumSq float64
	for _, c := range corrs {
		d := transform.Apply(c.A).Distance(c.B)
		sumSq += d * d
		maxErr = math.Max(maxErr, d)
	}
	return math.Sqrt(sumSq / float64(len(corrs))), maxErr
}
