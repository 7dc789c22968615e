// Package match defines point correspondences between two images and the
// match-point table they are archived as.
package match

import (
	"warpmap/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// Correspondence is one candidate match between a location in image A and
// a location in image B. Quality is the matcher's distance score (lower is
// better); it is carried through untouched.
type Correspondence struct {
	A       geometry.Point2D
	B       geometry.Point2D
	Quality float64
}

// New creates a Correspondence from raw coordinates.
func New(ax, ay, bx, by, quality float64) Correspondence {
	return Correspondence{
		A:       geometry.NewPoint2D(ax, ay),
		B:       geometry.NewPoint2D(bx, by),
		Quality: quality,
	}
}

// Delta returns the displacement B - A.
func (c Correspondence) Delta() geometry.Point2D {
	return c.B.Sub(c.A)
}

// Scale returns the correspondence with both points scaled by factor.
func (c Correspondence) Scale(factor float64) Correspondence {
	return Correspondence{A: c.A.Scale(factor), B: c.B.Scale(factor), Quality: c.Quality}
}

// TableColumns is the width of a match table: A.x, A.y, B.x, B.y.
const TableColumns = 4

// Table packs correspondences into an n×4 matrix of rows
// (A.x, A.y, B.x, B.y), each multiplied by scale. Callers pass 2^octaves to
// report points in full-resolution pixels. An empty input yields nil.
func Table(corrs []Correspondence, scale float64) *mat.Dense {
	if len(corrs) == 0 {
		return nil
	}
	t := mat.NewDense(len(corrs), TableColumns, nil)
	for i, c := range corrs {
		t.SetRow(i, []float64{c.A.X * scale, c.A.Y * scale, c.B.X * scale, c.B.Y * scale})
	}
	return t
}

// FromTable is the inverse of Table. Quality is not archived and comes back
// as zero. A nil table yields an empty slice.
func FromTable(t mat.Matrix, scale float64) []Correspondence {
	if t == nil {
		return []Correspondence{}
	}
	rows, _ := t.Dims()
	corrs := make([]Correspondence, rows)
	for i := 0; i < rows; i++ {
		corrs[i] = New(
			t.At(i, 0)/scale, t.At(i, 1)/scale,
			t.At(i, 2)/scale, t.At(i, 3)/scale,
			0,
		)
	}
	return corrs
}
