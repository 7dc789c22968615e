// Package field turns sparse displacement samples into dense per-pixel
// resampling maps by confidence-weighted Gaussian diffusion.
package field

import (
	"fmt"

	"warpmap/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// Field is a dense scalar grid with one value per pixel. Rows are y,
// columns are x.
type Field struct {
	data *mat.Dense
}

// NewField allocates a zero field of the given size.
func NewField(width, height int) (*Field, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimension, width, height)
	}
	return &Field{data: mat.NewDense(height, width, nil)}, nil
}

// FromDense wraps an existing matrix without copying.
func FromDense(d *mat.Dense) *Field {
	return &Field{data: d}
}

// Width returns the number of columns.
func (f *Field) Width() int {
	_, c := f.data.Dims()
	return c
}

// Height returns the number of rows.
func (f *Field) Height() int {
	r, _ := f.data.Dims()
	return r
}

// Size returns the grid size.
func (f *Field) Size() geometry.Size {
	r, c := f.data.Dims()
	return geometry.Size{Width: c, Height: r}
}

// At returns the value at pixel (x, y).
func (f *Field) At(x, y int) float64 {
	return f.data.At(y, x)
}

// Set stores v at pixel (x, y).
func (f *Field) Set(x, y int, v float64) {
	f.data.Set(y, x, v)
}

// Row returns row y as a slice sharing the field's storage.
func (f *Field) Row(y int) []float64 {
	return f.data.RawRowView(y)
}

// Dense returns the backing matrix.
func (f *Field) Dense() *mat.Dense {
	return f.data
}

// Clone returns a deep copy.
func (f *Field) Clone() *Field {
	return &Field{data: mat.DenseCopyOf(f.data)}
}
