package image

import (
	"fmt"
	"image"

	"warpmap/internal/field"

	"gocv.io/x/gocv"
)

// CVSmoother runs OpenCV's GaussianBlur on a float32 copy of the field.
// Kernel size is derived from sigma and borders use reflect-101, the same
// as field.GaussianSmoother; only precision differs.
type CVSmoother struct{}

// Smooth blurs f in place.
func (CVSmoother) Smooth(f *field.Field, sigma float64) error {
	if !(sigma > 0) {
		return fmt.Errorf("%w: sigma %v", field.ErrInvalidSmoothing, sigma)
	}

	src := FieldToMat(f)
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	gocv.GaussianBlur(src, &dst, image.Point{}, sigma, sigma, gocv.BorderReflect101)
	return CopyMatToField(dst, f)
}
