package image

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Downsample median-filters and halves src octaves times with cubic
// interpolation. The result is a new Mat owned by the caller; src is not
// modified. Zero octaves returns a clone.
func Downsample(src gocv.Mat, octaves, medianKernel int) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.Mat{}, fmt.Errorf("empty input image")
	}
	if octaves < 0 {
		return gocv.Mat{}, fmt.Errorf("negative octave count %d", octaves)
	}

	current := src.Clone()
	for i := 0; i < octaves; i++ {
		if current.Cols() < 2 || current.Rows() < 2 {
			current.Close()
			return gocv.Mat{}, fmt.Errorf("image too small for %d octaves", octaves)
		}

		blurred := gocv.NewMat()
		gocv.MedianBlur(current, &blurred, medianKernel)
		current.Close()

		halved := gocv.NewMat()
		gocv.Resize(blurred, &halved, image.Point{}, 0.5, 0.5, gocv.InterpolationCubic)
		blurred.Close()
		current = halved
	}
	return current, nil
}
