// Package image bridges Go images, OpenCV matrices and dense fields: loading,
// pyramid downsampling, OpenCV smoothing and preview warping.
package image

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"warpmap/internal/field"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/tiff"
)

// Load decodes an image file. PNG, JPEG and TIFF are supported.
func Load(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("empty %s image: %s", format, path)
	}
	return img, nil
}

// LoadGray decodes an image file into a single-channel 8-bit Mat.
func LoadGray(path string) (gocv.Mat, error) {
	img, err := Load(path)
	if err != nil {
		return gocv.Mat{}, err
	}
	return ToGrayMat(img), nil
}

// ToGrayMat converts a Go image to an 8-bit grayscale Mat (parallelized).
func ToGrayMat(img image.Image) gocv.Mat {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC1)

	field.ForEachStripe(height, 0, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			for x := 0; x < width; x++ {
				g := color.GrayModel.Convert(img.At(x+bounds.Min.X, y+bounds.Min.Y)).(color.Gray)
				mat.SetUCharAt(y, x, g.Y)
			}
		}
	})
	return mat
}

// GrayMatToImage converts a single-channel 8-bit Mat to a Go image.
func GrayMatToImage(mat gocv.Mat) (*image.Gray, error) {
	if mat.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("expected 8-bit single channel Mat, got type %v", mat.Type())
	}
	h, w := mat.Rows(), mat.Cols()
	img := image.NewGray(image.Rect(0, 0, w, h))

	field.ForEachStripe(h, 0, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+w]
			for x := range row {
				row[x] = mat.GetUCharAt(y, x)
			}
		}
	})
	return img, nil
}

// FieldToMat copies a field into a new CV_32F Mat.
func FieldToMat(f *field.Field) gocv.Mat {
	mat := gocv.NewMatWithSize(f.Height(), f.Width(), gocv.MatTypeCV32F)
	field.ForEachStripe(f.Height(), 0, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			for x, v := range f.Row(y) {
				mat.SetFloatAt(y, x, float32(v))
			}
		}
	})
	return mat
}

// CopyMatToField copies a CV_32F Mat of the same size into f.
func CopyMatToField(mat gocv.Mat, f *field.Field) error {
	if mat.Type() != gocv.MatTypeCV32F {
		return fmt.Errorf("expected CV_32F Mat, got type %v", mat.Type())
	}
	if mat.Rows() != f.Height() || mat.Cols() != f.Width() {
		return fmt.Errorf("Mat is %dx%d, field is %dx%d",
			mat.Cols(), mat.Rows(), f.Width(), f.Height())
	}
	field.ForEachStripe(f.Height(), 0, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			row := f.Row(y)
			for x := range row {
				row[x] = float64(mat.GetFloatAt(y, x))
			}
		}
	})
	return nil
}
