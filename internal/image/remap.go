package image

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"os"

	"warpmap/internal/field"

	"gocv.io/x/gocv"
	"golang.org/x/image/tiff"
)

// Warp resamples src through normalized resampling maps. Map values are
// scaled back to pixels by the map size, so src is expected to have the
// grid the maps were built on.
func Warp(src gocv.Mat, xMap, yMap *field.Field) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.Mat{}, fmt.Errorf("empty input image")
	}
	if xMap.Size() != yMap.Size() {
		return gocv.Mat{}, fmt.Errorf("map sizes differ: %v vs %v", xMap.Size(), yMap.Size())
	}

	w, h := float32(xMap.Width()), float32(xMap.Height())
	mx := FieldToMat(xMap)
	defer mx.Close()
	my := FieldToMat(yMap)
	defer my.Close()
	field.ForEachStripe(xMap.Height(), 0, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			for x := 0; x < xMap.Width(); x++ {
				mx.SetFloatAt(y, x, mx.GetFloatAt(y, x)*w)
				my.SetFloatAt(y, x, my.GetFloatAt(y, x)*h)
			}
		}
	})

	dst := gocv.NewMat()
	gocv.Remap(src, &dst, &mx, &my, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	return dst, nil
}

// WriteTIFF encodes a grayscale Mat as a deflate-compressed TIFF.
func WriteTIFF(path string, mat gocv.Mat) error {
	img, err := GrayMatToImage(mat)
	if err != nil {
		return err
	}
	return EncodeTIFF(path, img)
}

// EncodeTIFF writes any Go image as a deflate-compressed TIFF.
func EncodeTIFF(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
