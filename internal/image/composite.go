package image

import (
	"fmt"
	"image"
	"math"
	"sync"

	"warpmap/internal/field"

	"gocv.io/x/gocv"
)

// Residual summarizes the photometric difference between two grayscale
// images over their common area. Values are in gray levels.
type Residual struct {
	MeanAbs float64
	RMS     float64
	Pixels  int
}

// CompareGray compares ref and other over the overlap of their top-left
// aligned bounds. A smaller residual after warping means the maps brought
// the images into register.
func CompareGray(ref, other *image.Gray) (Residual, error) {
	rs, ob := ref.Bounds().Size(), other.Bounds().Size()
	w, h := min(rs.X, ob.X), min(rs.Y, ob.Y)
	if w <= 0 || h <= 0 {
		return Residual{}, fmt.Errorf("no overlap between %v and %v", rs, ob)
	}
	ro, oo := ref.Bounds().Min, other.Bounds().Min

	var mu sync.Mutex
	var sumAbs, sumSq float64
	field.ForEachStripe(h, 0, func(yStart, yEnd int) {
		var a, s float64
		for y := yStart; y < yEnd; y++ {
			for x := 0; x < w; x++ {
				d := float64(ref.GrayAt(x+ro.X, y+ro.Y).Y) - float64(other.GrayAt(x+oo.X, y+oo.Y).Y)
				a += math.Abs(d)
				s += d * d
			}
		}
		mu.Lock()
		sumAbs += a
		sumSq += s
		mu.Unlock()
	})

	n := w * h
	return Residual{
		MeanAbs: sumAbs / float64(n),
		RMS:     math.Sqrt(sumSq / float64(n)),
		Pixels:  n,
	}, nil
}

// CompareMats is CompareGray for 8-bit single-channel Mats.
func CompareMats(ref, other gocv.Mat) (Residual, error) {
	a, err := GrayMatToImage(ref)
	if err != nil {
		return Residual{}, err
	}
	b, err := GrayMatToImage(other)
	if err != nil {
		return Residual{}, err
	}
	return CompareGray(a, b)
}
