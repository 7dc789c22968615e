package field

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/anthonynsimon/bild/convolution"
)

// Smoother blurs a field in place with an isotropic Gaussian of standard
// deviation sigma.
type Smoother interface {
	Smooth(f *Field, sigma float64) error
}

// KernelSize returns the tap count OpenCV picks for a floating-point image
// when only sigma is given: round(8*sigma + 1), forced odd.
func KernelSize(sigma float64) int {
	return int(math.RoundToEven(sigma*8+1)) | 1
}

// GaussianKernel1D returns normalized Gaussian taps of length
// KernelSize(sigma), centred on the middle tap.
func GaussianKernel1D(sigma float64) []float64 {
	n := KernelSize(sigma)
	k := convolution.NewKernel(n, 1)
	half := float64(n / 2)
	sfactor := -0.5 / (sigma * sigma)
	for i := 0; i < n; i++ {
		x := float64(i) - half
		k.Matrix[i] = math.Exp(sfactor * x * x)
	}

	norm := k.Normalized()
	taps := make([]float64, n)
	for i := range taps {
		taps[i] = norm.At(i, 0)
	}
	return taps
}

// reflect101 maps an out-of-range index back into [0, n) by mirroring
// about the edge pixels without repeating them (gfedcb|abcdefgh|gfedcba).
// Kernels wider than the field are folded repeatedly.
func reflect101(p, n int) int {
	if n == 1 {
		return 0
	}
	for p < 0 || p >= n {
		if p < 0 {
			p = -p
		} else {
			p = 2*n - 2 - p
		}
	}
	return p
}

// GaussianSmoother is a separable Gaussian blur with reflect-101 borders.
// Each pass is split into horizontal stripes processed concurrently.
type GaussianSmoother struct {
	Workers int // Concurrent stripes; <= 0 uses runtime.NumCPU
}

// Smooth blurs f in place.
func (g GaussianSmoother) Smooth(f *Field, sigma float64) error {
	if sigma <= 0 || math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		return fmt.Errorf("%w: sigma %v", ErrInvalidSmoothing, sigma)
	}

	taps := GaussianKernel1D(sigma)
	radius := len(taps) / 2
	w, h := f.Width(), f.Height()

	// Source column of every (x, tap) pair, shared by all rows.
	cols := make([]int, w*len(taps))
	for x := 0; x < w; x++ {
		for k := range taps {
			cols[x*len(taps)+k] = reflect101(x+k-radius, w)
		}
	}

	tmp, err := NewField(w, h)
	if err != nil {
		return err
	}

	// Horizontal pass: f -> tmp
	ForEachStripe(h, g.Workers, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			src := f.Row(y)
			dst := tmp.Row(y)
			for x := 0; x < w; x++ {
				idx := cols[x*len(taps) : (x+1)*len(taps)]
				var sum float64
				for k, t := range taps {
					sum += t * src[idx[k]]
				}
				dst[x] = sum
			}
		}
	})

	// Vertical pass: tmp -> f
	ForEachStripe(h, g.Workers, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			dst := f.Row(y)
			for x := range dst {
				dst[x] = 0
			}
			for k, t := range taps {
				src := tmp.Row(reflect101(y+k-radius, h))
				for x, v := range src {
					dst[x] += t * v
				}
			}
		}
	})

	return nil
}

// ForEachStripe splits [0, rows) into contiguous row ranges and runs fn on
// them concurrently, returning when all are done. workers <= 0 uses one
// stripe per CPU.
func ForEachStripe(rows, workers int, fn func(yStart, yEnd int)) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers == 1 || rows < 2 {
		fn(0, rows)
		return
	}
	rowsPerWorker := (rows + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		startY := w * rowsPerWorker
		if startY >= rows {
			break
		}
		endY := min(startY+rowsPerWorker, rows)

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			fn(yStart, yEnd)
		}(startY, endY)
	}
	wg.Wait()
}
