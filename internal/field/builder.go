package field

import (
	"errors"
	"fmt"

	"warpmap/internal/match"
	"warpmap/pkg/geometry"
)

var (
	// ErrInvalidDimension reports a non-positive grid width or height.
	ErrInvalidDimension = errors.New("invalid grid dimension")
	// ErrInvalidSmoothing reports a negative pass count or a non-positive
	// sigma with smoothing enabled.
	ErrInvalidSmoothing = errors.New("invalid smoothing parameters")
)

// CollisionPolicy decides what happens when several samples round to the
// same pixel.
type CollisionPolicy int

const (
	// CollisionOverwrite keeps the last sample in input order.
	CollisionOverwrite CollisionPolicy = iota
	// CollisionAverage stores the mean displacement with unit weight.
	CollisionAverage
)

func (p CollisionPolicy) String() string {
	switch p {
	case CollisionOverwrite:
		return "overwrite"
	case CollisionAverage:
		return "average"
	default:
		return "unknown"
	}
}

// ParseCollisionPolicy maps a config name onto a policy.
func ParseCollisionPolicy(name string) (CollisionPolicy, bool) {
	switch name {
	case "", "overwrite":
		return CollisionOverwrite, true
	case "average":
		return CollisionAverage, true
	}
	return CollisionOverwrite, false
}

// Options configures Build.
type Options struct {
	Sigma      float64         // Gaussian standard deviation per pass, pixels
	Iterations int             // Sequential passes; 0 disables smoothing
	Collision  CollisionPolicy // Anchor collision handling
	Smoother   Smoother        // nil uses GaussianSmoother
}

// DefaultOptions returns ten passes of sigma 10 with last-write-wins.
func DefaultOptions() Options {
	return Options{
		Sigma:      10.0,
		Iterations: 10,
		Collision:  CollisionOverwrite,
	}
}

// Result holds the resampling maps and the diagnostics of one build.
type Result struct {
	// XMap and YMap hold the source coordinate of every pixel, divided by
	// the grid width and height respectively.
	XMap, YMap *Field
	// Weight is the diffused confidence after the zero fallback; every
	// value is either accumulated mass or exactly 1.
	Weight *Field

	Placed   int // Samples written to the grid
	Dropped  int // Samples whose anchor fell outside the grid
	Collided int // Samples that landed on an occupied pixel
	Fallback int // Pixels whose weight was replaced by 1
}

// Build diffuses the displacements B - A of corrs, anchored at the rounded
// A positions, into dense resampling maps of width x height pixels.
func Build(corrs []match.Correspondence, width, height int, opts Options) (*Result, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimension, width, height)
	}
	if opts.Iterations < 0 {
		return nil, fmt.Errorf("%w: %d iterations", ErrInvalidSmoothing, opts.Iterations)
	}
	if opts.Iterations > 0 && !(opts.Sigma > 0) {
		return nil, fmt.Errorf("%w: sigma %v", ErrInvalidSmoothing, opts.Sigma)
	}

	xf, _ := NewField(width, height)
	yf, _ := NewField(width, height)
	wf, _ := NewField(width, height)
	res := &Result{}

	splat(corrs, xf, yf, wf, opts.Collision, res)

	smoother := opts.Smoother
	if smoother == nil {
		smoother = GaussianSmoother{}
	}
	for iter := 0; iter < opts.Iterations; iter++ {
		for _, f := range []*Field{xf, yf, wf} {
			if err := smoother.Smooth(f, opts.Sigma); err != nil {
				return nil, fmt.Errorf("smoothing pass %d: %w", iter, err)
			}
		}
	}

	res.Fallback = normalize(xf, yf, wf)
	toResampling(xf, yf)

	res.XMap = xf
	res.YMap = yf
	res.Weight = wf
	return res, nil
}

// splat writes each sample at its rounded anchor pixel.
func splat(corrs []match.Correspondence, xf, yf, wf *Field, policy CollisionPolicy, res *Result) {
	size := xf.Size()
	var counts map[geometry.PointInt]int
	if policy == CollisionAverage {
		counts = make(map[geometry.PointInt]int)
	}

	for _, c := range corrs {
		p := c.A.Round()
		if !size.Contains(p) {
			res.Dropped++
			continue
		}
		d := c.Delta()
		if wf.At(p.X, p.Y) != 0 {
			res.Collided++
		}
		res.Placed++

		switch policy {
		case CollisionAverage:
			n := counts[p] + 1
			counts[p] = n
			// Running mean keeps the stored value a plain displacement.
			xf.Set(p.X, p.Y, xf.At(p.X, p.Y)+(d.X-xf.At(p.X, p.Y))/float64(n))
			yf.Set(p.X, p.Y, yf.At(p.X, p.Y)+(d.Y-yf.At(p.X, p.Y))/float64(n))
		default:
			xf.Set(p.X, p.Y, d.X)
			yf.Set(p.X, p.Y, d.Y)
		}
		wf.Set(p.X, p.Y, 1)
	}
}

// normalize replaces zero weights by 1 and divides the displacement fields
// by the weight. It returns the number of replaced weights.
func normalize(xf, yf, wf *Field) int {
	fallback := 0
	for y := 0; y < wf.Height(); y++ {
		w := wf.Row(y)
		xs := xf.Row(y)
		ys := yf.Row(y)
		for x := range w {
			if w[x] == 0 {
				w[x] = 1
				fallback++
			}
			xs[x] /= w[x]
			ys[x] /= w[x]
		}
	}
	return fallback
}

// toResampling turns displacements into absolute source coordinates scaled
// to the unit square.
func toResampling(xf, yf *Field) {
	width := float64(xf.Width())
	height := float64(xf.Height())
	for by := 0; by < xf.Height(); by++ {
		xs := xf.Row(by)
		ys := yf.Row(by)
		for bx := range xs {
			xs[bx] = (xs[bx] + float64(bx)) / width
			ys[bx] = (ys[bx] + float64(by)) / height
		}
	}
}
