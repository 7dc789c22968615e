// Package outlier rejects correspondences whose displacement is a
// statistical outlier, using a per-axis median / MAD test.
//
// The median used throughout is the single middle element sorted[n/2] of
// the sorted values. For an even count that is the upper of the two central
// values, not their average. Thresholds are tuned against this convention.
package outlier

import (
	"math"
	"sort"

	"warpmap/internal/match"
)

// ZeroMADPolicy decides how an axis with zero dispersion is tested.
type ZeroMADPolicy int

const (
	// ZeroMADStrict keeps only samples exactly equal to the median on an
	// axis whose MAD is zero.
	ZeroMADStrict ZeroMADPolicy = iota
	// ZeroMADIgnoreAxis skips the test on an axis whose MAD is zero.
	ZeroMADIgnoreAxis
)

func (p ZeroMADPolicy) String() string {
	switch p {
	case ZeroMADStrict:
		return "strict"
	case ZeroMADIgnoreAxis:
		return "ignore-axis"
	default:
		return "unknown"
	}
}

// ParseZeroMADPolicy maps a config name onto a policy.
func ParseZeroMADPolicy(name string) (ZeroMADPolicy, bool) {
	switch name {
	case "", "strict":
		return ZeroMADStrict, true
	case "ignore-axis":
		return ZeroMADIgnoreAxis, true
	}
	return ZeroMADStrict, false
}

// Options configures the filter.
type Options struct {
	K        float64       // Acceptance half-width in robust sigmas
	MADScale float64       // MAD to sigma factor under Gaussian noise
	ZeroMAD  ZeroMADPolicy // Behaviour on a zero-dispersion axis
}

// DefaultOptions returns a two-sigma test with the Gaussian MAD constant.
func DefaultOptions() Options {
	return Options{
		K:        2.0,
		MADScale: 1.4826,
		ZeroMAD:  ZeroMADStrict,
	}
}

// AxisStats holds the robust location and dispersion of one axis.
type AxisStats struct {
	Median float64
	MAD    float64
}

// Stats describes one filtering pass.
type Stats struct {
	X, Y   AxisStats
	Input  int
	Kept   int
	Bounds [2]float64 // Accepted |dx - median|, |dy - median|
}

// CombinedMAD returns the L2 combination of both axes' MAD.
func (s Stats) CombinedMAD() float64 {
	return math.Hypot(s.X.MAD, s.Y.MAD)
}

// Median returns sorted(values)[n/2] without modifying values.
// It returns 0 for an empty input.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

// ComputeAxisStats returns the median and the median absolute deviation
// of values.
func ComputeAxisStats(values []float64) AxisStats {
	if len(values) == 0 {
		return AxisStats{}
	}
	med := Median(values)
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - med)
	}
	return AxisStats{Median: med, MAD: Median(dev)}
}

// ComputeStats computes per-axis statistics of the displacements B - A.
func ComputeStats(corrs []match.Correspondence) Stats {
	xs, ys := deltas(corrs)
	return Stats{
		X:     ComputeAxisStats(xs),
		Y:     ComputeAxisStats(ys),
		Input: len(corrs),
	}
}

// FilterIndices returns the input indices of the good correspondences, in
// input order, and the statistics of the pass.
func FilterIndices(corrs []match.Correspondence, opts Options) ([]int, Stats) {
	stats := ComputeStats(corrs)
	if len(corrs) == 0 {
		return []int{}, stats
	}

	boundX := opts.K * opts.MADScale * stats.X.MAD
	boundY := opts.K * opts.MADScale * stats.Y.MAD
	stats.Bounds = [2]float64{boundX, boundY}

	kept := make([]int, 0, len(corrs))
	for i, c := range corrs {
		d := c.Delta()
		if !accept(d.X, stats.X, boundX, opts.ZeroMAD) {
			continue
		}
		if !accept(d.Y, stats.Y, boundY, opts.ZeroMAD) {
			continue
		}
		kept = append(kept, i)
	}
	stats.Kept = len(kept)
	return kept, stats
}

// Filter returns the good correspondences in input order.
func Filter(corrs []match.Correspondence, opts Options) ([]match.Correspondence, Stats) {
	idx, stats := FilterIndices(corrs, opts)
	good := make([]match.Correspondence, len(idx))
	for i, j := range idx {
		good[i] = corrs[j]
	}
	return good, stats
}

func accept(v float64, axis AxisStats, bound float64, policy ZeroMADPolicy) bool {
	if axis.MAD == 0 && policy == ZeroMADIgnoreAxis {
		return true
	}
	return math.Abs(v-axis.Median) <= bound
}

func deltas(corrs []match.Correspondence) (xs, ys []float64) {
	xs = make([]float64, len(corrs))
	ys = make([]float64, len(corrs))
	for i, c := range corrs {
		d := c.Delta()
		xs[i] = d.X
		ys[i] = d.Y
	}
	return xs, ys
}
