package outlier

import (
	"sort"

	"warpmap/internal/match"

	"gonum.org/v1/gonum/stat"
)

// Quartiles holds the elements at sorted indices n/4, n/2 and 3n/4. Q2 is
// therefore the same value Median returns.
type Quartiles struct {
	Q1, Q2, Q3 float64
}

// Summary describes the raw shift distribution ahead of filtering.
type Summary struct {
	Count int
	X     Quartiles
	Y     Quartiles
	L2    Quartiles // Shift length

	QualityMean   float64 // Matcher distance
	QualityStdDev float64 // Zero with fewer than two matches
}

// Summarize computes shift quartiles and match quality moments of the
// correspondences. The zero Summary is returned for an empty input.
func Summarize(corrs []match.Correspondence) Summary {
	if len(corrs) == 0 {
		return Summary{}
	}
	xs, ys := deltas(corrs)
	l2 := make([]float64, len(corrs))
	quality := make([]float64, len(corrs))
	for i, c := range corrs {
		l2[i] = c.Delta().Norm()
		quality[i] = c.Quality
	}

	s := Summary{
		Count: len(corrs),
		X:     quartiles(xs),
		Y:     quartiles(ys),
		L2:    quartiles(l2),
	}
	if len(quality) < 2 {
		s.QualityMean = quality[0]
	} else {
		s.QualityMean, s.QualityStdDev = stat.MeanStdDev(quality, nil)
	}
	return s
}

func quartiles(values []float64) Quartiles {
	sort.Float64s(values)
	n := len(values)
	return Quartiles{
		Q1: values[n/4],
		Q2: values[n/2],
		Q3: values[3*n/4],
	}
}
