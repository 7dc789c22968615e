// Package features detects keypoints in two images and matches their binary
// descriptors into point correspondences.
package features

import (
	"fmt"

	"warpmap/internal/match"

	"gocv.io/x/gocv"
)

// Params configures the ORB detector.
type Params struct {
	MaxFeatures   int
	ScaleFactor   float64
	Levels        int
	EdgeThreshold int
	PatchSize     int
	FastThreshold int
}

// DefaultParams returns OpenCV's ORB defaults with a larger feature budget.
func DefaultParams() Params {
	return Params{
		MaxFeatures:   5000,
		ScaleFactor:   1.2,
		Levels:        8,
		EdgeThreshold: 31,
		PatchSize:     31,
		FastThreshold: 20,
	}
}

// Matcher detects, describes and brute-force matches keypoints.
// It owns OpenCV resources; call Close when done.
type Matcher struct {
	orb gocv.ORB
	bf  gocv.BFMatcher
}

// Detection is the outcome of one Match call.
type Detection struct {
	KeypointsA int
	KeypointsB int
	Matches    []match.Correspondence
}

// NewMatcher creates a Matcher.
func NewMatcher(p Params) *Matcher {
	return &Matcher{
		orb: gocv.NewORBWithParams(p.MaxFeatures, float32(p.ScaleFactor), p.Levels,
			p.EdgeThreshold, 0, 2, gocv.ORBScoreTypeHarris, p.PatchSize, p.FastThreshold),
		bf: gocv.NewBFMatcherWithParams(gocv.NormHamming, false),
	}
}

// Close releases the OpenCV objects.
func (m *Matcher) Close() error {
	if err := m.orb.Close(); err != nil {
		return err
	}
	return m.bf.Close()
}

// Match pairs every descriptor of a with its nearest descriptor in b by
// Hamming distance. Point A of each correspondence lies in a, point B in b,
// and Quality is the descriptor distance.
func (m *Matcher) Match(a, b gocv.Mat) (*Detection, error) {
	if a.Empty() || b.Empty() {
		return nil, fmt.Errorf("empty input image")
	}

	mask := gocv.NewMat()
	defer mask.Close()

	kpA, descA := m.orb.DetectAndCompute(a, mask)
	defer descA.Close()
	kpB, descB := m.orb.DetectAndCompute(b, mask)
	defer descB.Close()

	det := &Detection{KeypointsA: len(kpA), KeypointsB: len(kpB)}
	if descA.Empty() || descB.Empty() {
		det.Matches = []match.Correspondence{}
		return det, nil
	}

	knn := m.bf.KnnMatch(descA, descB, 1)
	det.Matches = make([]match.Correspondence, 0, len(knn))
	for _, candidates := range knn {
		if len(candidates) == 0 {
			continue
		}
		dm := candidates[0]
		if dm.QueryIdx < 0 || dm.QueryIdx >= len(kpA) || dm.TrainIdx < 0 || dm.TrainIdx >= len(kpB) {
			return nil, fmt.Errorf("matcher returned out-of-range indices %d/%d", dm.QueryIdx, dm.TrainIdx)
		}
		pa := kpA[dm.QueryIdx]
		pb := kpB[dm.TrainIdx]
		det.Matches = append(det.Matches, match.New(pa.X, pa.Y, pb.X, pb.Y, dm.Distance))
	}
	return det, nil
}
