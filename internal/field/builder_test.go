package field

import (
	"math/rand"
	"testing"

	"warpmap/internal/match"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSmoothing() Options {
	opts := DefaultOptions()
	opts.Iterations = 0
	return opts
}

func TestBuildRejectsBadDimensions(t *testing.T) {
	for _, dims := range [][2]int{{0, 10}, {10, 0}, {-3, 5}} {
		res, err := Build(nil, dims[0], dims[1], DefaultOptions())
		assert.ErrorIs(t, err, ErrInvalidDimension, "dims %v", dims)
		assert.Nil(t, res)
	}
}

func TestBuildRejectsBadSmoothing(t *testing.T) {
	opts := DefaultOptions()
	opts.Iterations = -1
	_, err := Build(nil, 4, 4, opts)
	assert.ErrorIs(t, err, ErrInvalidSmoothing)

	opts = DefaultOptions()
	opts.Sigma = 0
	_, err = Build(nil, 4, 4, opts)
	assert.ErrorIs(t, err, ErrInvalidSmoothing)

	// sigma is irrelevant without passes
	opts.Iterations = 0
	_, err = Build(nil, 4, 4, opts)
	assert.NoError(t, err)
}

func TestBuildEmptyIsIdentity(t *testing.T) {
	const w, h = 37, 23
	res, err := Build(nil, w, h, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, w*h, res.Fallback)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			require.Equal(t, float64(x)/w, res.XMap.At(x, y))
			require.Equal(t, float64(y)/h, res.YMap.At(x, y))
			require.Equal(t, 1.0, res.Weight.At(x, y))
		}
	}
}

func TestBuildSingleSampleWithoutSmoothing(t *testing.T) {
	corrs := []match.Correspondence{match.New(10, 10, 14, 8, 0)}

	res, err := Build(corrs, 100, 100, noSmoothing())
	require.NoError(t, err)

	assert.InDelta(t, 0.14, res.XMap.At(10, 10), 1e-12)
	assert.InDelta(t, 0.08, res.YMap.At(10, 10), 1e-12)
	assert.Equal(t, 0.5, res.XMap.At(50, 50))
	assert.Equal(t, 0.25, res.YMap.At(70, 25))
	assert.Equal(t, 1, res.Placed)
	assert.Equal(t, 100*100-1, res.Fallback)
}

func TestBuildDropsOutOfBoundsAnchors(t *testing.T) {
	corrs := []match.Correspondence{
		match.New(-1, 3, 0, 3, 0),    // rounds to x=-1
		match.New(9.6, 0, 10, 0, 0),  // rounds to x=10
		match.New(2, 12.5, 2, 13, 0), // rounds to y=13
		match.New(-0.4, 0, 1.6, 0, 0),
	}

	res, err := Build(corrs, 10, 10, noSmoothing())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Dropped)
	assert.Equal(t, 1, res.Placed)
	assert.InDelta(t, 2.0/10, res.XMap.At(0, 0), 1e-12)
}

func TestBuildCollisionPolicies(t *testing.T) {
	corrs := []match.Correspondence{
		match.New(5.2, 5.1, 7.2, 5.1, 0),
		match.New(4.8, 4.9, 10.8, 4.9, 0),
	}

	res, err := Build(corrs, 20, 20, noSmoothing())
	require.NoError(t, err)
	assert.InDelta(t, (6.0+5)/20, res.XMap.At(5, 5), 1e-12)
	assert.Equal(t, 1, res.Collided)
	assert.Equal(t, 2, res.Placed)

	opts := noSmoothing()
	opts.Collision = CollisionAverage
	res, err = Build(corrs, 20, 20, opts)
	require.NoError(t, err)
	assert.InDelta(t, (4.0+5)/20, res.XMap.At(5, 5), 1e-12)
	assert.Equal(t, 1.0, res.Weight.At(5, 5))
}

func TestBuildWeightNeverZero(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var corrs []match.Correspondence
	for i := 0; i < 12; i++ {
		ax, ay := rng.Float64()*60, rng.Float64()*40
		corrs = append(corrs, match.New(ax, ay, ax+rng.NormFloat64(), ay+rng.NormFloat64(), 0))
	}
	opts := DefaultOptions()
	opts.Sigma = 2
	opts.Iterations = 2

	res, err := Build(corrs, 60, 40, opts)
	require.NoError(t, err)

	ones := 0
	for y := 0; y < 40; y++ {
		for x := 0; x < 60; x++ {
			w := res.Weight.At(x, y)
			require.Greater(t, w, 0.0, "pixel (%d,%d)", x, y)
			if w == 1 {
				ones++
			}
		}
	}
	assert.GreaterOrEqual(t, ones, res.Fallback)
}

func TestBuildInterpolatesBetweenSamples(t *testing.T) {
	corrs := []match.Correspondence{
		match.New(10, 20, 12, 19, 0),
		match.New(50, 20, 46, 23, 0),
	}
	opts := DefaultOptions()
	opts.Sigma = 4
	opts.Iterations = 4

	res, err := Build(corrs, 64, 40, opts)
	require.NoError(t, err)

	for y := 0; y < 40; y++ {
		for x := 0; x < 64; x++ {
			dx := res.XMap.At(x, y)*64 - float64(x)
			dy := res.YMap.At(x, y)*40 - float64(y)
			require.GreaterOrEqual(t, dx, -4-1e-9)
			require.LessOrEqual(t, dx, 2+1e-9)
			require.GreaterOrEqual(t, dy, -1-1e-9)
			require.LessOrEqual(t, dy, 3+1e-9)
		}
	}
	// Each sample dominates its own neighbourhood.
	assert.Greater(t, res.XMap.At(10, 20)*64-10, 0.0)
	assert.Less(t, res.XMap.At(50, 20)*64-50, 0.0)
}

func TestBuildScaleInvariance(t *testing.T) {
	const (
		w, h  = 32, 32
		scale = 2
		// Sampled Gaussian taps do not scale exactly with sigma; at sigma 3
		// against 6 the normalized maps agree to a few thousandths.
		tolerance = 6e-3
	)
	samples := []struct{ ax, ay, dx, dy float64 }{
		{8, 8, 3, -2},
		{20, 12, -4, 1},
		{14, 24, 0.5, 5},
	}
	var base, scaled []match.Correspondence
	for _, s := range samples {
		c := match.New(s.ax, s.ay, s.ax+s.dx, s.ay+s.dy, 0)
		base = append(base, c)
		scaled = append(scaled, c.Scale(scale))
	}

	opts := DefaultOptions()
	opts.Sigma = 3
	opts.Iterations = 3
	r1, err := Build(base, w, h, opts)
	require.NoError(t, err)

	opts.Sigma *= scale
	r2, err := Build(scaled, w*scale, h*scale, opts)
	require.NoError(t, err)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			require.InDelta(t, r1.XMap.At(x, y), r2.XMap.At(x*scale, y*scale), tolerance, "x map at %d,%d", x, y)
			require.InDelta(t, r1.YMap.At(x, y), r2.YMap.At(x*scale, y*scale), tolerance, "y map at %d,%d", x, y)
		}
	}

	// Both maps carry real displacement, not the identity.
	assert.Greater(t, r1.XMap.At(8, 8)*w-8, 1.0)
	assert.Greater(t, r2.XMap.At(16, 16)*w*scale-16, 2.0)
	assert.Less(t, r1.XMap.At(20, 12)*w-20, -1.0)
	assert.Greater(t, r1.YMap.At(14, 24)*h-24, 1.0)
	assert.Greater(t, r2.YMap.At(28, 48)*h*scale-48, 2.0)
}

type countingSmoother struct {
	calls int
}

func (c *countingSmoother) Smooth(f *Field, sigma float64) error {
	c.calls++
	return nil
}

func TestBuildRunsEveryPassOnEveryField(t *testing.T) {
	s := &countingSmoother{}
	opts := DefaultOptions()
	opts.Iterations = 4
	opts.Smoother = s

	_, err := Build([]match.Correspondence{match.New(1, 1, 2, 2, 0)}, 8, 8, opts)
	require.NoError(t, err)
	assert.Equal(t, 12, s.calls)
}

func TestParseCollisionPolicy(t *testing.T) {
	p, ok := ParseCollisionPolicy("average")
	assert.True(t, ok)
	assert.Equal(t, CollisionAverage, p)
	assert.Equal(t, "average", p.String())

	_, ok = ParseCollisionPolicy("sum")
	assert.False(t, ok)
}
