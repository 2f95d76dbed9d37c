package series

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWinsorisePassthroughBelowTen(t *testing.T) {
	xs := []float64{1, 2, 3, 100, -100}
	out := Winsorise(xs, 0.05, 0.95)
	assert.Equal(t, xs, out)
}

func TestWinsoriseClips(t *testing.T) {
	xs := make([]float64, 100)
	for i := range xs {
		xs[i] = float64(i)
	}
	xs[99] = 10000
	out := Winsorise(xs, 0.05, 0.95)
	assert.Less(t, out[99], 10000.0)
	// the empirical 5% quantile of these 100 values is 4, so 0 is raised to it
	assert.Equal(t, 4.0, out[0])
}

func TestWinsorisePreservesNaN(t *testing.T) {
	xs := make([]float64, 20)
	for i := range xs {
		xs[i] = float64(i)
	}
	xs[5] = math.NaN()
	out := Winsorise(xs, 0.05, 0.95)
	assert.True(t, math.IsNaN(out[5]))
}

// TestZScoreRollingStationary is §8 invariant 5: rolling z-scores have
// mean ~0 and std ~1 over a full rolling window of truly stationary
// (AR(0), i.e. i.i.d.) synthetic data.
func TestZScoreRollingStationary(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	n := 600
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = rng.NormFloat64()
	}

	z := ZScoreRolling(xs, 60, 0.5)

	// Use the tail, once the rolling window is always fully populated
	// and winsorisation noise has settled.
	tail := z[300:]
	valid := make([]float64, 0, len(tail))
	for _, v := range tail {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	require.Greater(t, len(valid), 100)

	var mean, sq float64
	for _, v := range valid {
		mean += v
	}
	mean /= float64(len(valid))
	for _, v := range valid {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(len(valid)))

	assert.InDelta(t, 0.0, mean, 0.35)
	assert.InDelta(t, 1.0, std, 0.35)
}

func TestZScoreRollingMinimumPeriods(t *testing.T) {
	xs := make([]float64, 10)
	for i := range xs {
		xs[i] = float64(i)
	}
	z := ZScoreRolling(xs, 60, 0.5)
	for _, v := range z {
		assert.True(t, math.IsNaN(v))
	}
}

func TestDiff12(t *testing.T) {
	xs := make([]float64, 24)
	for i := range xs {
		xs[i] = float64(i)
	}
	d := Diff12(xs)
	for i := 0; i < 12; i++ {
		assert.True(t, math.IsNaN(d[i]))
	}
	assert.InDelta(t, 12.0, d[12], 1e-9)
	assert.InDelta(t, 12.0, d[23], 1e-9)
}

func TestLogReturnNaNPropagation(t *testing.T) {
	xs := []float64{1, 2, math.NaN(), 4}
	r := LogReturn(xs)
	assert.True(t, math.IsNaN(r[0]))
	assert.False(t, math.IsNaN(r[1]))
	assert.True(t, math.IsNaN(r[2]))
	assert.True(t, math.IsNaN(r[3])) // depends on prior NaN
}
