package equilibrium

import (
	"math"
	"testing"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/aristath/rstarengine/internal/panel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPanel(t *testing.T, n int) *panel.Panel {
	t.Helper()
	months := make([]int, n)
	for i := range months {
		months[i] = i
	}
	cols := map[string][]float64{}
	fill := func(name string, v float64) {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = v
		}
		cols[name] = vals
	}
	fill(ColCDI, 0.12)
	fill(ColInflExp12M, 0.04)
	fill(ColInfl12M, 0.045)
	fill(ColDebtToGDP, 78.0)
	fill(ColPrimaryBal, -1.5)
	fill(ColCDS, 215.0)
	fill(ColEMBI, 215.0)
	fill(ColUSTIPS5Y, 0.018)
	fill(ColUSTIPS10Y, 0.02)
	fill(ColVIX, 16.0)
	fill(ColIBC, 140.0)
	fill(ColTermsOfTrade, 100.0)
	fill(ColDI3M, 0.12)
	fill(ColDI6M, 0.12)
	fill(ColDI1Y, 0.12)
	fill(ColDI2Y, 0.12)
	fill(ColDI5Y, 0.12)

	p, err := panel.New(months, cols)
	require.NoError(t, err)
	return p
}

func TestBuildClipsEveryModelIntoRange(t *testing.T) {
	p := seedPanel(t, 96)
	priors := config.Default().Priors
	est := NewEstimator(zerolog.Nop(), priors)

	res, err := est.Build(p, nil, false)
	require.NoError(t, err)

	for name, m := range res.Models {
		for i, v := range m.RStar {
			if math.IsNaN(v) {
				continue
			}
			assert.GreaterOrEqual(t, v, clipLo, "model %s at %d", name, i)
			assert.LessOrEqual(t, v, clipHi, "model %s at %d", name, i)
		}
	}
}

func TestCompositeFallsBackToNeutralWeightsWhenRegimeUnknown(t *testing.T) {
	p := seedPanel(t, 72)
	priors := config.Default().Priors
	est := NewEstimator(zerolog.Nop(), priors)

	res, err := est.Build(p, nil, false)
	require.NoError(t, err)
	require.NotEmpty(t, res.Composite)

	tail := res.Composite[len(res.Composite)-1]
	assert.False(t, math.IsNaN(tail))
}

func TestSecondPassAddsRegimeModel(t *testing.T) {
	p := seedPanel(t, 96)
	priors := config.Default().Priors
	est := NewEstimator(zerolog.Nop(), priors)

	rw := RegimeWeights{
		Carry:   make([]float64, 96),
		RiskOff: make([]float64, 96),
		Stress:  make([]float64, 96),
	}
	for i := range rw.Carry {
		rw.Carry[i] = 0.8
		rw.RiskOff[i] = 0.15
		rw.Stress[i] = 0.05
	}

	res, err := est.Build(p, &rw, true)
	require.NoError(t, err)
	_, ok := res.Models["regime"]
	assert.True(t, ok)
}

func TestInflationTargetScheduleIsFractionScale(t *testing.T) {
	start := inflationTargetSchedule(0)
	end := inflationTargetSchedule(500)
	assert.InDelta(t, 0.045, start, 1e-9)
	assert.InDelta(t, 0.030, end, 1e-9)
	assert.Less(t, end, start)
}

// TestSelicStarAppliesInflationGapAtFractionScale pins down §4.5's Taylor
// term by zeroing out the composite and output-gap contributions and
// checking the inflation-gap term lands at fraction scale: a naive
// percent/fraction mix-up here previously shifted SelicStar by several
// percentage points silently.
func TestSelicStarAppliesInflationGapAtFractionScale(t *testing.T) {
	n := 12
	months := make([]int, n)
	for i := range months {
		months[i] = i
	}
	cols := map[string][]float64{}
	fill := func(name string, v float64) {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = v
		}
		cols[name] = vals
	}
	fill(ColInflExp12M, 0.04)
	fill(ColInfl12M, 0.06) // 6% trailing inflation, above the 4.5% glide-path start
	fill(ColIBC, 140.0)    // constant -> rolling mean matches exactly, outputGap == 0

	p, err := panel.New(months, cols)
	require.NoError(t, err)

	composite := make([]float64, n) // zeroed so only the Taylor terms show up
	rw := RegimeWeights{Carry: make([]float64, n), RiskOff: make([]float64, n), Stress: make([]float64, n)}
	for i := range rw.Carry {
		rw.Carry[i] = 1.0 // pure carry regime: alpha=1.0, beta=0.3
	}

	est := NewEstimator(zerolog.Nop(), config.Default().Priors)
	out := est.selicStar(p, composite, rw)

	// piTarget(0) == 0.045 (glide-path start); inflGap = 0.06 - 0.045 = 0.015
	// (fraction scale), alpha*inflGap == 0.015; out = 0 + piExp + inflGap term.
	assert.InDelta(t, 0.04+0.015, out[0], 1e-9)
}

func TestFiscalAugmentedPublishesDecomposition(t *testing.T) {
	p := seedPanel(t, 96)
	priors := config.Default().Priors
	est := NewEstimator(zerolog.Nop(), priors)

	res, err := est.Build(p, nil, false)
	require.NoError(t, err)
	fiscal, ok := res.Models["fiscal"]
	require.True(t, ok)
	assert.Contains(t, fiscal.Decomposition, "base")
	assert.Contains(t, fiscal.Decomposition, "fiscal")
	assert.Contains(t, fiscal.Decomposition, "sovereign")
}
