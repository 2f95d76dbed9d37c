package features

import (
	"math"
	"testing"

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
	fill(ColUSDBRLSpot, 5.0)
	fill(ColPPPFactor, 2.5)
	fill(ColGDPPcRatio, 4.0)
	fill(ColREER, 100.0)
	fill(ColCurrentAcctGDP, -0.02)
	fill(ColTradeOpenness, 0.25)
	fill(ColTermsOfTrade, 100.0)
	fill(ColCA12M, -0.02)
	fill(ColIBC, 140.0)
	fill(ColRealDiff, 0.0)
	fill(ColDI1Y, 0.12)
	fill(ColDI5Y, 0.12)
	fill(ColDI10Y, 0.12)
	fill(ColCDI, 0.12)
	fill(ColUSBreakeven10Y, 0.025)
	fill(ColUSCPIExpect, 0.022)
	fill(ColUST10Y, 0.04)
	fill(ColCDS, 215.0)
	fill(ColPrimaryBalance, -1.5)
	fill(ColDebtToGDP, 78.0)

	p, err := panel.New(months, cols)
	require.NoError(t, err)
	return p
}

func TestBuildProducesFXValuation(t *testing.T) {
	p := seedPanel(t, 96)
	eng := NewEngine(zerolog.Nop())
	out, err := eng.Build(p)
	require.NoError(t, err)

	fv := out.Column(ColFXFairValue)
	require.NotNil(t, fv)
	for i := 70; i < len(fv); i++ {
		assert.False(t, math.IsNaN(fv[i]))
		assert.Greater(t, fv[i], 0.0)
	}
}

func TestTermStructureSlopeFlatWhenCurveFlat(t *testing.T) {
	p := seedPanel(t, 48)
	eng := NewEngine(zerolog.Nop())
	out, err := eng.Build(p)
	require.NoError(t, err)

	slope := out.Column(ColTermPremiumSlope)
	require.NotNil(t, slope)
	for i, v := range slope {
		if i == 0 {
			continue
		}
		assert.InDelta(t, 0.0, v, 1e-9)
	}
}

func TestMissingInputsSkipColumnsWithoutError(t *testing.T) {
	months := make([]int, 24)
	for i := range months {
		months[i] = i
	}
	cols := map[string][]float64{
		ColUSDBRLSpot: make([]float64, 24),
	}
	p, err := panel.New(months, cols)
	require.NoError(t, err)

	eng := NewEngine(zerolog.Nop())
	out, err := eng.Build(p)
	require.NoError(t, err)
	assert.Nil(t, out.Column(ColZBeer))
	assert.Nil(t, out.Column(ColFiscalPremium))
}

func TestFiscalPremiumFormula(t *testing.T) {
	p := seedPanel(t, 36)
	eng := NewEngine(zerolog.Nop())
	out, err := eng.Build(p)
	require.NoError(t, err)

	fp := out.Column(ColFiscalPremium)
	require.NotNil(t, fp)
	// (0.12-0.04) - 215/100 = 0.08 - 2.15 = -2.07
	for i := 1; i < len(fp); i++ {
		assert.InDelta(t, -2.07, fp[i], 1e-9)
	}
}
