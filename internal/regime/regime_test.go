package regime

import (
	"math"
	"math/rand"
	"testing"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/aristath/rstarengine/internal/panel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPanel(t *testing.T, n int, calmVIX, stressVIX float64, switchAt int) *panel.Panel {
	t.Helper()
	months := make([]int, n)
	src := rand.New(rand.NewSource(7))
	cols := map[string][]float64{
		ColDXY:     make([]float64, n),
		ColVIX:     make([]float64, n),
		ColUST10Y:  make([]float64, n),
		ColUSHYOAS: make([]float64, n),
		ColBCOM:    make([]float64, n),
		ColEWZ:     make([]float64, n),

		ColCDS:        make([]float64, n),
		ColUSDBRLSpot: make([]float64, n),
		ColDebtToGDP:  make([]float64, n),
		ColREER:       make([]float64, n),
		ColDI1Y:       make([]float64, n),
		ColDI10Y:      make([]float64, n),
	}
	dxy, bcom, ewz, spot, reer := 100.0, 200.0, 30.0, 5.0, 95.0
	for i := 0; i < n; i++ {
		months[i] = i
		vix := calmVIX
		if i >= switchAt {
			vix = stressVIX
		}
		dxy *= 1 + 0.001*src.NormFloat64()
		bcom *= 1 + 0.001*src.NormFloat64()
		ewz *= 1 + 0.001*src.NormFloat64()
		spot *= 1 + 0.001*src.NormFloat64()
		reer += 0.01 * src.NormFloat64()

		cols[ColDXY][i] = dxy
		cols[ColVIX][i] = vix
		cols[ColUST10Y][i] = 0.04 + 0.001*src.NormFloat64()
		cols[ColUSHYOAS][i] = 3.5 + 0.1*src.NormFloat64()
		cols[ColBCOM][i] = bcom
		cols[ColEWZ][i] = ewz

		cols[ColCDS][i] = 200 + 10*src.NormFloat64()
		cols[ColUSDBRLSpot][i] = spot
		cols[ColDebtToGDP][i] = 78 + 0.05*float64(i)
		cols[ColREER][i] = reer
		cols[ColDI1Y][i] = 0.12
		cols[ColDI10Y][i] = 0.12
	}
	p, err := panel.New(months, cols)
	require.NoError(t, err)
	return p
}

func TestStepProducesNormalisedProbabilities(t *testing.T) {
	p := buildPanel(t, 96, 14, 14, 200)
	eng := NewEngine(zerolog.Nop(), 12)
	res, err := eng.Step(p)
	require.NoError(t, err)

	n := p.Len()
	for i := 0; i < n; i++ {
		sum := res.Global[config.RegimeCarry][i] + res.Global[config.RegimeRiskOff][i] + res.Global[config.RegimeStress][i]
		assert.InDelta(t, 1.0, sum, 1e-6)
		sumD := res.Domestic[config.DomesticCalm][i] + res.Domestic[config.DomesticStress][i]
		assert.InDelta(t, 1.0, sumD, 1e-6)
	}
}

func TestMissingColumnsFallBackToUniform(t *testing.T) {
	months := []int{0, 1, 2}
	cols := map[string][]float64{ColVIX: {12, 13, 14}}
	p, err := panel.New(months, cols)
	require.NoError(t, err)

	eng := NewEngine(zerolog.Nop(), 12)
	res, err := eng.Step(p)
	require.NoError(t, err)
	assert.True(t, res.GlobalFallback)
	assert.True(t, res.DomesticFallback)
	for _, v := range res.Global[config.RegimeCarry] {
		assert.InDelta(t, 1.0/3, v, 1e-9)
	}
}

func TestRefitCadenceHonoured(t *testing.T) {
	p := buildPanel(t, 60, 14, 14, 1000)
	eng := NewEngine(zerolog.Nop(), 12)
	_, err := eng.Step(p)
	require.NoError(t, err)
	firstFitMonth := eng.globalFitMonth

	p2 := buildPanel(t, 61, 14, 14, 1000)
	_, err = eng.Step(p2)
	require.NoError(t, err)
	assert.Equal(t, firstFitMonth, eng.globalFitMonth, "refit should not occur before cadence elapses")
}

func TestGaussianHMMFitConverges(t *testing.T) {
	src := rand.New(rand.NewSource(3))
	obs := make([][]float64, 200)
	for i := range obs {
		mean := 0.0
		if i >= 100 {
			mean = 5.0
		}
		obs[i] = []float64{mean + src.NormFloat64(), mean + src.NormFloat64()}
	}
	m := newGaussianHMM(2, 2)
	err := m.fit(obs, emMaxIter, emTol)
	require.NoError(t, err)
	gamma, err := m.stateProbabilities(obs)
	require.NoError(t, err)
	// the two halves should be dominated by different states
	avgFirst := gamma[10][0]
	avgSecond := gamma[190][0]
	assert.True(t, math.Abs(avgFirst-avgSecond) > 0.3)
}
