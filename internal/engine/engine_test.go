package engine

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

// buildSyntheticPanel assembles every raw.* column the feature,
// equilibrium and regime packages read, plus the six ret.* instrument
// return columns, as a single deterministic synthetic dataset spanning n
// months. Values are mild random walks/levels around plausible magnitudes
// so every package's NaN-tolerant column checks pass (none of these
// columns is ever entirely absent here).
func buildSyntheticPanel(t *testing.T, n int, seed int64) *panel.Panel {
	t.Helper()
	months := make([]int, n)
	src := rand.New(rand.NewSource(seed))

	cols := map[string][]float64{}
	fillConst := func(name string, v float64) {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = v
		}
		cols[name] = vals
	}
	fillConst("raw.ppp_factor", 4.0)
	fillConst("raw.gdp_pc_ratio", 1.2)
	fillConst("raw.current_account_pct_gdp", -0.02)
	fillConst("raw.trade_openness", 0.3)
	fillConst("raw.terms_of_trade", 100.0)
	fillConst("raw.current_account_12m", -0.02)
	fillConst("raw.us_breakeven_10y", 0.022)
	fillConst("raw.us_cpi_expectations", 0.025)
	fillConst("raw.primary_balance", -1.5)
	fillConst("raw.debt_to_gdp", 78.0)
	fillConst("raw.ipca_expectations_12m", 0.04)
	fillConst("raw.ipca_12m", 0.045)
	fillConst("raw.embi", 215.0)
	fillConst("raw.us_tips_5y", 0.018)
	fillConst("raw.us_tips_10y", 0.02)
	fillConst("raw.us_hy_oas", 3.5)

	spot, dxy, bcom, ewz, reer, ibc := 5.0, 100.0, 200.0, 30.0, 95.0, 140.0
	cdi, di3m, di6m, di1y, di2y, di5y, di10y := 0.12, 0.115, 0.118, 0.12, 0.121, 0.123, 0.125
	cds, vix, ust2y, ust10y := 215.0, 16.0, 0.045, 0.042
	embi := 215.0
	realYield5y := 5.5

	seriesSpot := make([]float64, n)
	seriesDXY := make([]float64, n)
	seriesBCOM := make([]float64, n)
	seriesEWZ := make([]float64, n)
	seriesREER := make([]float64, n)
	seriesIBC := make([]float64, n)
	seriesCDI := make([]float64, n)
	seriesDI3M := make([]float64, n)
	seriesDI6M := make([]float64, n)
	seriesDI1Y := make([]float64, n)
	seriesDI2Y := make([]float64, n)
	seriesDI5Y := make([]float64, n)
	seriesDI10Y := make([]float64, n)
	seriesCDS := make([]float64, n)
	seriesVIX := make([]float64, n)
	seriesUST2Y := make([]float64, n)
	seriesUST10Y := make([]float64, n)
	seriesEMBI := make([]float64, n)
	seriesRealYield5Y := make([]float64, n)
	seriesRealDiff := make([]float64, n)
	seriesCupom30 := make([]float64, n)

	for i := 0; i < n; i++ {
		months[i] = i
		spot *= 1 + 0.002*src.NormFloat64()
		dxy *= 1 + 0.001*src.NormFloat64()
		bcom *= 1 + 0.001*src.NormFloat64()
		ewz *= 1 + 0.001*src.NormFloat64()
		reer += 0.01 * src.NormFloat64()
		ibc *= 1 + 0.001*src.NormFloat64()
		cdi += 0.0002 * src.NormFloat64()
		di3m += 0.0002 * src.NormFloat64()
		di6m += 0.0002 * src.NormFloat64()
		di1y += 0.0002 * src.NormFloat64()
		di2y += 0.0002 * src.NormFloat64()
		di5y += 0.0002 * src.NormFloat64()
		di10y += 0.0002 * src.NormFloat64()
		cds += 2 * src.NormFloat64()
		vix += 0.3 * src.NormFloat64()
		if vix < 8 {
			vix = 8
		}
		ust2y += 0.0001 * src.NormFloat64()
		ust10y += 0.0001 * src.NormFloat64()
		embi += 2 * src.NormFloat64()
		realYield5y += 0.01 * src.NormFloat64()

		seriesSpot[i] = spot
		seriesDXY[i] = dxy
		seriesBCOM[i] = bcom
		seriesEWZ[i] = ewz
		seriesREER[i] = reer
		seriesIBC[i] = ibc
		seriesCDI[i] = cdi
		seriesDI3M[i] = di3m
		seriesDI6M[i] = di6m
		seriesDI1Y[i] = di1y
		seriesDI2Y[i] = di2y
		seriesDI5Y[i] = di5y
		seriesDI10Y[i] = di10y
		seriesCDS[i] = cds
		seriesVIX[i] = vix
		seriesUST2Y[i] = ust2y
		seriesUST10Y[i] = ust10y
		seriesEMBI[i] = embi
		seriesRealYield5Y[i] = realYield5y
		seriesRealDiff[i] = di1y - cdi
		seriesCupom30[i] = ust2y + 0.01
	}

	cols["raw.usdbrl_spot"] = seriesSpot
	cols["raw.dxy"] = seriesDXY
	cols["raw.bcom"] = seriesBCOM
	cols["raw.ewz"] = seriesEWZ
	cols["raw.reer"] = seriesREER
	cols["raw.ibc_br"] = seriesIBC
	cols["raw.cdi"] = seriesCDI
	cols["raw.di_3m"] = seriesDI3M
	cols["raw.di_6m"] = seriesDI6M
	cols["raw.di_1y"] = seriesDI1Y
	cols["raw.di_2y"] = seriesDI2Y
	cols["raw.di_5y"] = seriesDI5Y
	cols["raw.di_10y"] = seriesDI10Y
	cols["raw.cds_5y"] = seriesCDS
	cols["raw.vix"] = seriesVIX
	cols["raw.ust_2y"] = seriesUST2Y
	cols["raw.ust_10y"] = seriesUST10Y
	cols["raw.embi"] = seriesEMBI
	cols["raw.real_yield_5y"] = seriesRealYield5Y
	cols["raw.real_rate_diff"] = seriesRealDiff
	cols["raw.cupom_cambial_30d"] = seriesCupom30
	cols["raw.us_hy_oas"] = fillSeries(n, 3.5, 0.05, src)

	cols["ret.fx"] = pctNoise(n, 0.0, 0.02, src)
	cols["ret.front"] = pctNoise(n, 0.001, 0.01, src)
	cols["ret.belly"] = pctNoise(n, 0.001, 0.015, src)
	cols["ret.long"] = pctNoise(n, 0.001, 0.02, src)
	cols["ret.hard"] = pctNoise(n, 0.0005, 0.015, src)
	cols["ret.ntnb"] = pctNoise(n, 0.0008, 0.012, src)

	p, err := panel.New(months, cols)
	require.NoError(t, err)
	return p
}

func fillSeries(n int, base, sigma float64, src *rand.Rand) []float64 {
	out := make([]float64, n)
	v := base
	for i := range out {
		v += sigma * src.NormFloat64()
		out[i] = v
	}
	return out
}

func pctNoise(n int, mean, sigma float64, src *rand.Rand) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + sigma*src.NormFloat64()
	}
	return out
}

func newTestEngine(t *testing.T, p *panel.Panel) *Engine {
	t.Helper()
	eng, err := New(zerolog.Nop(), config.Default(), p, "")
	require.NoError(t, err)
	return eng
}

func flatWeights() map[config.Instrument]float64 {
	out := map[config.Instrument]float64{}
	for _, inst := range config.Instruments {
		out[inst] = 0
	}
	return out
}

func flatIC() map[config.Instrument]float64 {
	out := map[config.Instrument]float64{}
	for _, inst := range config.Instruments {
		out[inst] = 0.05
	}
	return out
}

func TestStepProducesFiniteWeightsWithinLimits(t *testing.T) {
	p := buildSyntheticPanel(t, 100, 1)
	eng := newTestEngine(t, p)
	cfg := config.Default()

	result, err := eng.Step(80, flatWeights(), 0.0, 0.08, flatIC())
	require.NoError(t, err)

	for _, inst := range config.Instruments {
		w, ok := result.Weights[inst]
		require.True(t, ok, "missing weight for %s", inst)
		assert.False(t, math.IsNaN(w), "weight for %s is NaN", inst)
		lim := cfg.PositionLimits[inst]
		// Overlays can only shrink magnitude further, so the raw
		// optimiser bound is a safe outer envelope.
		assert.GreaterOrEqual(t, w, lim.Lower-1e-9)
		assert.LessOrEqual(t, w, lim.Upper+1e-9)
	}

	var globalSum float64
	for _, p := range result.GlobalRegimeProbs {
		globalSum += p
	}
	assert.InDelta(t, 1.0, globalSum, 1e-6)
}

func TestStepIsDeterministicForSameInputs(t *testing.T) {
	p := buildSyntheticPanel(t, 90, 2)

	eng1 := newTestEngine(t, p)
	r1, err := eng1.Step(70, flatWeights(), -0.02, 0.1, flatIC())
	require.NoError(t, err)

	eng2 := newTestEngine(t, p)
	r2, err := eng2.Step(70, flatWeights(), -0.02, 0.1, flatIC())
	require.NoError(t, err)

	for _, inst := range config.Instruments {
		assert.InDelta(t, r1.Weights[inst], r2.Weights[inst], 1e-9, "instrument %s", inst)
	}
}

// TestStepNeverLooksAhead verifies §4.2's no-look-ahead invariant at the
// engine level: mutating raw data strictly after decision date t must not
// change Step(t)'s output, since Step only ever sees raw.AsOf(t-1).
func TestStepNeverLooksAhead(t *testing.T) {
	n := 110
	base := buildSyntheticPanel(t, n, 3)

	t_ := 85
	engBase := newTestEngine(t, base)
	resultBase, err := engBase.Step(t_, flatWeights(), 0.0, 0.09, flatIC())
	require.NoError(t, err)

	// Build a second panel identical up to t_, but with wild values
	// injected after it.
	months := base.Months()
	mutated := map[string][]float64{}
	for _, name := range base.Columns() {
		col := base.Column(name)
		cp := make([]float64, len(col))
		copy(cp, col)
		for i := range cp {
			if months[i] > t_ {
				cp[i] = cp[i] * 1000.0 + 999.0
			}
		}
		mutated[name] = cp
	}
	mutatedPanel, err := panel.New(months, mutated)
	require.NoError(t, err)

	engMutated := newTestEngine(t, mutatedPanel)
	resultMutated, err := engMutated.Step(t_, flatWeights(), 0.0, 0.09, flatIC())
	require.NoError(t, err)

	for _, inst := range config.Instruments {
		assert.InDelta(t, resultBase.Weights[inst], resultMutated.Weights[inst], 1e-9, "instrument %s leaked future data", inst)
	}
}

func TestArtefactRecordOutcomeAccumulatesOOSHistory(t *testing.T) {
	p := buildSyntheticPanel(t, 60, 4)
	eng := newTestEngine(t, p)

	a := eng.Artefact(config.FX)
	require.NotNil(t, a)
	a.RecordOutcome(map[string]float64{"ridge": 0.01, "gbm": 0.02}, 0.015, 0.012)
	a.RecordOutcome(map[string]float64{"ridge": -0.01, "gbm": 0.0}, -0.005, -0.01)

	assert.Len(t, a.PerModelOOS["ridge"], 2)
	assert.Len(t, a.PerModelOOS["gbm"], 2)
	assert.Len(t, a.EnsembleOOS, 2)
}
