package live

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/aristath/rstarengine/internal/engine"
	"github.com/aristath/rstarengine/internal/panel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// buildFlatPanel assembles a minimal raw panel over n months, flat
// enough that engine.Step never errors on missing columns, for exercising
// the on-disk panel/state codec and MonthlyStepJob's wiring rather than
// the engine's own numerics (those are engine_test.go's job).
func buildFlatPanel(t *testing.T, n int) *panel.Panel {
	t.Helper()
	months := make([]int, n)
	src := rand.New(rand.NewSource(11))
	cols := map[string][]float64{}
	fill := func(name string, v float64) {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = v
		}
		cols[name] = vals
	}
	fill("raw.ppp_factor", 4.0)
	fill("raw.gdp_pc_ratio", 1.2)
	fill("raw.current_account_pct_gdp", -0.02)
	fill("raw.trade_openness", 0.3)
	fill("raw.terms_of_trade", 100.0)
	fill("raw.current_account_12m", -0.02)
	fill("raw.us_breakeven_10y", 0.022)
	fill("raw.us_cpi_expectations", 0.025)
	fill("raw.primary_balance", -1.5)
	fill("raw.debt_to_gdp", 78.0)
	fill("raw.ipca_expectations_12m", 0.04)
	fill("raw.ipca_12m", 0.045)
	fill("raw.embi", 215.0)
	fill("raw.us_tips_5y", 0.018)
	fill("raw.us_tips_10y", 0.02)
	fill("raw.us_hy_oas", 3.5)
	fill("raw.usdbrl_spot", 5.0)
	fill("raw.dxy", 100.0)
	fill("raw.bcom", 200.0)
	fill("raw.ewz", 30.0)
	fill("raw.reer", 95.0)
	fill("raw.ibc_br", 140.0)
	fill("raw.cdi", 0.12)
	fill("raw.di_3m", 0.12)
	fill("raw.di_6m", 0.12)
	fill("raw.di_1y", 0.12)
	fill("raw.di_2y", 0.12)
	fill("raw.di_5y", 0.12)
	fill("raw.di_10y", 0.12)
	fill("raw.cds_5y", 215.0)
	fill("raw.vix", 16.0)
	fill("raw.ust_2y", 0.045)
	fill("raw.ust_10y", 0.042)
	fill("raw.real_yield_5y", 5.5)
	fill("raw.real_rate_diff", 0.0)
	fill("raw.cupom_cambial_30d", 0.05)

	for i := range months {
		months[i] = i
	}
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

func pctNoise(n int, mean, sigma float64, src *rand.Rand) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + sigma*src.NormFloat64()
	}
	return out
}

func writePanelDump(t *testing.T, path string, p *panel.Panel) {
	t.Helper()
	cols := map[string][]float64{}
	for _, name := range p.Columns() {
		cols[name] = p.Column(name)
	}
	data, err := msgpack.Marshal(panelDump{Months: p.Months(), Columns: cols})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestFilePanelSourceLatestStepsOnePastLastMonth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "panel.msgpack")
	p := buildFlatPanel(t, 90)
	writePanelDump(t, path, p)

	src := NewFilePanelSource(path)
	raw, next, err := src.Latest()
	require.NoError(t, err)
	assert.Equal(t, 90, next)
	assert.Equal(t, p.Months(), raw.Months())
}

func TestFileStateRoundTripsAndDefaultsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.msgpack")
	s := NewFileState(path)

	weights, drawdown, vol, ic, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 0.0, drawdown)
	assert.Equal(t, 0.0, vol)
	for _, inst := range config.Instruments {
		assert.Equal(t, 0.0, weights[inst])
		assert.Equal(t, 0.0, ic[inst])
	}

	result := &engine.StepResult{Weights: map[config.Instrument]float64{config.FX: 0.2, config.Hard: -0.1}}
	require.NoError(t, s.Save(result, 0.03, 0.09, map[config.Instrument]float64{config.FX: 0.1}))

	weights2, drawdown2, vol2, ic2, err := s.Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.2, weights2[config.FX], 1e-9)
	assert.InDelta(t, -0.1, weights2[config.Hard], 1e-9)
	assert.InDelta(t, 0.03, drawdown2, 1e-9)
	assert.InDelta(t, 0.09, vol2, 1e-9)
	assert.InDelta(t, 0.1, ic2[config.FX], 1e-9)
}

// TestMonthlyStepJobRunAdvancesAndPersistsState exercises the full wiring
// this package provides to a live deployment: load panel + state, step
// the engine once, and persist the result for the next invocation to
// pick up, the production analogue of one Backtest Harness loop
// iteration.
func TestMonthlyStepJobRunAdvancesAndPersistsState(t *testing.T) {
	dir := t.TempDir()
	panelPath := filepath.Join(dir, "panel.msgpack")
	statePath := filepath.Join(dir, "state.msgpack")

	p := buildFlatPanel(t, 80)
	writePanelDump(t, panelPath, p)

	panels := NewFilePanelSource(panelPath)
	state := NewFileState(statePath)

	raw, _, err := panels.Latest()
	require.NoError(t, err)

	eng, err := engine.New(zerolog.Nop(), config.Default(), raw, "")
	require.NoError(t, err)

	job := NewMonthlyStepJob(zerolog.Nop(), eng, panels, state)
	require.Equal(t, "monthly_step", job.Name())
	require.NoError(t, job.Run())

	weights, _, _, _, err := state.Load()
	require.NoError(t, err)
	var sum float64
	for _, inst := range config.Instruments {
		v := weights[inst]
		require.False(t, math.IsNaN(v), "instrument %s weight is NaN", inst)
		sum += math.Abs(v)
	}
	assert.Greater(t, sum, 0.0)
}
