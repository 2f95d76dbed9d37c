package backtest

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

// buildConstantPanel assembles every raw.* column the downstream
// packages read, plus the six ret.* instrument return columns, all held
// at constant levels — (S1) "flat world". n is the number of months.
func buildConstantPanel(t *testing.T, n int) *panel.Panel {
	t.Helper()
	months := make([]int, n)
	for i := range months {
		months[i] = i
	}

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
	fillConst("raw.ipca_12m", 0.04)
	fillConst("raw.embi", 215.0)
	fillConst("raw.us_tips_5y", 0.018)
	fillConst("raw.us_tips_10y", 0.02)
	fillConst("raw.us_hy_oas", 3.5)

	fillConst("raw.usdbrl_spot", 5.0)
	fillConst("raw.dxy", 100.0)
	fillConst("raw.bcom", 200.0)
	fillConst("raw.ewz", 30.0)
	fillConst("raw.reer", 95.0)
	fillConst("raw.ibc_br", 140.0)
	fillConst("raw.cdi", 0.12)
	fillConst("raw.di_3m", 0.12)
	fillConst("raw.di_6m", 0.12)
	fillConst("raw.di_1y", 0.12)
	fillConst("raw.di_2y", 0.12)
	fillConst("raw.di_5y", 0.12)
	fillConst("raw.di_10y", 0.12)
	fillConst("raw.cds_5y", 150.0)
	fillConst("raw.vix", 15.0)
	fillConst("raw.ust_2y", 0.04)
	fillConst("raw.ust_10y", 0.04)
	fillConst("raw.real_yield_5y", 6.0)
	fillConst("raw.real_rate_diff", 0.0)
	fillConst("raw.cupom_cambial_30d", 0.04)

	// A flat world produces exactly zero instrument returns every
	// month; ret.* columns are the actual realised-return series the
	// harness reads at t, independent of the level columns above.
	fillConst("ret.fx", 0.0)
	fillConst("ret.front", 0.0)
	fillConst("ret.belly", 0.0)
	fillConst("ret.long", 0.0)
	fillConst("ret.hard", 0.0)
	fillConst("ret.ntnb", 0.0)

	p, err := panel.New(months, cols)
	require.NoError(t, err)
	return p
}

// mutateAfter returns a copy of p's columns with independent noise
// injected into every ret.* and raw.* series strictly after month
// cutoff, used by the no-look-ahead test.
func mutateAfter(t *testing.T, p *panel.Panel, cutoff int, seed int64) *panel.Panel {
	t.Helper()
	src := rand.New(rand.NewSource(seed))
	months := p.Months()
	cols := map[string][]float64{}
	for _, name := range p.Columns() {
		orig := p.Column(name)
		out := make([]float64, len(orig))
		copy(out, orig)
		for i, m := range months {
			if m > cutoff {
				out[i] = orig[i] + src.NormFloat64()
			}
		}
		cols[name] = out
	}
	np, err := panel.New(months, cols)
	require.NoError(t, err)
	return np
}

func newTestHarness(t *testing.T, p *panel.Panel) *Harness {
	t.Helper()
	h, err := New(zerolog.Nop(), config.Default(), p, "")
	require.NoError(t, err)
	return h
}

// TestRunFlatWorld implements (S1): constant inputs across a 120-month
// backtest should leave overlay equity within ±1% of 1.0, and every
// instrument weight small since mu is approximately zero throughout.
func TestRunFlatWorld(t *testing.T) {
	p := buildConstantPanel(t, 120)
	h := newTestHarness(t, p)

	result, err := h.Run()
	require.NoError(t, err)
	require.NotEmpty(t, result.Timeseries)

	last := result.Timeseries[len(result.Timeseries)-1]
	assert.InDelta(t, 1.0, last.EquityOverlay, 0.01, "overlay equity should stay within 1%% of 1.0 in a flat world")

	for _, r := range result.Timeseries {
		for _, inst := range config.Instruments {
			assert.LessOrEqual(t, math.Abs(r.Weights[inst]), 0.05+1e-6, "weight for %s at month %d exceeds flat-world bound", inst, r.Month)
		}
	}

	assert.NotEmpty(t, result.ID)
	assert.Equal(t, result.ConfigSnapshot.MinTrainingMonths, h.cfg.MinTrainingMonths)

	require.Len(t, result.RStarTimeseries, len(result.Timeseries))
	assert.Equal(t, last.Month, result.Current.Month)
	assert.Equal(t, last.Weights, result.Current.Weights)
	assert.Equal(t, last.RStarComposite, result.Current.RStarComposite)
}

// TestRunNoLookAheadAtRandomMonths implements (S5): a run over data
// perturbed strictly after a random cutoff month must agree with the
// unperturbed full-horizon run on the overlay return and every weight of
// each record up to the cutoff, since no step may depend on data after
// its own month.
func TestRunNoLookAheadAtRandomMonths(t *testing.T) {
	n := 140
	base := buildConstantPanel(t, n)

	fullHarness := newTestHarness(t, base)
	full, err := fullHarness.Run()
	require.NoError(t, err)

	fullByMonth := map[int]RunRecord{}
	for _, r := range full.Timeseries {
		fullByMonth[r.Month] = r
	}

	src := rand.New(rand.NewSource(7))
	tested := 0
	for tested < 20 {
		cutoff := src.Intn(n-40) + 40 // stay within covered range, after MinTrainingMonths
		mutated := mutateAfter(t, base, cutoff, int64(1000+tested))

		mh := newTestHarness(t, mutated)
		truncated, err := mh.Run()
		require.NoError(t, err)

		for _, r := range truncated.Timeseries {
			if r.Month > cutoff {
				continue
			}
			want, ok := fullByMonth[r.Month]
			if !ok {
				continue
			}
			assert.InDelta(t, want.OverlayReturn, r.OverlayReturn, 1e-9, "month %d diverges under a future mutation at cutoff %d", r.Month, cutoff)
			for _, inst := range config.Instruments {
				assert.InDelta(t, want.Weights[inst], r.Weights[inst], 1e-9, "month %d instrument %s diverges under a future mutation at cutoff %d", r.Month, inst, cutoff)
			}
		}
		tested++
	}
}

func TestTrimLeadingCDIRows(t *testing.T) {
	records := []RunRecord{
		{Month: 0, OverlayReturn: 0, EquityOverlay: 1.01, EquityTotal: 1.01, EquityBenchmark: math.NaN()},
		{Month: 1, OverlayReturn: 0, EquityOverlay: 1.02, EquityTotal: 1.02, EquityBenchmark: math.NaN()},
		{Month: 2, OverlayReturn: 0.01, EquityOverlay: 1.0302, EquityTotal: 1.0302, EquityBenchmark: math.NaN()},
		{Month: 3, OverlayReturn: -0.02, EquityOverlay: 1.0096, EquityTotal: 1.0096, EquityBenchmark: math.NaN()},
	}

	trimmed, cut := trimLeadingCDIRows(records)
	require.Equal(t, 2, cut)
	require.Len(t, trimmed, 2)
	assert.Equal(t, 2, trimmed[0].Month)
	assert.InDelta(t, records[2].EquityOverlay/records[1].EquityOverlay, trimmed[0].EquityOverlay, 1e-9)
	assert.InDelta(t, records[3].EquityOverlay/records[1].EquityOverlay, trimmed[1].EquityOverlay, 1e-9)
}

func TestTrimLeadingCDIRowsNoPureCDIPrefix(t *testing.T) {
	records := []RunRecord{
		{Month: 0, OverlayReturn: 0.02, EquityOverlay: 1.02, EquityTotal: 1.02},
		{Month: 1, OverlayReturn: -0.01, EquityOverlay: 1.0098, EquityTotal: 1.0098},
	}
	trimmed, cut := trimLeadingCDIRows(records)
	assert.Equal(t, 0, cut)
	assert.Equal(t, records, trimmed)
}

func TestBuildSummaryBlockComputesCAGRAndSharpe(t *testing.T) {
	// A 12-month compounding series alternating 1% and 2% monthly gains:
	// every month wins, and the returns vary so annualised vol is non-zero.
	equity := make([]float64, 12)
	v := 1.0
	for i := range equity {
		v *= 1.01 + 0.01*float64(i%2)
		equity[i] = v
	}
	block := buildSummaryBlock(equity)
	assert.InDelta(t, math.Pow(v, 1.0)-1, block.CAGR, 1e-9)
	assert.Equal(t, 1.0, block.MonthlyWinRate)
	assert.Greater(t, block.Sharpe, 0.0)
	assert.Equal(t, 0.0, block.MaxDrawdown)
}

func TestCorrelationPerfectAndConstant(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{2, 4, 6, 8, 10}
	assert.InDelta(t, 1.0, correlation(a, b), 1e-9)

	constSeries := []float64{1, 1, 1, 1}
	assert.Equal(t, 0.0, correlation(a[:4], constSeries))
}

func TestSameSign(t *testing.T) {
	assert.True(t, sameSign(1.0, 2.0))
	assert.True(t, sameSign(-1.0, -2.0))
	assert.False(t, sameSign(1.0, -2.0))
	assert.False(t, sameSign(0, 1.0))
}

func TestMonthOrdinalAndWindowBounds(t *testing.T) {
	assert.Equal(t, 2013*12+4, MonthOrdinal(2013, 5))
	w := StressWindows[0]
	assert.Equal(t, "taper_tantrum_2013", w.Name)
	assert.Equal(t, MonthOrdinal(2013, 5), w.Start())
	assert.Equal(t, MonthOrdinal(2013, 9), w.End())
}

func TestRecordsInWindowFiltersAndReportsCoverage(t *testing.T) {
	w := StressWindow{StartYear: 2020, StartMonth: 2, EndYear: 2020, EndMonth: 4}
	start, end := w.Start(), w.End()
	records := []RunRecord{
		{Month: start - 1},
		{Month: start},
		{Month: start + 1},
		{Month: end},
		{Month: end + 5},
	}
	windowed, covered := recordsInWindow(records, w)
	assert.True(t, covered)
	assert.Len(t, windowed, 3)

	uncoveredRecords := []RunRecord{{Month: end + 100}, {Month: end + 200}}
	_, uncovered := recordsInWindow(uncoveredRecords, w)
	assert.False(t, uncovered)
}

func TestRollingSharpeHandlesShortHistory(t *testing.T) {
	assert.Equal(t, 0.0, rollingSharpe(nil, 12))
	assert.Equal(t, 0.0, rollingSharpe([]float64{0.01}, 12))
	assert.Equal(t, 0.0, rollingSharpe([]float64{0.01, 0.01, 0.01}, 12))
}
