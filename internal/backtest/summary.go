package backtest

import (
	"math"

	"github.com/aristath/rstarengine/internal/config"
)

// equityCurve rebuilds an equity series (starting at 1.0) from a
// sequence of monthly simple returns.
func equityCurve(returns []float64) []float64 {
	out := make([]float64, len(returns))
	eq := 1.0
	for i, r := range returns {
		eq *= 1 + r
		out[i] = eq
	}
	return out
}

func monthlyReturns(equity []float64) []float64 {
	out := make([]float64, 0, len(equity))
	prev := 1.0
	for _, eq := range equity {
		if prev != 0 {
			out = append(out, eq/prev-1)
		} else {
			out = append(out, 0)
		}
		prev = eq
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func maxDrawdownFromEquity(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	worst := 0.0
	for _, eq := range equity {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			dd := (eq - peak) / peak
			if dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// buildSummaryBlock computes §4.13's per-series summary statistics:
// CAGR (eq_T)^(12/N)-1, annualised vol, Sharpe, max drawdown, Calmar,
// monthly win rate, best/worst month.
func buildSummaryBlock(equity []float64) SummaryBlock {
	n := len(equity)
	if n == 0 {
		return SummaryBlock{}
	}
	eqT := equity[n-1]
	var cagr float64
	if eqT > 0 {
		cagr = math.Pow(eqT, 12.0/float64(n)) - 1
	}
	rets := monthlyReturns(equity)
	vol := stddev(rets) * math.Sqrt(12)
	sharpe := 0.0
	if vol > 1e-12 {
		sharpe = cagr / vol
	}
	maxDD := maxDrawdownFromEquity(equity)
	calmar := 0.0
	if maxDD < -1e-12 {
		calmar = cagr / math.Abs(maxDD)
	}
	wins := 0
	best, worst := rets[0], rets[0]
	for _, r := range rets {
		if r > 0 {
			wins++
		}
		if r > best {
			best = r
		}
		if r < worst {
			worst = r
		}
	}
	return SummaryBlock{
		CAGR:           cagr,
		AnnualVol:      vol,
		Sharpe:         sharpe,
		MaxDrawdown:    maxDD,
		Calmar:         calmar,
		MonthlyWinRate: float64(wins) / float64(len(rets)),
		BestMonth:      best,
		WorstMonth:     worst,
	}
}

// correlation is the sample Pearson correlation of two equal-length
// series, used both for IC here and internally by models.CombineWeights.
func correlation(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n < 2 {
		return 0
	}
	ma, mb := mean(a), mean(b)
	var cov, va, vb float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va < 1e-12 || vb < 1e-12 {
		return 0
	}
	return cov / math.Sqrt(va*vb)
}

// monthlyOOS is one month's (predicted, realised) pair for one
// instrument, tagged with the month it belongs to so stress-window
// summaries can restrict IC/hit-rate computation to the window instead
// of the whole run.
type monthlyOOS struct {
	Month               int
	Predicted, Realised float64
}

// BuildSummary assembles §4.13 and §6's full summary block from a slice
// of RunRecords (the full trimmed run, or a stress window's restriction
// of it) plus the full-run per-instrument (predicted, realised) history,
// which this function filters down to the months actually present in
// records.
func BuildSummary(records []RunRecord, oosByInstrument map[config.Instrument][]monthlyOOS, hasBenchmark bool) Summary {
	overlayEq := make([]float64, len(records))
	totalEq := make([]float64, len(records))
	benchEq := make([]float64, len(records))
	months := make(map[int]bool, len(records))
	for i, r := range records {
		overlayEq[i] = r.EquityOverlay
		totalEq[i] = r.EquityTotal
		benchEq[i] = r.EquityBenchmark
		months[r.Month] = true
	}

	summary := Summary{
		Overlay:      buildSummaryBlock(overlayEq),
		Total:        buildSummaryBlock(totalEq),
		HasBenchmark: hasBenchmark,
	}
	if hasBenchmark {
		summary.Benchmark = buildSummaryBlock(benchEq)
	}

	attribution := map[config.Instrument]float64{}
	for _, r := range records {
		for inst, pnl := range r.PnL {
			attribution[inst] += pnl
		}
	}

	summary.PerInstrument = map[config.Instrument]InstrumentStats{}
	for _, inst := range config.Instruments {
		var predicted, realised []float64
		var hits int
		for _, p := range oosByInstrument[inst] {
			if !months[p.Month] {
				continue
			}
			predicted = append(predicted, p.Predicted)
			realised = append(realised, p.Realised)
			if sameSign(p.Predicted, p.Realised) {
				hits++
			}
		}
		hitRate := 0.0
		if len(predicted) > 0 {
			hitRate = float64(hits) / float64(len(predicted))
		}
		summary.PerInstrument[inst] = InstrumentStats{
			IC:          correlation(predicted, realised),
			HitRate:     hitRate,
			Attribution: attribution[inst],
		}
	}

	var totalTC, totalTurnover float64
	ensembleSums := map[string]float64{}
	ensembleCounts := map[string]int{}
	globalOccupancy := map[config.Regime]float64{}
	domesticOccupancy := map[config.DomesticRegime]float64{}
	var scores []float64

	for _, r := range records {
		totalTC += r.TransactionCost
		totalTurnover += r.Turnover
		scores = append(scores, r.DemeanedScore)
		for name, w := range r.EnsembleWeights {
			ensembleSums[name] += w
			ensembleCounts[name]++
		}
		globalOccupancy[argmaxRegimeKey(r.GlobalRegimeProbs)]++
		domesticOccupancy[argmaxDomesticKey(r.DomesticRegimeProbs)]++
	}
	n := float64(len(records))
	summary.TotalTransactionCost = totalTC
	if n > 0 {
		summary.AverageMonthlyTurnover = totalTurnover / n
	}
	summary.EnsembleWeightDistribution = map[string]float64{}
	for name, sum := range ensembleSums {
		summary.EnsembleWeightDistribution[name] = sum / float64(ensembleCounts[name])
	}
	summary.GlobalRegimeOccupancy = map[config.Regime]float64{}
	for r, c := range globalOccupancy {
		summary.GlobalRegimeOccupancy[r] = c / n
	}
	summary.DomesticRegimeOccupancy = map[config.DomesticRegime]float64{}
	for r, c := range domesticOccupancy {
		summary.DomesticRegimeOccupancy[r] = c / n
	}
	summary.ScoreDemeaningMean = mean(scores)
	summary.ScoreDemeaningStd = stddev(scores)

	return summary
}

func sameSign(a, b float64) bool {
	if a == 0 || b == 0 {
		return false
	}
	return (a > 0) == (b > 0)
}

func argmaxRegimeKey(probs map[config.Regime]float64) config.Regime {
	best := config.RegimeCarry
	bestP := -1.0
	for _, r := range []config.Regime{config.RegimeCarry, config.RegimeRiskOff, config.RegimeStress} {
		if p := probs[r]; p > bestP {
			bestP = p
			best = r
		}
	}
	return best
}

func argmaxDomesticKey(probs map[config.DomesticRegime]float64) config.DomesticRegime {
	if probs[config.DomesticStress] > probs[config.DomesticCalm] {
		return config.DomesticStress
	}
	return config.DomesticCalm
}
