package backtest

import (
	"fmt"
	"math"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/aristath/rstarengine/internal/engine"
	"github.com/aristath/rstarengine/internal/instruments"
	"github.com/aristath/rstarengine/internal/models"
	"github.com/aristath/rstarengine/internal/optimizer"
	"github.com/aristath/rstarengine/internal/overlays"
	"github.com/aristath/rstarengine/internal/panel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// benchmarkColumn is the optional Ibovespa price series (§6 "Benchmark:
// Ibovespa prices (optional)"); absent from most synthetic/test panels.
const benchmarkColumn = "benchmark.ibovespa"

// cdiAnnualColumn is the CDI rate column, used to build the "total =
// CDI + overlay" equity curve (§4.13).
const cdiAnnualColumn = "raw.cdi"

var instrumentReturnColumn = map[config.Instrument]string{
	config.FX:    instruments.ColReturnFX,
	config.Front: instruments.ColReturnFront,
	config.Belly: instruments.ColReturnBelly,
	config.Long:  instruments.ColReturnLong,
	config.Hard:  instruments.ColReturnHard,
	config.NTNB:  instruments.ColReturnNTNB,
}

// Harness is the Backtest Harness (L12): it owns the rolling RunRecord
// history and the equity state (§3 ownership split), driving
// engine.Engine.Step once per month and assembling the final RunResult.
type Harness struct {
	log zerolog.Logger
	cfg config.Config
	raw *panel.Panel
	eng *engine.Engine

	shapRegistry *models.Registry

	monthIndex map[int]int
}

// New constructs a Backtest Harness over a fully loaded raw panel,
// wrapping a freshly constructed Production Engine. selectionHistoryPath
// is passed straight through to engine.New.
func New(log zerolog.Logger, cfg config.Config, raw *panel.Panel, selectionHistoryPath string) (*Harness, error) {
	eng, err := engine.New(log, cfg, raw, selectionHistoryPath)
	if err != nil {
		return nil, fmt.Errorf("backtest: construct engine: %w", err)
	}

	months := raw.Months()
	idx := make(map[int]int, len(months))
	for i, m := range months {
		idx[m] = i
	}

	return &Harness{
		log:          log.With().Str("component", "backtest").Logger(),
		cfg:          cfg,
		raw:          raw,
		eng:          eng,
		shapRegistry: models.NewRegistry(),
		monthIndex:   idx,
	}, nil
}

// valueAt returns a column's value at exactly month t, or NaN if the
// panel has no row for that month.
func (h *Harness) valueAt(column string, t int) float64 {
	idx, ok := h.monthIndex[t]
	if !ok {
		return math.NaN()
	}
	col := h.raw.Column(column)
	if idx >= len(col) {
		return math.NaN()
	}
	return col[idx]
}

// Run executes §4.13's walk-forward loop over every month from
// MinTrainingMonths to the end of the panel, then trims the leading
// pure-CDI rows and assembles the RunResult.
func (h *Harness) Run() (*RunResult, error) {
	months := h.raw.Months()
	hasBenchmark := h.raw.Has(benchmarkColumn)

	var records []RunRecord
	var shapHistory []ShapSnapshot
	oosByInstrument := map[config.Instrument][]monthlyOOS{}

	prevWeights := map[config.Instrument]float64{}
	for _, inst := range config.Instruments {
		prevWeights[inst] = 0
	}

	equityOverlay, equityTotal, equityBenchmark := 1.0, 1.0, 1.0
	var overlayEquitySeries, totalEquitySeries []float64
	var overlayReturns []float64

	startIdx := -1
	if len(months) > h.cfg.MinTrainingMonths {
		startIdx = h.cfg.MinTrainingMonths
	}
	if startIdx < 0 {
		return nil, fmt.Errorf("backtest: panel has fewer than %d months of history", h.cfg.MinTrainingMonths)
	}

	for i := startIdx; i < len(months); i++ {
		t := months[i]

		drawdownOverlay := overlays.TrailingDrawdown(overlayEquitySeries)
		realisedVol := overlays.ForecastVol(overlayReturns)
		icScores := h.currentICScores()

		result, err := h.eng.Step(t, prevWeights, drawdownOverlay, realisedVol, icScores)
		if err != nil {
			return nil, fmt.Errorf("backtest: step %d: %w", t, err)
		}

		realised := map[config.Instrument]float64{}
		pnl := map[config.Instrument]float64{}
		var grossReturn float64
		for _, inst := range config.Instruments {
			r := h.valueAt(instrumentReturnColumn[inst], t)
			if math.IsNaN(r) {
				r = 0
			}
			realised[inst] = r
			p := result.Weights[inst] * r
			pnl[inst] = p
			grossReturn += p
		}

		rstarModels := map[string]float64{}
		decomposition := map[string]map[string]float64{}
		var rstarComposite, selicStar float64
		if result.Equilibrium != nil {
			rstarComposite = lastValue(result.Equilibrium.Composite)
			selicStar = lastValue(result.Equilibrium.SelicStar)
			for name, model := range result.Equilibrium.Models {
				rstarModels[name] = lastValue(model.RStar)
				if len(model.Decomposition) == 0 {
					continue
				}
				decomposition[name] = map[string]float64{}
				for comp, series := range model.Decomposition {
					decomposition[name][comp] = lastValue(series)
				}
			}
		}

		rw := optimizer.RegimeWeights{
			Carry:          result.GlobalRegimeProbs[config.RegimeCarry],
			RiskOff:        result.GlobalRegimeProbs[config.RegimeRiskOff],
			Stress:         result.GlobalRegimeProbs[config.RegimeStress],
			DomesticCalm:   result.DomesticRegimeProbs[config.DomesticCalm],
			DomesticStress: result.DomesticRegimeProbs[config.DomesticStress],
		}
		tcBps := optimizer.BlendedTC(h.cfg, rw)
		var turnover, tc float64
		for _, inst := range config.Instruments {
			delta := math.Abs(result.Weights[inst] - prevWeights[inst])
			turnover += delta
			tc += tcBps[inst] / 10000.0 * delta
		}

		overlayReturn := grossReturn - tc
		cdiAnnual := h.valueAt(cdiAnnualColumn, t)
		cdiMonthly := 0.0
		if !math.IsNaN(cdiAnnual) {
			cdiMonthly = cdiAnnual / 12.0
		}
		totalReturn := cdiMonthly + overlayReturn

		equityOverlay *= 1 + overlayReturn
		equityTotal *= 1 + totalReturn

		benchmarkReturn := math.NaN()
		if hasBenchmark {
			prevIBOV := h.valueAt(benchmarkColumn, t-1)
			curIBOV := h.valueAt(benchmarkColumn, t)
			if !math.IsNaN(prevIBOV) && !math.IsNaN(curIBOV) && prevIBOV != 0 {
				benchmarkReturn = curIBOV/prevIBOV - 1
				equityBenchmark *= 1 + benchmarkReturn
			}
		}

		overlayEquitySeries = append(overlayEquitySeries, equityOverlay)
		totalEquitySeries = append(totalEquitySeries, equityTotal)
		overlayReturns = append(overlayReturns, overlayReturn)

		for _, inst := range config.Instruments {
			h.eng.Artefact(inst).RecordOutcome(result.PerModelPredictions[inst], result.Mu[inst], realised[inst])
			oosByInstrument[inst] = append(oosByInstrument[inst], monthlyOOS{Month: t, Predicted: result.Mu[inst], Realised: realised[inst]})
		}

		record := RunRecord{
			Month:                   t,
			Weights:                 result.Weights,
			Mu:                      result.Mu,
			PnL:                     pnl,
			OverlayReturn:           overlayReturn,
			TotalReturn:             totalReturn,
			BenchmarkReturn:         benchmarkReturn,
			EquityOverlay:           equityOverlay,
			EquityTotal:             equityTotal,
			EquityBenchmark:         equityBenchmark,
			DrawdownOverlay:         overlays.TrailingDrawdown(overlayEquitySeries),
			DrawdownTotal:           overlays.TrailingDrawdown(totalEquitySeries),
			GlobalRegimeProbs:       result.GlobalRegimeProbs,
			DomesticRegimeProbs:     result.DomesticRegimeProbs,
			RawScore:                result.RawScore,
			DemeanedScore:           result.DemeanedScore,
			EnsembleWeights:         averageEnsembleWeights(h.eng, config.Instruments),
			Turnover:                turnover,
			TransactionCost:         tc,
			RollingSharpeOverlay12m: rollingSharpe(overlayReturns, 12),
			BreakerOpen:              result.BreakerOpen,
			UsedFallbackSolver:       result.UsedFallbackSolver,
			RStarComposite:           rstarComposite,
			SelicStar:                selicStar,
			RStarModels:              rstarModels,
			EquilibriumDecomposition: decomposition,
		}
		records = append(records, record)

		if (i-startIdx)%h.cfg.SHAPIntervalMonths == 0 {
			for _, inst := range config.Instruments {
				y := result.MergedPanel.Column(instrumentReturnColumn[inst])
				if snap, ok := buildShapSnapshot(t, inst, h.shapRegistry, result.MergedPanel, result.FeatureSets[inst], y); ok {
					shapHistory = append(shapHistory, snap)
				}
			}
		}

		prevWeights = result.Weights
	}

	trimmed, trimCount := trimLeadingCDIRows(records)
	h.log.Info().Int("months", len(trimmed)).Int("trimmed", trimCount).Msg("backtest: walk-forward loop complete")

	summary := BuildSummary(trimmed, oosByInstrument, hasBenchmark)

	var stressResults []StressResult
	for _, w := range StressWindows {
		windowRecords, covered := recordsInWindow(trimmed, w)
		sr := StressResult{Window: w, Covered: covered}
		if covered && len(windowRecords) > 0 {
			sr.Summary = BuildSummary(windowRecords, oosByInstrument, hasBenchmark)
			sr.AvgGlobalRegimeProbs = averageGlobalProbs(windowRecords)
			sr.AvgDomesticRegimeProbs = averageDomesticProbs(windowRecords)
		}
		stressResults = append(stressResults, sr)
	}

	shapImportance := map[config.Instrument][]FeatureImportance{}
	for i := len(shapHistory) - 1; i >= 0; i-- {
		snap := shapHistory[i]
		if _, ok := shapImportance[snap.Instrument]; !ok {
			shapImportance[snap.Instrument] = snap.Importance
		}
	}

	var current CurrentSnapshot
	var rstarTS []RStarPoint
	for _, r := range trimmed {
		rstarTS = append(rstarTS, RStarPoint{
			Month:       r.Month,
			Composite:   r.RStarComposite,
			SelicStar:   r.SelicStar,
			ModelValues: r.RStarModels,
		})
	}
	if len(trimmed) > 0 {
		last := trimmed[len(trimmed)-1]
		current = CurrentSnapshot{
			Month:               last.Month,
			Weights:             last.Weights,
			Mu:                  last.Mu,
			RStarComposite:      last.RStarComposite,
			SelicStar:           last.SelicStar,
			GlobalRegimeProbs:   last.GlobalRegimeProbs,
			DomesticRegimeProbs: last.DomesticRegimeProbs,
			RawScore:            last.RawScore,
			DemeanedScore:       last.DemeanedScore,
		}
	}

	return &RunResult{
		ID:                      uuid.NewString(),
		ConfigSnapshot:          h.cfg,
		Timeseries:              trimmed,
		Summary:                 summary,
		StressTests:             stressResults,
		ShapHistory:             shapHistory,
		ShapImportance:          shapImportance,
		FeatureSelectionHistory: h.eng.SelectionHistory(),
		Current:                 current,
		RStarTimeseries:         rstarTS,
		TrimmedMonths:           trimCount,
	}, nil
}

// currentICScores derives the §4.10 budget-scaling IC vector from each
// instrument's accumulated ensemble OOS history so far — this is the
// "ic_scores" the engine step() signature takes as an external input,
// computed by the harness from the same OOS pairs the Production Engine
// is accumulating in its ModelArtefacts (read-only from here; the
// Backtest Harness never writes them).
func (h *Harness) currentICScores() map[config.Instrument]float64 {
	out := map[config.Instrument]float64{}
	for _, inst := range config.Instruments {
		pairs := h.eng.Artefact(inst).EnsembleOOS
		if len(pairs) < 3 {
			out[inst] = 0
			continue
		}
		predicted := make([]float64, len(pairs))
		realised := make([]float64, len(pairs))
		for i, p := range pairs {
			predicted[i] = p.Predicted
			realised[i] = p.Realised
		}
		out[inst] = correlation(predicted, realised)
	}
	return out
}

func averageEnsembleWeights(eng *engine.Engine, insts []config.Instrument) map[string]float64 {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, inst := range insts {
		w := models.CombineWeights(eng.Artefact(inst).PerModelOOS)
		for name, v := range w {
			sums[name] += v
			counts[name]++
		}
	}
	out := map[string]float64{}
	for name, s := range sums {
		out[name] = s / float64(counts[name])
	}
	return out
}

// lastValue returns a series' final element, or 0 for an empty series
// (a model that did not build this step).
func lastValue(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

func rollingSharpe(returns []float64, window int) float64 {
	tail := returns
	if len(tail) > window {
		tail = tail[len(tail)-window:]
	}
	if len(tail) < 2 {
		return 0
	}
	m := mean(tail)
	s := stddev(tail)
	if s < 1e-12 {
		return 0
	}
	return m / s * math.Sqrt(12)
}

// trimLeadingCDIRows implements §4.13's trim step: find the first month
// with |overlay_return| > 1e-8 and drop every row before it, without
// rescaling any retained month's return (only the cumulative equity
// curves are rebased so they restart at 1.0 from the kept prefix).
func trimLeadingCDIRows(records []RunRecord) ([]RunRecord, int) {
	cut := 0
	for i, r := range records {
		if math.Abs(r.OverlayReturn) > 1e-8 {
			cut = i
			break
		}
		cut = i + 1
	}
	if cut >= len(records) {
		return records, 0
	}

	kept := append([]RunRecord(nil), records[cut:]...)

	baseOverlay, baseTotal, baseBenchmark := 1.0, 1.0, 1.0
	if cut > 0 {
		baseOverlay = records[cut-1].EquityOverlay
		baseTotal = records[cut-1].EquityTotal
		baseBenchmark = records[cut-1].EquityBenchmark
	}
	for i := range kept {
		kept[i].EquityOverlay /= baseOverlay
		kept[i].EquityTotal /= baseTotal
		if !math.IsNaN(kept[i].EquityBenchmark) && baseBenchmark != 0 {
			kept[i].EquityBenchmark /= baseBenchmark
		}
	}
	return kept, cut
}

func averageGlobalProbs(records []RunRecord) map[config.Regime]float64 {
	sums := map[config.Regime]float64{}
	for _, r := range records {
		for k, v := range r.GlobalRegimeProbs {
			sums[k] += v
		}
	}
	out := map[config.Regime]float64{}
	for k, v := range sums {
		out[k] = v / float64(len(records))
	}
	return out
}

func averageDomesticProbs(records []RunRecord) map[config.DomesticRegime]float64 {
	sums := map[config.DomesticRegime]float64{}
	for _, r := range records {
		for k, v := range r.DomesticRegimeProbs {
			sums[k] += v
		}
	}
	out := map[config.DomesticRegime]float64{}
	for k, v := range sums {
		out[k] = v / float64(len(records))
	}
	return out
}
