// Package backtest implements §4.13: the walk-forward harness that
// drives engine.Engine monthly, owns the rolling RunRecord history and
// equity state (§3 ownership split — the Backtest Harness owns what the
// Production Engine never sees: equity curves and the realised-return
// history drawdown/vol are derived from), and assembles the final
// RunResult.
package backtest

import (
	"github.com/aristath/rstarengine/internal/config"
	"github.com/aristath/rstarengine/internal/selection"
)

// RunRecord is §3's "one row per backtest month": the allocation,
// realised pnl, the three equity curves, drawdowns, regime
// probabilities, score statistics, ensemble weights, turnover and TC.
type RunRecord struct {
	Month int

	Weights map[config.Instrument]float64
	Mu      map[config.Instrument]float64
	PnL     map[config.Instrument]float64

	OverlayReturn   float64
	TotalReturn     float64
	BenchmarkReturn float64 // NaN if no benchmark series is present

	EquityOverlay   float64
	EquityTotal     float64
	EquityBenchmark float64 // NaN if no benchmark series is present

	DrawdownOverlay float64
	DrawdownTotal   float64

	GlobalRegimeProbs   map[config.Regime]float64
	DomesticRegimeProbs map[config.DomesticRegime]float64

	RawScore      float64
	DemeanedScore float64

	// EnsembleWeights is the per-model combination weight averaged
	// across the six instruments (§4.13 "ensemble weights (average
	// across instruments)").
	EnsembleWeights map[string]float64

	Turnover        float64
	TransactionCost float64

	RollingSharpeOverlay12m float64

	BreakerOpen        bool
	UsedFallbackSolver bool

	// RStarComposite and SelicStar are this month's regime-weighted r*
	// composite and implied policy-rate target (§4.5), for `rstar_ts`.
	RStarComposite float64
	SelicStar      float64

	// RStarModels is this month's last-row r* estimate from each
	// individual equilibrium model ("fiscal", "parity", "market_implied",
	// "state_space", "regime" once active), the "per-model contributions"
	// `rstar_ts` asks for.
	RStarModels map[string]float64

	// EquilibriumDecomposition carries each model's published state/
	// cyclical-factor decomposition (e.g. fiscal's base/fiscal/sovereign
	// split, market-implied's term premium) — the concrete source behind
	// §6's `timeseries.state_variables`/`cyclical_factors`/`fair_value`,
	// which are decomposition components rather than separate series.
	EquilibriumDecomposition map[string]map[string]float64
}

// CurrentSnapshot is §6's `current` block: the latest month's allocation
// decision enriched with the equilibrium state behind it. Z-score/raw-
// level enrichment (DI/UST/EMBI/VIX/DXY levels) is dashboard presentation
// over this same month's merged panel, not a core computation, so it is
// left to a serving layer reading `RunResult.Timeseries`'s last month
// rather than duplicated here.
type CurrentSnapshot struct {
	Month int

	Weights map[config.Instrument]float64
	Mu      map[config.Instrument]float64

	RStarComposite float64
	SelicStar      float64

	GlobalRegimeProbs   map[config.Regime]float64
	DomesticRegimeProbs map[config.DomesticRegime]float64

	RawScore      float64
	DemeanedScore float64
}

// RStarPoint is one month of `rstar_ts`.
type RStarPoint struct {
	Month          int
	Composite      float64
	SelicStar      float64
	ModelValues    map[string]float64
}

// ShapSnapshot is §4.13's lightweight SHAP snapshot: per-feature
// (mean_abs, current, rank) importance for one instrument at one month,
// from a permutation-importance pass over an XGBoost-style refit on the
// trailing window (§4.6's "lightweight version runs during backtest").
type ShapSnapshot struct {
	Month      int
	Instrument config.Instrument
	Importance []FeatureImportance
}

// FeatureImportance is one feature's entry in a ShapSnapshot.
type FeatureImportance struct {
	Feature  string
	MeanAbs  float64
	Current  float64
	Rank     int
}

// SummaryBlock is one equity series' §4.13 summary statistics block
// (computed separately for overlay, total and benchmark).
type SummaryBlock struct {
	CAGR          float64
	AnnualVol     float64
	Sharpe        float64
	MaxDrawdown   float64
	Calmar        float64
	MonthlyWinRate float64
	BestMonth     float64
	WorstMonth    float64
}

// InstrumentStats is the per-instrument reporting block: IC, hit rate
// and return attribution over the run.
type InstrumentStats struct {
	IC          float64
	HitRate     float64
	Attribution float64
}

// Summary is §4.13's full "Summary statistics" block plus the
// ensemble/regime/score-demeaning diagnostics §6's RunResult names.
type Summary struct {
	Overlay   SummaryBlock
	Total     SummaryBlock
	Benchmark SummaryBlock
	HasBenchmark bool

	PerInstrument map[config.Instrument]InstrumentStats

	TotalTransactionCost   float64
	AverageMonthlyTurnover float64

	// EnsembleWeightDistribution is the across-run average combination
	// weight per model name.
	EnsembleWeightDistribution map[string]float64

	// RegimeOccupancy is the fraction of months each global/domestic
	// regime was the most likely state.
	GlobalRegimeOccupancy   map[config.Regime]float64
	DomesticRegimeOccupancy map[config.DomesticRegime]float64

	ScoreDemeaningMean float64
	ScoreDemeaningStd  float64
}

// StressResult is one named stress window's restricted summary plus the
// regime/attribution detail §4.13 asks for.
type StressResult struct {
	Window      StressWindow
	Covered     bool
	Summary     Summary
	AvgGlobalRegimeProbs   map[config.Regime]float64
	AvgDomesticRegimeProbs map[config.DomesticRegime]float64
}

// RunResult is §6's emitted object: the effective configuration, the
// full monthly timeseries, the summary blocks, stress-window results,
// the latest-month snapshot and the persisted feature-selection state.
type RunResult struct {
	ID string

	ConfigSnapshot config.Config

	Timeseries []RunRecord
	Summary    Summary

	StressTests []StressResult

	ShapHistory   []ShapSnapshot
	ShapImportance map[config.Instrument][]FeatureImportance

	FeatureSelectionHistory *selection.History

	// Current is §6's latest-month allocation snapshot.
	Current CurrentSnapshot

	// RStarTimeseries is §6's `rstar_ts`.
	RStarTimeseries []RStarPoint

	TrimmedMonths int
}
