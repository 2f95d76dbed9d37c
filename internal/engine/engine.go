// Package engine implements §4.12: the single production step function
// shared identically by live trading and the backtest harness. Given a
// decision date and the harness-owned drawdown/realised-vol/IC inputs,
// it runs the regime refresh, the two-pass r*/regime protocol, feature
// selection (subject to cooldown), the four-model ensemble, score
// demeaning and regime scaling, the optimiser, and the risk overlays —
// in that order, per §2's data-flow diagram.
package engine

import (
	"fmt"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/aristath/rstarengine/internal/equilibrium"
	"github.com/aristath/rstarengine/internal/features"
	"github.com/aristath/rstarengine/internal/instruments"
	"github.com/aristath/rstarengine/internal/models"
	"github.com/aristath/rstarengine/internal/optimizer"
	"github.com/aristath/rstarengine/internal/overlays"
	"github.com/aristath/rstarengine/internal/panel"
	"github.com/aristath/rstarengine/internal/regime"
	"github.com/aristath/rstarengine/internal/selection"
	"github.com/rs/zerolog"
)

// icGateMaxIC is the IC value treated as "maximal" for §4.8's soft IC
// gate boost scaling (models.ICGate's icMax parameter).
const icGateMaxIC = 1.0

// returnColumn maps each instrument to its §4.3 excess-return column.
var returnColumn = map[config.Instrument]string{
	config.FX:    instruments.ColReturnFX,
	config.Front: instruments.ColReturnFront,
	config.Belly: instruments.ColReturnBelly,
	config.Long:  instruments.ColReturnLong,
	config.Hard:  instruments.ColReturnHard,
	config.NTNB:  instruments.ColReturnNTNB,
}

// StepResult is §4.12's step() return value: the allocation, the
// pre-overlay expected-return vector, the regime probabilities used, and
// a few extras useful for the harness's bookkeeping.
type StepResult struct {
	Weights             map[config.Instrument]float64
	Mu                  map[config.Instrument]float64
	GlobalRegimeProbs    map[config.Regime]float64
	DomesticRegimeProbs  map[config.DomesticRegime]float64
	PerModelPredictions map[config.Instrument]map[string]float64
	UsedFallbackSolver  bool
	BreakerOpen         bool
	SelectionRerun      map[config.Instrument]bool
	RawScore            float64
	DemeanedScore       float64

	// MergedPanel is the fully merged (raw + feature + equilibrium)
	// panel this step built, as of t-1. The Backtest Harness reuses it
	// for its own SHAP snapshot refit instead of re-deriving features
	// from scratch.
	MergedPanel *panel.Panel

	// FeatureSets is each instrument's nonlinear feature set selected
	// this step (or carried over from a prior step when reselection did
	// not fire), for harness-level reporting and SHAP refits.
	FeatureSets map[config.Instrument][]string

	// Equilibrium is this step's regime-aware r* build: every model's
	// series, the composite, and SELIC*, for the Backtest Harness's
	// rstar_ts reporting (§6).
	Equilibrium *equilibrium.Result
}

// Engine is the Production Engine (L11): it owns the mutable
// ModelArtefact map and the regime refit schedule (§3 ownership split).
type Engine struct {
	log zerolog.Logger
	cfg config.Config

	raw *panel.Panel

	featuresEngine *features.Engine
	eqEstimator    *equilibrium.Estimator
	regimeEngine   *regime.Engine
	selector       *selection.Selector
	registry       *models.Registry
	opt            *optimizer.Optimizer
	overlayEngine  *overlays.Engine

	artefacts            Artefacts
	selectionHistory     *selection.History
	selectionHistoryPath string
	scoreHistory         []float64
	lastGlobalRegime     config.Regime
	haveLastRegime       bool
}

// New constructs the Production Engine over a fully loaded raw panel
// (instrument returns and every "raw.*" macro series the feature,
// equilibrium and regime packages consume). selectionHistoryPath is
// where the feature-stability snapshot history is persisted between
// runs (§4.7 step 6); pass "" to disable persistence (in-memory only).
func New(log zerolog.Logger, cfg config.Config, raw *panel.Panel, selectionHistoryPath string) (*Engine, error) {
	history, err := selection.LoadHistory(selectionHistoryPath)
	if err != nil {
		return nil, fmt.Errorf("engine: load selection history: %w", err)
	}

	return &Engine{
		log:                  log,
		cfg:                  cfg,
		raw:                  raw,
		featuresEngine:       features.NewEngine(log),
		eqEstimator:          equilibrium.NewEstimator(log, cfg.Priors),
		regimeEngine:         regime.NewEngine(log, cfg.RegimeRefitIntervalMonths),
		selector:             selection.NewSelector(log, cfg.FeatureSelection),
		registry:             models.NewRegistry(),
		opt:                  optimizer.New(log, cfg),
		overlayEngine:        overlays.New(log, cfg),
		artefacts:            newArtefacts(),
		selectionHistory:     history,
		selectionHistoryPath: selectionHistoryPath,
	}, nil
}

// Artefact returns the current mutable state for one instrument, so the
// Backtest Harness can call RecordOutcome once the realised return for
// this step's decision date becomes known.
func (e *Engine) Artefact(inst config.Instrument) *ModelArtefact {
	return e.artefacts[inst]
}

// SelectionHistory returns the feature-stability snapshot history this
// engine has accumulated (and, if a path was given at construction, is
// persisting to disk), for the Backtest Harness's RunResult assembly.
func (e *Engine) SelectionHistory() *selection.History {
	return e.selectionHistory
}

// UpdateRaw replaces the raw panel Step reads from. The Backtest Harness
// never calls this (its panel covers the whole run up front); a live
// deployment does, once per scheduled invocation, after refreshing its
// DataSource-backed panel with the newly observed month (internal/live).
func (e *Engine) UpdateRaw(raw *panel.Panel) {
	e.raw = raw
}

// Step implements §4.12's single public operation. t is the decision
// date (month ordinal); prevWeights is w_{t-1}; drawdown and
// realisedVolAnnual are the harness-computed overlay scalars; icScores
// is the per-instrument IC used for the optimiser's budget scaling (the
// per-instrument IC gate reads each artefact's own ensemble OOS history
// instead).
func (e *Engine) Step(
	t int,
	prevWeights map[config.Instrument]float64,
	drawdown float64,
	realisedVolAnnual float64,
	icScores map[config.Instrument]float64,
) (StepResult, error) {
	asOf := e.raw.AsOf(t - 1)

	featPanel, err := e.featuresEngine.Build(asOf)
	if err != nil {
		return StepResult{}, fmt.Errorf("engine: feature build: %w", err)
	}
	combined, err := mergePanel(asOf, featPanel)
	if err != nil {
		return StepResult{}, fmt.Errorf("engine: merge feature panel: %w", err)
	}

	// Initial r* estimate under neutral regime weights, then the global
	// regime refresh, then the regime-aware r* recompute — §4.8's
	// "initial_r*_estimate(t-1) // neutral regime" / "recompute_r*" two-
	// pass protocol.
	if _, err := e.eqEstimator.Build(combined, nil, false); err != nil {
		e.log.Warn().Err(err).Msg("engine: neutral-pass equilibrium build failed")
	}

	regimeResult, err := e.regimeEngine.Step(combined)
	if err != nil {
		return StepResult{}, fmt.Errorf("engine: regime step: %w", err)
	}
	globalProbs, domesticProbs := lastRegimeProbs(regimeResult)

	rw := &equilibrium.RegimeWeights{
		Carry:   regimeResult.Global[config.RegimeCarry],
		RiskOff: regimeResult.Global[config.RegimeRiskOff],
		Stress:  regimeResult.Global[config.RegimeStress],
	}
	eqResult, err := e.eqEstimator.Build(combined, rw, true)
	if err != nil {
		return StepResult{}, fmt.Errorf("engine: regime-aware equilibrium build: %w", err)
	}
	combined, err = mergeEquilibrium(combined, eqResult)
	if err != nil {
		return StepResult{}, fmt.Errorf("engine: merge equilibrium columns: %w", err)
	}

	regimeChanged := e.detectRegimeChange(globalProbs)

	mu := map[config.Instrument]float64{}
	perModel := map[config.Instrument]map[string]float64{}
	rerun := map[config.Instrument]bool{}
	featureSets := map[config.Instrument][]string{}

	for _, inst := range config.Instruments {
		artefact := e.artefacts[inst]
		yCol := returnColumn[inst]
		y := combined.Column(yCol)
		if y == nil {
			continue
		}

		names := candidateFeatureNames(combined, returnColumn)
		baseX := map[string][]float64{}
		for _, n := range names {
			baseX[n] = combined.Column(n)
		}

		cooldownElapsed := t-artefact.LastFeatureSelectionMonth >= e.cfg.FeatureSelection.RegimeRefitCooldownMonths
		needsSelection := len(artefact.MergedSet) == 0 || (regimeChanged && cooldownElapsed)
		if needsSelection {
			result, err := e.selector.Select(string(inst), names, baseX, y, t-1, e.selectionHistory, e.cfg.EngineSeed+int64(t))
			if err != nil {
				e.log.Warn().Err(err).Str("instrument", string(inst)).Msg("engine: feature selection failed, keeping previous sets")
			} else {
				artefact.LinearSet = result.LinearSet
				artefact.NonlinearSet = result.NonlinearSet
				artefact.MergedSet = result.MergedSet
				artefact.StabilitySnapshot = result.Stability
				artefact.LastFeatureSelectionMonth = t
				snap := selection.Snapshot{Month: t, Instrument: string(inst), Stability: result.Stability}
				if e.selectionHistoryPath != "" {
					if err := e.selectionHistory.Append(snap, e.selectionHistoryPath); err != nil {
						e.log.Warn().Err(err).Msg("engine: failed to persist selection snapshot")
					}
				} else {
					e.selectionHistory.Snapshots = append(e.selectionHistory.Snapshots, snap)
				}
				rerun[inst] = true
			}
		}

		if t-artefact.LastHyperparamRefitMonth >= 12 {
			e.refitHyperparameters(artefact, combined, artefact.LinearSet, y)
			artefact.LastHyperparamRefitMonth = t
		}

		modelPreds, ensembleMu := e.predictInstrument(t, artefact, combined, y)
		perModel[inst] = modelPreds
		featureSets[inst] = artefact.NonlinearSet

		scale, _, gated := models.ICGate(artefact.EnsembleOOS, e.cfg.ICGatingThreshold, icGateMaxIC)
		if gated {
			ensembleMu *= scale
		}
		mu[inst] = ensembleMu
	}

	var rawScore float64
	for _, v := range mu {
		rawScore += v
	}
	e.scoreHistory = append(e.scoreHistory, rawScore)
	if len(e.scoreHistory) > e.cfg.ScoreDemeaningWindow*2 {
		e.scoreHistory = e.scoreHistory[len(e.scoreHistory)-e.cfg.ScoreDemeaningWindow*2:]
	}

	muDemeaned := demeanAndScale(mu, e.scoreHistory, e.cfg.ScoreDemeaningWindow, e.cfg.ScoreDemeaningEpsilon)
	muAdj := regimeScale(muDemeaned, globalProbs, domesticProbs, e.cfg)

	var demeanedScore float64
	for _, v := range muDemeaned {
		demeanedScore += v
	}

	cov := optimizer.Covariance(instrumentReturnWindow(e.raw, t-1, e.cfg.CovWindowMonths), e.cfg.CovWindowMonths)
	optRW := optimizer.RegimeWeights{
		Carry:           globalProbs[config.RegimeCarry],
		RiskOff:         globalProbs[config.RegimeRiskOff],
		Stress:          globalProbs[config.RegimeStress],
		DomesticCalm:    domesticProbs[config.DomesticCalm],
		DomesticStress:  domesticProbs[config.DomesticStress],
	}
	optResult, err := e.opt.Step(muAdj, icScores, cov, prevWeights, optRW)
	usedFallback := optResult.UsedFallback
	if err != nil && !usedFallback {
		return StepResult{}, fmt.Errorf("engine: optimiser step: %w", err)
	}

	overlayResult := e.overlayEngine.Apply(
		optResult.Weights,
		drawdown,
		realisedVolAnnual,
		globalProbs[config.RegimeRiskOff],
		domesticProbs[config.DomesticStress],
	)

	return StepResult{
		Weights:             overlayResult.Weights,
		Mu:                  muAdj,
		GlobalRegimeProbs:   globalProbs,
		DomesticRegimeProbs: domesticProbs,
		PerModelPredictions: perModel,
		UsedFallbackSolver:  usedFallback,
		BreakerOpen:         overlayResult.BreakerOpen,
		SelectionRerun:      rerun,
		RawScore:            rawScore,
		DemeanedScore:       demeanedScore,
		MergedPanel:         combined,
		FeatureSets:         featureSets,
		Equilibrium:         eqResult,
	}, nil
}

// detectRegimeChange compares the most likely global regime this step
// against the previous step's, flagging a change the way §4.8's
// pseudocode's "regime_change_flagged" gate expects.
func (e *Engine) detectRegimeChange(globalProbs map[config.Regime]float64) bool {
	current := argmaxRegime(globalProbs)
	changed := e.haveLastRegime && current != e.lastGlobalRegime
	e.lastGlobalRegime = current
	e.haveLastRegime = true
	return changed
}

func argmaxRegime(probs map[config.Regime]float64) config.Regime {
	best := config.RegimeCarry
	bestP := -1.0
	for _, r := range []config.Regime{config.RegimeCarry, config.RegimeRiskOff, config.RegimeStress} {
		if probs[r] > bestP {
			bestP = probs[r]
			best = r
		}
	}
	return best
}

func lastRegimeProbs(r *regime.Result) (map[config.Regime]float64, map[config.DomesticRegime]float64) {
	global := map[config.Regime]float64{}
	for regimeLabel, series := range r.Global {
		if len(series) > 0 {
			global[regimeLabel] = series[len(series)-1]
		}
	}
	domestic := map[config.DomesticRegime]float64{}
	for regimeLabel, series := range r.Domestic {
		if len(series) > 0 {
			domestic[regimeLabel] = series[len(series)-1]
		}
	}
	return global, domestic
}

// mergePanel combines a raw panel with a derived feature panel sharing
// the same month index (feature panels are built directly off the raw
// panel they're merged back onto, so the index always matches).
func mergePanel(raw, feat *panel.Panel) (*panel.Panel, error) {
	out := raw
	for _, name := range feat.Columns() {
		var err error
		out, err = out.WithColumn(name, feat.Column(name))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func mergeEquilibrium(p *panel.Panel, r *equilibrium.Result) (*panel.Panel, error) {
	out := p
	var err error
	if out, err = out.WithColumn("equilibrium.composite", r.Composite); err != nil {
		return nil, err
	}
	if out, err = out.WithColumn("equilibrium.selic_star", r.SelicStar); err != nil {
		return nil, err
	}
	return out, nil
}

// candidateFeatureNames is the per-instrument feature candidate pool:
// every column on the merged panel except the instrument return
// columns themselves (which are targets, never predictors). §4.8 names
// a literal per-instrument base-feature list; this engine instead hands
// the full merged candidate set to the Feature Selector (L7) for every
// instrument and lets Elastic-Net/Boruta winnow it, since L7 already
// performs exactly the relevance filtering a hand-maintained static
// per-instrument list would otherwise encode, without duplicating that
// bookkeeping in two places.
func candidateFeatureNames(p *panel.Panel, returnCols map[config.Instrument]string) []string {
	excluded := map[string]bool{}
	for _, c := range returnCols {
		excluded[c] = true
	}
	out := []string{}
	for _, name := range p.Columns() {
		if !excluded[name] {
			out = append(out, name)
		}
	}
	return out
}

// instrumentReturnWindow pulls the trailing windowMonths of each
// instrument's excess return, as of month t, for the optimiser's
// covariance estimate.
func instrumentReturnWindow(raw *panel.Panel, t, windowMonths int) map[config.Instrument][]float64 {
	out := map[config.Instrument][]float64{}
	w := raw.Window(t, windowMonths)
	for inst, col := range returnColumn {
		out[inst] = w.Column(col)
	}
	return out
}

// predictInstrument fits every registered learner on the instrument's
// selected feature sets and returns each model's single-row prediction
// for the latest available observation, plus the ensemble-combined mu.
// t is the current step's month index, used both to seed every learner's
// refit deterministically per step and to bound the training window when
// the engine is configured for rolling (non-expanding) training.
func (e *Engine) predictInstrument(t int, artefact *ModelArtefact, p *panel.Panel, y []float64) (map[string]float64, float64) {
	preds := map[string]float64{}
	weights := models.CombineWeights(artefact.PerModelOOS)

	var ensembleMu float64
	for _, name := range e.registry.Names() {
		learner, err := e.registry.New(name, e.cfg.EngineSeed+int64(t))
		if err != nil {
			continue
		}
		featureSet := artefact.NonlinearSet
		if name == "ridge" {
			featureSet = artefact.LinearSet
		}
		if len(featureSet) == 0 {
			continue
		}

		if setter, ok := learner.(models.AlphaSetter); ok {
			setter.SetAlpha(artefact.RidgeAlpha)
		}

		x := make([][]float64, len(featureSet))
		for i, f := range featureSet {
			x[i] = p.Column(f)
		}
		trainX, trainY := trailingComplete(x, y, e.cfg.ExpandingWindow, e.cfg.TrainingWindowMonths)
		if len(trainY) < len(featureSet)+3 {
			continue
		}
		if err := learner.Fit(trainX, trainY); err != nil {
			continue
		}

		lastRow := make([][]float64, len(featureSet))
		for i := range featureSet {
			col := p.Column(featureSet[i])
			lastRow[i] = []float64{col[len(col)-1]}
		}
		pred, err := learner.Predict(lastRow)
		if err != nil || len(pred) == 0 {
			continue
		}
		preds[name] = pred[0]
		ensembleMu += weights[name] * pred[0]
	}
	return preds, ensembleMu
}

// trailingComplete collects the complete (non-NaN, aligned) rows across x
// and y, then — unless expanding is true — restricts the result to the
// trailing windowMonths of those complete rows (§4.8's rolling-vs-
// expanding training window). Rows are drawn from a panel already
// truncated to asOf(t-1), so restricting further here only shrinks the
// training set; it never looks ahead of what the caller already sees.
func trailingComplete(x [][]float64, y []float64, expanding bool, windowMonths int) ([][]float64, []float64) {
	n := len(y)
	rows := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ok := true
		for _, col := range x {
			if i >= len(col) || isNaN(col[i]) {
				ok = false
				break
			}
		}
		if ok && !isNaN(y[i]) {
			rows = append(rows, i)
		}
	}
	if !expanding && windowMonths > 0 && len(rows) > windowMonths {
		rows = rows[len(rows)-windowMonths:]
	}
	outX := make([][]float64, len(x))
	for j, col := range x {
		v := make([]float64, len(rows))
		for k, r := range rows {
			v[k] = col[r]
		}
		outX[j] = v
	}
	outY := make([]float64, len(rows))
	for k, r := range rows {
		outY[k] = y[r]
	}
	return outX, outY
}

func isNaN(v float64) bool { return v != v }

// refitHyperparameters runs the §4.8 purged k-fold CV refresh for the
// Ridge learner's alpha (the only hyperparameter this engine exposes a
// grid for, mirroring GBM/RF/XGBoost's fixed, hand-tuned profiles in
// internal/models).
func (e *Engine) refitHyperparameters(artefact *ModelArtefact, p *panel.Panel, linearSet []string, y []float64) {
	if len(linearSet) == 0 {
		return
	}
	x := make([][]float64, len(linearSet))
	for i, f := range linearSet {
		x[i] = p.Column(f)
	}
	trainX, trainY := trailingComplete(x, y, e.cfg.ExpandingWindow, e.cfg.TrainingWindowMonths)
	if len(trainY) < len(linearSet)*3 {
		return
	}
	result := models.SelectRidgeAlpha(trainX, trainY, 5, 3)
	artefact.RidgeAlpha = result.BestAlpha
}
