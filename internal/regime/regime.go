// Package regime implements §4.6: two independent Gaussian HMMs (a
// global 3-state carry/stress/risk-off model and a domestic 2-state
// calm/stress model) fit by Baum-Welch EM on standardised observables,
// with state-conditional-mean labelling and a uniform-prior fallback on
// fit failure.
package regime

import (
	"math"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/aristath/rstarengine/internal/panel"
	"github.com/aristath/rstarengine/internal/series"
	"github.com/rs/zerolog"
)

// Raw column names this package reads.
const (
	ColDXY      = "raw.dxy"
	ColVIX      = "raw.vix"
	ColUST10Y   = "raw.ust_10y"
	ColUSHYOAS  = "raw.us_hy_oas"
	ColBCOM     = "raw.bcom"
	ColEWZ      = "raw.ewz"

	ColCDS         = "raw.cds_5y"
	ColUSDBRLSpot  = "raw.usdbrl_spot"
	ColDebtToGDP   = "raw.debt_to_gdp"
	ColREER        = "raw.reer"
	ColDI1Y        = "raw.di_1y"
	ColDI10Y       = "raw.di_10y"
	ColPolicyGap   = "feat.policy_gap"
	ColFiscalComp  = "feat.fiscal_component"
)

const (
	globalStates    = 3
	domesticStates  = 2
	globalMinTrain  = 36
	fxVolWindow     = 6
	reerMeanWindow  = 36
	emMaxIter       = 100
	emTol           = 1e-4
)

// Result holds the smoothed state probabilities (§4.6) for one date
// range, labelled with the engine's Regime/DomesticRegime types, plus
// whether a uniform-prior fallback was used.
type Result struct {
	Global         map[config.Regime][]float64
	Domestic       map[config.DomesticRegime][]float64
	GlobalFallback bool
	DomesticFallback bool
}

// Engine fits and caches the two HMMs, refitting on the configured
// cadence with an expanding window (§4.6).
type Engine struct {
	log           zerolog.Logger
	refitInterval int

	globalModel      *gaussianHMM
	globalLabelOrder []config.Regime
	globalFitMonth   int

	domesticModel      *gaussianHMM
	domesticLabelOrder []config.DomesticRegime
	domesticFitMonth   int
}

// NewEngine constructs a regime Engine.
func NewEngine(log zerolog.Logger, refitIntervalMonths int) *Engine {
	return &Engine{log: log.With().Str("component", "regime").Logger(), refitInterval: refitIntervalMonths}
}

// Step computes regime probabilities as of raw's last month, refitting
// either HMM if it has never been fit or the refit cadence has elapsed.
// raw must already be an AsOf(t) slice — Step never looks past the last
// row it is given.
func (e *Engine) Step(raw *panel.Panel) (*Result, error) {
	globalObs, globalOK := e.globalObservations(raw)
	domesticObs, domesticOK := e.domesticObservations(raw)

	res := &Result{Global: map[config.Regime][]float64{}, Domestic: map[config.DomesticRegime][]float64{}}

	n := raw.Len()
	lastMonth, _ := raw.LastMonth()

	if globalOK {
		needsFit := e.globalModel == nil || (e.refitInterval > 0 && lastMonth-e.globalFitMonth >= e.refitInterval)
		if needsFit {
			m := newGaussianHMM(globalStates, len(globalObs[0]))
			if err := m.fit(globalObs, emMaxIter, emTol); err == nil {
				e.globalModel = m
				e.globalFitMonth = lastMonth
				e.globalLabelOrder = labelGlobal(m)
				e.log.Info().Int("month", lastMonth).Msg("refit global regime HMM")
			} else {
				e.log.Warn().Err(err).Msg("global regime HMM fit failed, falling back to uniform priors")
				e.globalModel = nil
			}
		}
	}

	if e.globalModel != nil {
		gamma, err := e.globalModel.stateProbabilities(globalObs)
		if err != nil {
			e.log.Warn().Err(err).Msg("global regime smoothing failed, falling back to uniform priors")
			e.globalModel = nil
		} else {
			fillRegimeProbs(res.Global, gamma, e.globalLabelOrder, n)
		}
	}
	if e.globalModel == nil {
		uniformRegime(res.Global, n)
		res.GlobalFallback = true
	}

	if domesticOK {
		needsFit := e.domesticModel == nil || (e.refitInterval > 0 && lastMonth-e.domesticFitMonth >= e.refitInterval)
		if needsFit {
			m := newGaussianHMM(domesticStates, len(domesticObs[0]))
			if err := m.fit(domesticObs, emMaxIter, emTol); err == nil {
				e.domesticModel = m
				e.domesticFitMonth = lastMonth
				e.domesticLabelOrder = labelDomestic(m)
				e.log.Info().Int("month", lastMonth).Msg("refit domestic regime HMM")
			} else {
				e.log.Warn().Err(err).Msg("domestic regime HMM fit failed, falling back to uniform priors")
				e.domesticModel = nil
			}
		}
	}

	if e.domesticModel != nil {
		gamma, err := e.domesticModel.stateProbabilities(domesticObs)
		if err != nil {
			e.log.Warn().Err(err).Msg("domestic regime smoothing failed, falling back to uniform priors")
			e.domesticModel = nil
		} else {
			fillDomesticProbs(res.Domestic, gamma, e.domesticLabelOrder, n)
		}
	}
	if e.domesticModel == nil {
		uniformDomestic(res.Domestic, n)
		res.DomesticFallback = true
	}

	return res, nil
}

func fillRegimeProbs(out map[config.Regime][]float64, gamma [][]float64, labels []config.Regime, n int) {
	for _, r := range []config.Regime{config.RegimeCarry, config.RegimeRiskOff, config.RegimeStress} {
		out[r] = make([]float64, n)
	}
	offset := n - len(gamma)
	for t, row := range gamma {
		for s, p := range row {
			out[labels[s]][offset+t] = p
		}
	}
	for i := 0; i < offset; i++ {
		out[config.RegimeCarry][i] = 1.0 / 3
		out[config.RegimeRiskOff][i] = 1.0 / 3
		out[config.RegimeStress][i] = 1.0 / 3
	}
}

func fillDomesticProbs(out map[config.DomesticRegime][]float64, gamma [][]float64, labels []config.DomesticRegime, n int) {
	for _, r := range []config.DomesticRegime{config.DomesticCalm, config.DomesticStress} {
		out[r] = make([]float64, n)
	}
	offset := n - len(gamma)
	for t, row := range gamma {
		for s, p := range row {
			out[labels[s]][offset+t] = p
		}
	}
	for i := 0; i < offset; i++ {
		out[config.DomesticCalm][i] = 0.5
		out[config.DomesticStress][i] = 0.5
	}
}

func uniformRegime(out map[config.Regime][]float64, n int) {
	for _, r := range []config.Regime{config.RegimeCarry, config.RegimeRiskOff, config.RegimeStress} {
		v := make([]float64, n)
		for i := range v {
			v[i] = 1.0 / 3
		}
		out[r] = v
	}
}

func uniformDomestic(out map[config.DomesticRegime][]float64, n int) {
	for _, r := range []config.DomesticRegime{config.DomesticCalm, config.DomesticStress} {
		v := make([]float64, n)
		for i := range v {
			v[i] = 0.5
		}
		out[r] = v
	}
}

// labelGlobal orders the 3 fitted states by mean VIX ascending and
// assigns carry < stress < risk-off per §4.6's literal ordering.
func labelGlobal(m *gaussianHMM) []config.Regime {
	order := m.stressColumnOrder(1) // column index 1 is VIX, see globalObservations
	labels := make([]config.Regime, m.k)
	seq := []config.Regime{config.RegimeCarry, config.RegimeStress, config.RegimeRiskOff}
	for rank, state := range order {
		labels[state] = seq[rank]
	}
	return labels
}

// labelDomestic orders the 2 fitted states by mean ΔCDS ascending:
// calm < stress.
func labelDomestic(m *gaussianHMM) []config.DomesticRegime {
	order := m.stressColumnOrder(0) // column index 0 is Delta-log(CDS)
	labels := make([]config.DomesticRegime, m.k)
	seq := []config.DomesticRegime{config.DomesticCalm, config.DomesticStress}
	for rank, state := range order {
		labels[state] = seq[rank]
	}
	return labels
}

// globalObservations builds the standardised [Dlog(DXY), VIX, DUST10,
// US HY OAS, Dlog(BCOM), Dlog(EWZ)] observation matrix (§4.6), returning
// ok=false if any required raw column is entirely absent.
func (e *Engine) globalObservations(raw *panel.Panel) ([][]float64, bool) {
	dxy := raw.Column(ColDXY)
	vix := raw.Column(ColVIX)
	ust10 := raw.Column(ColUST10Y)
	hyoas := raw.Column(ColUSHYOAS)
	bcom := raw.Column(ColBCOM)
	ewz := raw.Column(ColEWZ)
	if dxy == nil || vix == nil || ust10 == nil || hyoas == nil || bcom == nil || ewz == nil {
		return nil, false
	}

	dDXY := series.LogReturn(dxy)
	dUST10 := series.Diff(ust10)
	dBCOM := series.LogReturn(bcom)
	dEWZ := series.LogReturn(ewz)

	cols := [][]float64{
		series.ZScoreRolling(dDXY, 36, 1e-4),
		series.ZScoreRolling(vix, 36, 1e-4),
		series.ZScoreRolling(dUST10, 36, 1e-4),
		series.ZScoreRolling(hyoas, 36, 1e-4),
		series.ZScoreRolling(dBCOM, 36, 1e-4),
		series.ZScoreRolling(dEWZ, 36, 1e-4),
	}
	// Use raw VIX (not its z-score) as the literal label-ordering column
	// so stressColumnOrder's "VIX" reference matches §4.6's own language;
	// feed standardised VIX into the fit, but carry the raw level through
	// a second emission column would complicate the filter, so the
	// z-scored VIX is used consistently for both fit and ordering (the
	// ordering is invariant to the monotone z-score transform).
	return validRows(cols)
}

// domesticObservations builds the standardised [Dlog(CDS), 6m rolling FX
// vol, D12(debt/GDP), log(REER)-36m mean, DI_10Y-DI_1Y, policy_gap,
// fiscal_component] matrix. The last two are included only when present.
func (e *Engine) domesticObservations(raw *panel.Panel) ([][]float64, bool) {
	cds := raw.Column(ColCDS)
	spot := raw.Column(ColUSDBRLSpot)
	debt := raw.Column(ColDebtToGDP)
	reer := raw.Column(ColREER)
	di1y := raw.Column(ColDI1Y)
	di10y := raw.Column(ColDI10Y)
	if cds == nil || spot == nil || debt == nil || reer == nil || di1y == nil || di10y == nil {
		return nil, false
	}
	n := len(cds)

	dCDS := series.LogReturn(cds)
	fxRet := series.LogReturn(spot)
	fxVol := series.RollingStd(fxRet, fxVolWindow)
	for i := range fxVol {
		if !math.IsNaN(fxVol[i]) {
			fxVol[i] *= math.Sqrt(12)
		}
	}
	debtAccel := series.Diff12(debt)

	logREER := make([]float64, n)
	for i, v := range reer {
		if !math.IsNaN(v) && v > 0 {
			logREER[i] = math.Log(v)
		} else {
			logREER[i] = math.NaN()
		}
	}
	reerMean := series.RollingMean(logREER, reerMeanWindow)
	reerGap := make([]float64, n)
	for i := range reerGap {
		if math.IsNaN(logREER[i]) || math.IsNaN(reerMean[i]) {
			reerGap[i] = math.NaN()
			continue
		}
		reerGap[i] = logREER[i] - reerMean[i]
	}

	slope := make([]float64, n)
	for i := range slope {
		if math.IsNaN(di10y[i]) || math.IsNaN(di1y[i]) {
			slope[i] = math.NaN()
			continue
		}
		slope[i] = di10y[i] - di1y[i]
	}

	cols := [][]float64{
		series.ZScoreRolling(dCDS, 36, 1e-4),
		series.ZScoreRolling(fxVol, 36, 1e-4),
		series.ZScoreRolling(debtAccel, 36, 1e-4),
		series.ZScoreRolling(reerGap, 36, 1e-4),
		series.ZScoreRolling(slope, 36, 1e-4),
	}

	if pg := raw.Column(ColPolicyGap); pg != nil {
		cols = append(cols, series.ZScoreRolling(pg, 36, 1e-4))
	}
	if fc := raw.Column(ColFiscalComp); fc != nil {
		cols = append(cols, series.ZScoreRolling(fc, 36, 1e-4))
	}

	return validRows(cols)
}

// validRows transposes column-major series into row-major observations,
// dropping rows with any NaN; HMM fitting needs complete rows, and the
// minimum-training-size check in fit() catches the case where too few
// survive. Assumes NaNs cluster at the start of the window (every
// rolling z-score's warm-up period) rather than scattered mid-series —
// true for the monthly macro panels this engine builds, and callers
// (fillRegimeProbs/fillDomesticProbs) lean on that to map the trimmed
// gamma output back onto the panel's trailing dates.
func validRows(cols [][]float64) ([][]float64, bool) {
	if len(cols) == 0 {
		return nil, false
	}
	n := len(cols[0])
	out := make([][]float64, 0, n)
	for t := 0; t < n; t++ {
		ok := true
		row := make([]float64, len(cols))
		for c, col := range cols {
			if math.IsNaN(col[t]) {
				ok = false
				break
			}
			row[c] = col[t]
		}
		if ok {
			out = append(out, row)
		}
	}
	if len(out) < globalMinTrain {
		return out, false
	}
	return out, true
}
