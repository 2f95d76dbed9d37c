// Package equilibrium implements §4.5: the composite equilibrium real
// rate r* from five parallel models, their regime-weighted composite,
// and the SELIC* Taylor-rule target built on top of it.
package equilibrium

import (
	"math"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/aristath/rstarengine/internal/panel"
	"github.com/aristath/rstarengine/internal/reg"
	"github.com/aristath/rstarengine/internal/series"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Raw column names consumed here, beyond what internal/instruments and
// internal/features already define.
const (
	ColCDI         = "raw.cdi"
	ColInflExp12M  = "raw.ipca_expectations_12m"
	ColInfl12M     = "raw.ipca_12m"
	ColDebtToGDP   = "raw.debt_to_gdp"
	ColPrimaryBal  = "raw.primary_balance"
	ColCDS         = "raw.cds_5y"
	ColEMBI        = "raw.embi"
	ColUSTIPS5Y    = "raw.us_tips_5y"
	ColUSTIPS10Y   = "raw.us_tips_10y"
	ColVIX         = "raw.vix"
	ColIBC         = "raw.ibc_br"
	ColTermsOfTrade = "raw.terms_of_trade"

	ColDI3M  = "raw.di_3m"
	ColDI6M  = "raw.di_6m"
	ColDI1Y  = "raw.di_1y"
	ColDI2Y  = "raw.di_2y"
	ColDI5Y  = "raw.di_5y"
)

const (
	clipLo = 2.0
	clipHi = 10.0

	fiscalWindow    = 60
	fiscalMinPeriod = 30
	acmWindow       = 60
	acmMinPeriod    = 36
	parityWindow    = 24
	kalmanQ         = 0.05 // process variance, r*
	kalmanQg        = 0.05
	kalmanQz        = 0.05
	kalmanR1        = 0.3 // measurement variance, ex-ante real rate
	kalmanR2        = 0.3 // measurement variance, output gap
	regimeSwitchWindow = 60
)

// Estimator builds the five r* models plus the regime-weighted composite
// and SELIC* target.
type Estimator struct {
	log    zerolog.Logger
	priors config.Priors
}

// NewEstimator constructs an Estimator.
func NewEstimator(log zerolog.Logger, priors config.Priors) *Estimator {
	return &Estimator{log: log.With().Str("component", "equilibrium").Logger(), priors: priors}
}

// ModelResult holds one model's r* series plus whatever decomposition it
// publishes (Fiscal-Augmented's {base,fiscal,sovereign}, ACM's term
// premium). Decomposition is nil when a model publishes none.
type ModelResult struct {
	RStar          []float64
	Decomposition  map[string][]float64
}

// Result is the full output of a Build call: every model plus the
// regime-weighted composite and SELIC* target.
type Result struct {
	Models     map[string]ModelResult
	Composite  []float64
	SelicStar  []float64
}

// RegimeWeights gives the probability of each global regime at every
// month, used as the regime-switching (fifth) model's own weighting and
// to blend selicStar's coefficients; the composite's model weights do not
// depend on it. Passing nil means "not yet known" (§4.5's initial phase):
// Build then uses regime-neutral equal thirds.
type RegimeWeights struct {
	Carry, RiskOff, Stress []float64
}

func neutralRegimeWeights(n int) RegimeWeights {
	rw := RegimeWeights{Carry: make([]float64, n), RiskOff: make([]float64, n), Stress: make([]float64, n)}
	for i := 0; i < n; i++ {
		rw.Carry[i], rw.RiskOff[i], rw.Stress[i] = 1.0/3, 1.0/3, 1.0/3
	}
	return rw
}

// baseWeights are the regime-agnostic model weights §4.5 names: the
// composite blends these, renormalised over the models present, with no
// regime tilt.
var baseWeights = map[string]float64{
	"state_space":    0.30,
	"market_implied": 0.25,
	"fiscal":         0.20,
	"parity":         0.15,
	"regime":         0.10,
}

// Build computes every r* model available from raw's columns, the
// base-weighted composite, and SELIC*. includeRegimeModel controls
// whether the Regime-Switching model (the fifth model) is included —
// §4.5's two-phase protocol adds it only once real regime probabilities
// are known.
func (e *Estimator) Build(raw *panel.Panel, rw *RegimeWeights, includeRegimeModel bool) (*Result, error) {
	n := raw.Len()
	if rw == nil {
		neutral := neutralRegimeWeights(n)
		rw = &neutral
	}

	models := map[string]ModelResult{}

	if fiscal, decomp, ok := e.fiscalAugmented(raw); ok {
		models["fiscal"] = ModelResult{RStar: clip(fiscal), Decomposition: decomp}
	}
	if parity, ok := e.realRateParity(raw); ok {
		models["parity"] = ModelResult{RStar: clip(parity)}
	}
	if acm, termPremium, ok := e.marketImplied(raw); ok {
		models["market_implied"] = ModelResult{RStar: clip(acm), Decomposition: map[string][]float64{"term_premium_5y": termPremium}}
	}
	if kf, ok := e.kalman(raw); ok {
		models["state_space"] = ModelResult{RStar: clip(kf)}
	}
	if includeRegimeModel {
		if rs, ok := e.regimeSwitching(raw, *rw); ok {
			models["regime"] = ModelResult{RStar: clip(rs)}
		}
	}

	composite := e.composite(n, models, *rw)
	selic := e.selicStar(raw, composite, *rw)

	return &Result{Models: models, Composite: composite, SelicStar: selic}, nil
}

func clip(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, v := range xs {
		if math.IsNaN(v) {
			out[i] = v
			continue
		}
		out[i] = math.Max(clipLo, math.Min(clipHi, v))
	}
	return out
}

// fiscalAugmented computes r* as FiscalRBase plus the configured prior
// betas applied to Delta12(debt/GDP), primary balance, CDS_centred and
// EMBI_centred (§4.5). A single ridge fit of (CDI - pi_exp) on those
// predictors over the whole panel (lambda = prior_weight * n, shrunk
// toward zero) is run, but its coefficients are not used: it only gates
// the output, which is all NaN if that fit fails. There is no rolling
// window and no fitted shrinkage toward the priors.
func (e *Estimator) fiscalAugmented(raw *panel.Panel) ([]float64, map[string][]float64, bool) {
	cdi := raw.Column(ColCDI)
	piExp := raw.Column(ColInflExp12M)
	debt := raw.Column(ColDebtToGDP)
	pb := raw.Column(ColPrimaryBal)
	cds := raw.Column(ColCDS)
	embi := raw.Column(ColEMBI)
	if cdi == nil || piExp == nil || debt == nil || pb == nil {
		return nil, nil, false
	}
	n := len(cdi)

	realRate := make([]float64, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(cdi[i]) || math.IsNaN(piExp[i]) {
			realRate[i] = math.NaN()
			continue
		}
		realRate[i] = (cdi[i] - piExp[i]) * 100 // percentage points, matching r_base=4.0's scale
	}

	debtAccel := series.Diff12(debt)
	cdsCentred := centre(cds)
	embiCentred := centre(embi)

	predictors := [][]float64{debtAccel, pb, cdsCentred, embiCentred}
	lambda := e.priors.FiscalPriorWeight * float64(n)

	fit, err := reg.Ridge(realRate, predictors, lambda)
	base := e.priors.FiscalRBase

	fiscalComp := make([]float64, n)
	sovereignComp := make([]float64, n)
	rstar := make([]float64, n)
	for i := 0; i < n; i++ {
		if err != nil || math.IsNaN(debtAccel[i]) || math.IsNaN(pb[i]) {
			rstar[i] = math.NaN()
			fiscalComp[i] = math.NaN()
			sovereignComp[i] = math.NaN()
			continue
		}
		dFiscal := e.priors.FiscalDebtBeta*debtAccel[i] + e.priors.FiscalPBBeta*pb[i]
		dSovereign := 0.0
		if !math.IsNaN(cdsCentred[i]) {
			dSovereign += e.priors.FiscalCDSBeta * cdsCentred[i]
		}
		if !math.IsNaN(embiCentred[i]) {
			dSovereign += e.priors.FiscalEMBIBeta * embiCentred[i]
		}
		fiscalComp[i] = dFiscal
		sovereignComp[i] = dSovereign
		rstar[i] = base + dFiscal + dSovereign
	}
	_ = fit

	return rstar, map[string][]float64{"base": constSeries(n, base), "fiscal": fiscalComp, "sovereign": sovereignComp}, true
}

func constSeries(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func centre(xs []float64) []float64 {
	if xs == nil {
		return nil
	}
	mean := series.RollingMean(xs, 60)
	out := make([]float64, len(xs))
	for i, v := range xs {
		if math.IsNaN(v) || math.IsNaN(mean[i]) {
			out[i] = math.NaN()
			continue
		}
		out[i] = v - mean[i]
	}
	return out
}

// realRateParity implements §4.5's parity model.
func (e *Estimator) realRateParity(raw *panel.Panel) ([]float64, bool) {
	tips5y := raw.Column(ColUSTIPS5Y)
	tips10y := raw.Column(ColUSTIPS10Y)
	cds := raw.Column(ColCDS)
	embi := raw.Column(ColEMBI)
	vix := raw.Column(ColVIX)
	debt := raw.Column(ColDebtToGDP)
	tot := raw.Column(ColTermsOfTrade)
	if tips5y == nil && tips10y == nil {
		return nil, false
	}
	n := raw.Len()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		rUS := math.NaN()
		if tips5y != nil && !math.IsNaN(tips5y[i]) {
			rUS = tips5y[i] * 100
		} else if tips10y != nil && !math.IsNaN(tips10y[i]) {
			rUS = tips10y[i] * 100
		}
		if math.IsNaN(rUS) {
			out[i] = math.NaN()
			continue
		}
		countryRisk := 0.0
		haveRisk := false
		if cds != nil && !math.IsNaN(cds[i]) {
			countryRisk = cds[i] / 100
			haveRisk = true
		}
		if embi != nil && !math.IsNaN(embi[i]) {
			alt := 0.7 * embi[i] / 100
			if !haveRisk || alt > countryRisk {
				countryRisk = alt
			}
			haveRisk = true
		}
		vixAdjust := 0.0
		if vix != nil && !math.IsNaN(vix[i]) {
			vixAdjust = 0.02 * math.Max(0, vix[i]-20)
		}
		structuralPremium := 0.0
		if debt != nil && !math.IsNaN(debt[i]) {
			structuralPremium = 0.03 * math.Max(0, debt[i]-60)
		}
		totAdjust := 0.0
		if tot != nil {
			totMean := series.RollingMean(tot, parityWindow)
			if !math.IsNaN(tot[i]) && !math.IsNaN(totMean[i]) {
				totAdjust = -0.01 * (tot[i] - totMean[i]) / math.Max(1, totMean[i]) * 100
			}
		}
		out[i] = rUS + countryRisk + vixAdjust + structuralPremium + totAdjust
	}
	return out, true
}

// marketImplied implements §4.5's ACM-style model: rolling PCA(3) on the
// DI curve cross-section, an AR(1) on the first factor's scores only (the
// other factors are not modelled and there is no VAR across factors),
// and that factor's long-run level c/(1-phi) mapped back to the short end
// via its loadings.
func (e *Estimator) marketImplied(raw *panel.Panel) ([]float64, []float64, bool) {
	tenors := []string{ColDI3M, ColDI6M, ColDI1Y, ColDI2Y, ColDI5Y}
	cols := make([][]float64, 0, len(tenors))
	for _, t := range tenors {
		c := raw.Column(t)
		if c != nil {
			cols = append(cols, c)
		}
	}
	piExp := raw.Column(ColInflExp12M)
	if len(cols) < 3 || piExp == nil {
		return nil, nil, false
	}
	n := raw.Len()
	out := make([]float64, n)
	termPremium := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
		termPremium[i] = math.NaN()
	}

	for t := acmMinPeriod; t < n; t++ {
		lo := t - acmWindow + 1
		if lo < 0 {
			lo = 0
		}
		window := t - lo + 1

		rows := make([]float64, 0, window*len(cols))
		validRows := 0
		for r := lo; r <= t; r++ {
			ok := true
			vals := make([]float64, len(cols))
			for j, c := range cols {
				if math.IsNaN(c[r]) {
					ok = false
					break
				}
				vals[j] = c[r]
			}
			if !ok {
				continue
			}
			rows = append(rows, vals...)
			validRows++
		}
		if validRows < fiscalMinPeriod/2 {
			continue
		}

		data := mat.NewDense(validRows, len(cols), rows)
		var pc stat.PC
		ok := pc.PrincipalComponents(data, nil)
		if !ok {
			continue
		}
		k := 3
		if len(cols) < k {
			k = len(cols)
		}
		var vecs mat.Dense
		pc.VectorsTo(&vecs)

		var scores mat.Dense
		scores.Mul(data, vecs.Slice(0, len(cols), 0, k))

		factor0 := make([]float64, validRows)
		for r := 0; r < validRows; r++ {
			factor0[r] = scores.At(r, 0)
		}
		if validRows < 4 {
			continue
		}
		yLag := factor0[:validRows-1]
		yCur := factor0[1:]
		fit, err := reg.OLS(yCur, [][]float64{yLag})
		if err != nil || len(fit.Beta) == 0 {
			continue
		}
		phi := fit.Beta[0]
		c := fit.Alpha
		if math.Abs(1-phi) < 1e-6 {
			continue
		}
		longRunFactor0 := c / (1 - phi)

		meanShort := longRunFactor0 * vecs.At(0, 0)
		for j := 1; j < len(cols) && j < 2; j++ {
			meanShort += longRunFactor0 * vecs.At(j, 0)
		}
		meanShort /= 2

		if !math.IsNaN(piExp[t]) {
			out[t] = (meanShort - piExp[t]) * 100
		}
		if len(cols) >= 5 {
			termPremium[t] = cols[4][t] - meanShort
		}
	}

	return out, termPremium, true
}

// kalmanState holds the 3-state [r*, g, z] filter state.
type kalmanState struct {
	x    [3]float64
	p    [3][3]float64
	init bool
}

// kalman implements §4.5's linear state-space model with two
// observations (ex-ante real rate, output gap from log-IBC deviation
// from its 60-month mean) and fiscal/external impulses at the predict
// step.
func (e *Estimator) kalman(raw *panel.Panel) ([]float64, bool) {
	cdi := raw.Column(ColCDI)
	piExp := raw.Column(ColInflExp12M)
	ibc := raw.Column(ColIBC)
	debt := raw.Column(ColDebtToGDP)
	cds := raw.Column(ColCDS)
	if cdi == nil || piExp == nil || ibc == nil {
		return nil, false
	}
	n := raw.Len()

	logIBC := make([]float64, n)
	for i, v := range ibc {
		if !math.IsNaN(v) && v > 0 {
			logIBC[i] = math.Log(v)
		} else {
			logIBC[i] = math.NaN()
		}
	}
	ibcMean := series.RollingMean(logIBC, 60)

	debtChange := series.Diff(debt)
	cdsChange := series.Diff(cds)

	st := kalmanState{x: [3]float64{4.0, 0.0, 0.0}}
	st.p = [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		// Predict.
		impulse := 0.0
		if debtChange != nil && i < len(debtChange) && !math.IsNaN(debtChange[i]) {
			impulse += 0.02 * debtChange[i]
		}
		if cdsChange != nil && i < len(cdsChange) && !math.IsNaN(cdsChange[i]) {
			impulse += 0.005 * cdsChange[i]
		}
		st.x[0] += impulse
		st.p[0][0] += kalmanQ
		st.p[1][1] += kalmanQg
		st.p[2][2] += kalmanQz

		// Update with ex-ante real rate observation: z1 = x0 + x2.
		if !math.IsNaN(cdi[i]) && !math.IsNaN(piExp[i]) {
			realRate := (cdi[i] - piExp[i]) * 100
			innovation := realRate - (st.x[0] + st.x[2])
			sInno := st.p[0][0] + 2*st.p[0][2] + st.p[2][2] + kalmanR1
			if sInno > 1e-9 {
				k0 := (st.p[0][0] + st.p[0][2]) / sInno
				k2 := (st.p[2][0] + st.p[2][2]) / sInno
				st.x[0] += k0 * innovation
				st.x[2] += k2 * innovation
				st.p[0][0] *= (1 - k0)
				st.p[2][2] *= (1 - k2)
			}
		}
		// Update with output gap observation: z2 = x1.
		if !math.IsNaN(logIBC[i]) && !math.IsNaN(ibcMean[i]) {
			gap := (logIBC[i] - ibcMean[i]) * 100
			innovation := gap - st.x[1]
			sInno := st.p[1][1] + kalmanR2
			if sInno > 1e-9 {
				k1 := st.p[1][1] / sInno
				st.x[1] += k1 * innovation
				st.p[1][1] *= (1 - k1)
			}
		}
		out[i] = st.x[0]
	}
	return out, true
}

// regimeSwitching implements §4.5's prior-shrunk regime-weighted mean
// model: r* = sum(P(s)*mu_s), with mu_s updated by a rolling-60m
// weighted mean of the observed real rate per regime, shrunk toward the
// literature prior.
func (e *Estimator) regimeSwitching(raw *panel.Panel, rw RegimeWeights) ([]float64, bool) {
	cdi := raw.Column(ColCDI)
	piExp := raw.Column(ColInflExp12M)
	if cdi == nil || piExp == nil {
		return nil, false
	}
	n := raw.Len()
	realRate := make([]float64, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(cdi[i]) || math.IsNaN(piExp[i]) {
			realRate[i] = math.NaN()
			continue
		}
		realRate[i] = (cdi[i] - piExp[i]) * 100
	}

	muCarry := e.priors.RegimeSwitchPriorMu[config.RegimeCarry]
	muRiskOff := e.priors.RegimeSwitchPriorMu[config.RegimeRiskOff]
	muStress := e.priors.RegimeSwitchPriorMu[config.RegimeStress]
	shrink := e.priors.RegimeSwitchShrinkToPrior

	out := make([]float64, n)
	for t := 0; t < n; t++ {
		lo := t - regimeSwitchWindow + 1
		if lo < 0 {
			lo = 0
		}
		numCarry, wCarry := 0.0, 0.0
		numRiskOff, wRiskOff := 0.0, 0.0
		numStress, wStress := 0.0, 0.0
		for r := lo; r <= t; r++ {
			if math.IsNaN(realRate[r]) {
				continue
			}
			numCarry += rw.Carry[r] * realRate[r]
			wCarry += rw.Carry[r]
			numRiskOff += rw.RiskOff[r] * realRate[r]
			wRiskOff += rw.RiskOff[r]
			numStress += rw.Stress[r] * realRate[r]
			wStress += rw.Stress[r]
		}
		observedCarry := muCarry
		if wCarry > 1e-6 {
			observedCarry = numCarry / wCarry
		}
		observedRiskOff := muRiskOff
		if wRiskOff > 1e-6 {
			observedRiskOff = numRiskOff / wRiskOff
		}
		observedStress := muStress
		if wStress > 1e-6 {
			observedStress = numStress / wStress
		}

		muCarryT := (1-shrink)*observedCarry + shrink*muCarry
		muRiskOffT := (1-shrink)*observedRiskOff + shrink*muRiskOff
		muStressT := (1-shrink)*observedStress + shrink*muStress

		out[t] = rw.Carry[t]*muCarryT + rw.RiskOff[t]*muRiskOffT + rw.Stress[t]*muStressT
	}
	return out, true
}

// composite blends whichever models are available, renormalising the
// fixed baseWeights over the models present at each date: models absent
// (or NaN) at a given date simply drop out of the renormalisation. rw is
// not used here; the model weights are the same in every regime.
func (e *Estimator) composite(n int, models map[string]ModelResult, rw RegimeWeights) []float64 {
	out := make([]float64, n)
	for t := 0; t < n; t++ {
		var wsum, vsum float64
		for name, w := range baseWeights {
			m, ok := models[name]
			if !ok || math.IsNaN(m.RStar[t]) {
				continue
			}
			wsum += w
			vsum += w * m.RStar[t]
		}
		if wsum < 1e-9 {
			out[t] = math.NaN()
			continue
		}
		out[t] = vsum / wsum
	}
	return out
}

// selicStar implements §4.5's Taylor-rule target on top of the
// composite, with regime-blended coefficients and a glide path for the
// inflation target.
func (e *Estimator) selicStar(raw *panel.Panel, composite []float64, rw RegimeWeights) []float64 {
	piExp := raw.Column(ColInflExp12M)
	infl12m := raw.Column(ColInfl12M)
	ibc := raw.Column(ColIBC)
	n := raw.Len()
	out := make([]float64, n)

	logIBC := make([]float64, n)
	for i, v := range ibc {
		if ibc != nil && !math.IsNaN(v) && v > 0 {
			logIBC[i] = math.Log(v)
		} else {
			logIBC[i] = math.NaN()
		}
	}
	ibcMean := series.RollingMean(logIBC, 60)

	for t := 0; t < n; t++ {
		if math.IsNaN(composite[t]) || piExp == nil || math.IsNaN(piExp[t]) {
			out[t] = math.NaN()
			continue
		}
		alpha := 1.0*rw.Carry[t] + 0.8*rw.RiskOff[t] + 1.5*rw.Stress[t]
		beta := 0.3*rw.Carry[t] + 0.2*rw.RiskOff[t] + 0.1*rw.Stress[t]

		piTarget := inflationTargetSchedule(t)
		inflGap := 0.0
		if infl12m != nil && !math.IsNaN(infl12m[t]) {
			// infl12m and piTarget are both fraction-scale (0.045, not
			// 4.5); express the gap in percentage points here so it
			// divides back out consistently with outputGap below.
			inflGap = (infl12m[t] - piTarget) * 100
		}
		outputGap := 0.0
		if ibc != nil && !math.IsNaN(logIBC[t]) && !math.IsNaN(ibcMean[t]) {
			outputGap = (logIBC[t] - ibcMean[t]) * 100
		}
		out[t] = composite[t]/100 + piExp[t] + alpha*inflGap/100 + beta*outputGap/100
	}
	return out
}

// inflationTargetSchedule implements the published Brazilian
// inflation-target glide path the spec calls for (4.5% -> 3.0%), as a
// function of month index rather than calendar date since Panel indices
// carry no calendar anchor of their own; callers mapping real calendar
// months should prefer a config-supplied schedule where available. This
// linear approximation glides over 10 years (120 months). Returned in
// fraction scale (0.045, not 4.5) to match infl12m/piExp's convention
// (internal/instruments documents it; every raw inflation series in this
// codebase is a decimal fraction).
func inflationTargetSchedule(monthIdx int) float64 {
	const startTarget = 0.045
	const endTarget = 0.030
	const glideMonths = 120.0
	frac := float64(monthIdx) / glideMonths
	if frac > 1 {
		frac = 1
	}
	return startTarget - frac*(startTarget-endTarget)
}
