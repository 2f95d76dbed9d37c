// Package features implements §4.4: the feature engine that builds
// rolling z-scores, the FX fair-value log-mixture, term-structure
// derivatives and the fiscal premium block on top of a raw input Panel.
// Columns this package cannot build
// because an input is absent are simply omitted — §6 requires the
// engine to degrade gracefully rather than fail the whole run.
package features

import (
	"math"

	"github.com/aristath/rstarengine/internal/panel"
	"github.com/aristath/rstarengine/internal/reg"
	"github.com/aristath/rstarengine/internal/series"
	"github.com/rs/zerolog"
)

// Raw column names this package reads, beyond the ones internal/instruments
// already defines for curve data. Named with the same raw.* prefix so a
// single input Panel can carry both instrument-synthesis and feature
// inputs.
const (
	ColUSDBRLSpot    = "raw.usdbrl_spot"
	ColPPPFactor     = "raw.ppp_factor"
	ColGDPPcRatio    = "raw.gdp_pc_ratio"
	ColREER          = "raw.reer"
	ColCurrentAcctGDP = "raw.current_account_pct_gdp"
	ColTradeOpenness = "raw.trade_openness"
	ColTermsOfTrade  = "raw.terms_of_trade"
	ColCA12M         = "raw.current_account_12m"
	ColIBC           = "raw.ibc_br"
	ColRealDiff      = "raw.real_rate_diff"

	ColDI1Y  = "raw.di_1y"
	ColDI5Y  = "raw.di_5y"
	ColDI10Y = "raw.di_10y"
	ColCDI   = "raw.cdi"

	ColUSBreakeven10Y = "raw.us_breakeven_10y"
	ColUSCPIExpect    = "raw.us_cpi_expectations"

	ColUST10Y          = "raw.ust_10y"
	ColCDS             = "raw.cds_5y"
	ColPrimaryBalance  = "raw.primary_balance"
	ColDebtToGDP       = "raw.debt_to_gdp"

	// Output feature columns.
	ColFXFairValue     = "feat.fx_fair_value"
	ColMuFXVal         = "feat.mu_fx_val"
	ColZBeer           = "feat.z_beer"
	ColTermPremiumSlope = "feat.term_premium_slope"
	ColTermPremium5Y   = "feat.term_premium_5y"
	ColUSIRP           = "feat.us_irp"
	ColFiscalPremium   = "feat.fiscal_premium"
	ColZFiscalPremium  = "feat.z_fiscal_premium"
	ColZPBMomentum     = "feat.z_pb_momentum"
	ColZDebtAccel      = "feat.z_debt_accel"
)

const (
	balassaBeta   = 0.35
	feerEpsilon   = 0.7
	feerCATarget  = -0.02
	cyclicalBeta  = 0.05
	fxValHalfLife = 36.0
	beerWindow    = 60
	beerMinPeriod = 36
	zscoreWindow  = 36
	zscoreFloor   = 1e-4
)

// Engine builds feature columns on top of an aligned raw Panel.
type Engine struct {
	log zerolog.Logger
}

// NewEngine constructs a feature Engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "features").Logger()}
}

// Build returns a new Panel holding every feature column this package
// was able to construct from raw's available inputs, keyed and aligned
// to raw's month index.
func (e *Engine) Build(raw *panel.Panel) (*panel.Panel, error) {
	n := raw.Len()
	cols := map[string][]float64{}
	skipped := []string{}

	if fv, mu, ok := e.buildFXValuation(raw); ok {
		cols[ColFXFairValue] = fv
		cols[ColMuFXVal] = mu
	} else {
		skipped = append(skipped, ColFXFairValue, ColMuFXVal)
	}

	if zbeer, ok := e.buildBEER(raw); ok {
		cols[ColZBeer] = zbeer
	} else {
		skipped = append(skipped, ColZBeer)
	}

	if slope, t5y, irp, ok := e.buildTermStructure(raw); ok {
		cols[ColTermPremiumSlope] = slope
		cols[ColTermPremium5Y] = t5y
		cols[ColUSIRP] = irp
	} else {
		skipped = append(skipped, ColTermPremiumSlope, ColTermPremium5Y, ColUSIRP)
	}

	if fp, zfp, zpb, zdebt, ok := e.buildFiscalPremium(raw); ok {
		cols[ColFiscalPremium] = fp
		cols[ColZFiscalPremium] = zfp
		cols[ColZPBMomentum] = zpb
		cols[ColZDebtAccel] = zdebt
	} else {
		skipped = append(skipped, ColFiscalPremium, ColZFiscalPremium, ColZPBMomentum, ColZDebtAccel)
	}

	if len(skipped) > 0 {
		e.log.Warn().Strs("columns", skipped).Msg("skipped feature columns with missing raw inputs")
	}

	if len(cols) == 0 {
		cols[ColFXFairValue+".placeholder"] = make([]float64, n)
		delete(cols, ColFXFairValue+".placeholder")
	}
	return panel.New(raw.Months(), cols)
}

// buildFXValuation implements the log-mixture fair-value composite and
// its half-life mean-reversion signal (§4.4). Components are combined
// as a renormalised log-mixture over whichever are available at each
// date (union, not intersection).
func (e *Engine) buildFXValuation(raw *panel.Panel) (fv []float64, mu []float64, ok bool) {
	spot := raw.Column(ColUSDBRLSpot)
	if spot == nil {
		return nil, nil, false
	}
	n := len(spot)

	ppp := raw.Column(ColPPPFactor)
	gdpRatio := raw.Column(ColGDPPcRatio)
	reer := raw.Column(ColREER)
	realDiff := raw.Column(ColRealDiff)
	ca := raw.Column(ColCurrentAcctGDP)
	openness := raw.Column(ColTradeOpenness)

	beerZ, haveBeer := e.buildBEER(raw)
	var beerFV []float64
	if haveBeer {
		// BEER contributes a fair-value *level* via spot*exp(-z), so the
		// misalignment z-score pulls spot toward its cointegrating value.
		beerFV = make([]float64, n)
		for i := range beerFV {
			if math.IsNaN(beerZ[i]) {
				beerFV[i] = math.NaN()
				continue
			}
			beerFV[i] = spot[i] * math.Exp(-beerZ[i]*0.05)
		}
	}

	anyComponent := false
	fv = make([]float64, n)
	mu = make([]float64, n)
	lnHalf := math.Log(2) / fxValHalfLife

	for i := 0; i < n; i++ {
		type weighted struct {
			w, logFV float64
		}
		var parts []weighted

		if ppp != nil && !math.IsNaN(ppp[i]) && ppp[i] > 0 {
			parts = append(parts, weighted{w: 0.3, logFV: math.Log(ppp[i])})
			if gdpRatio != nil && !math.IsNaN(gdpRatio[i]) && gdpRatio[i] > 0 {
				balassaFV := ppp[i] * math.Pow(gdpRatio[i], balassaBeta)
				parts = append(parts, weighted{w: 0.2, logFV: math.Log(balassaFV)})
			}
		}
		if beerFV != nil && !math.IsNaN(beerFV[i]) && beerFV[i] > 0 {
			parts = append(parts, weighted{w: 1.0, logFV: math.Log(beerFV[i])})
		}
		if ca != nil && openness != nil && !math.IsNaN(ca[i]) && !math.IsNaN(openness[i]) && openness[i] != 0 {
			feerFV := spot[i] * (1 + (feerCATarget-ca[i])/(feerEpsilon*openness[i]))
			if feerFV > 0 {
				parts = append(parts, weighted{w: 0.15, logFV: math.Log(feerFV)})
			}
		}
		if realDiff != nil && !math.IsNaN(realDiff[i]) {
			cyclicalFV := spot[i] * math.Exp(-cyclicalBeta*realDiff[i])
			parts = append(parts, weighted{w: 0.15, logFV: math.Log(cyclicalFV)})
		}
		_ = reer // REER enters only through BEER; no separate REER-gap component

		if len(parts) == 0 {
			fv[i] = math.NaN()
			mu[i] = math.NaN()
			continue
		}
		anyComponent = true
		var wsum, lsum float64
		for _, p := range parts {
			wsum += p.w
			lsum += p.w * p.logFV
		}
		fv[i] = math.Exp(lsum / wsum)
		mu[i] = lnHalf * math.Log(fv[i]/spot[i])
	}

	return fv, mu, anyComponent
}

// buildBEER implements §4.4.1: a rolling 60-month OLS of
// log(REER) = a + b*ToT + c*CA_12m + d*log(IBC) + e*Z_real_diff, with the
// in-sample residual at t z-scored to Z_beer.
func (e *Engine) buildBEER(raw *panel.Panel) ([]float64, bool) {
	reer := raw.Column(ColREER)
	tot := raw.Column(ColTermsOfTrade)
	ca12m := raw.Column(ColCA12M)
	ibc := raw.Column(ColIBC)
	realDiff := raw.Column(ColRealDiff)
	if reer == nil || tot == nil || ca12m == nil || ibc == nil || realDiff == nil {
		return nil, false
	}
	n := len(reer)
	logREER := make([]float64, n)
	logIBC := make([]float64, n)
	for i := 0; i < n; i++ {
		if !math.IsNaN(reer[i]) && reer[i] > 0 {
			logREER[i] = math.Log(reer[i])
		} else {
			logREER[i] = math.NaN()
		}
		if !math.IsNaN(ibc[i]) && ibc[i] > 0 {
			logIBC[i] = math.Log(ibc[i])
		} else {
			logIBC[i] = math.NaN()
		}
	}

	zRealDiff := series.ZScoreRolling(realDiff, zscoreWindow, zscoreFloor)
	resid := reg.RollingOLS(logREER, [][]float64{tot, ca12m, logIBC, zRealDiff}, beerWindow, beerMinPeriod)
	z := series.ZScoreRolling(resid, zscoreWindow, zscoreFloor)
	return z, true
}

// buildTermStructure implements §4.4.2.
func (e *Engine) buildTermStructure(raw *panel.Panel) (slope, t5y, irp []float64, ok bool) {
	di1y := raw.Column(ColDI1Y)
	di5y := raw.Column(ColDI5Y)
	di10y := raw.Column(ColDI10Y)
	cdi := raw.Column(ColCDI)
	usBreak := raw.Column(ColUSBreakeven10Y)
	usCPI := raw.Column(ColUSCPIExpect)
	if di1y == nil || di5y == nil || di10y == nil || cdi == nil {
		return nil, nil, nil, false
	}
	n := len(di1y)
	slope = make([]float64, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(di10y[i]) || math.IsNaN(di1y[i]) {
			slope[i] = math.NaN()
			continue
		}
		slope[i] = di10y[i] - di1y[i]
	}

	carry := make([]float64, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(di1y[i]) || math.IsNaN(cdi[i]) {
			carry[i] = math.NaN()
			continue
		}
		carry[i] = di1y[i] - cdi[i]
	}
	carryMean := series.RollingMean(carry, 24)

	t5y = make([]float64, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(di5y[i]) || math.IsNaN(cdi[i]) || math.IsNaN(carryMean[i]) {
			t5y[i] = math.NaN()
			continue
		}
		expectedPath := cdi[i] + carryMean[i]
		t5y[i] = di5y[i] - expectedPath
	}

	irp = make([]float64, n)
	if usBreak != nil && usCPI != nil {
		for i := 0; i < n; i++ {
			if math.IsNaN(usBreak[i]) || math.IsNaN(usCPI[i]) {
				irp[i] = math.NaN()
				continue
			}
			irp[i] = usBreak[i] - usCPI[i]
		}
	} else {
		for i := range irp {
			irp[i] = math.NaN()
		}
	}

	return slope, t5y, irp, true
}

// buildFiscalPremium implements §4.4.3.
func (e *Engine) buildFiscalPremium(raw *panel.Panel) (fp, zfp, zpb, zdebt []float64, ok bool) {
	di10y := raw.Column(ColDI10Y)
	ust10y := raw.Column(ColUST10Y)
	cds := raw.Column(ColCDS)
	pb := raw.Column(ColPrimaryBalance)
	debt := raw.Column(ColDebtToGDP)
	if di10y == nil || ust10y == nil || cds == nil {
		return nil, nil, nil, nil, false
	}
	n := len(di10y)
	fp = make([]float64, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(di10y[i]) || math.IsNaN(ust10y[i]) || math.IsNaN(cds[i]) {
			fp[i] = math.NaN()
			continue
		}
		fp[i] = (di10y[i] - ust10y[i]) - cds[i]/100
	}
	zfp = series.ZScoreRolling(fp, zscoreWindow, zscoreFloor)

	if pb != nil {
		pbChange := series.Diff12(pb)
		zpb = series.ZScoreRolling(pbChange, zscoreWindow, zscoreFloor)
	} else {
		zpb = make([]float64, n)
		for i := range zpb {
			zpb[i] = math.NaN()
		}
	}

	if debt != nil {
		debtChange := series.Diff12(debt)
		zdebt = series.ZScoreRolling(debtChange, zscoreWindow, zscoreFloor)
	} else {
		zdebt = make([]float64, n)
		for i := range zdebt {
			zdebt[i] = math.NaN()
		}
	}

	return fp, zfp, zpb, zdebt, true
}
