// Package config provides the single typed configuration record for the
// macro-risk engine.
//
// Configuration Loading Order (mirrors aristath/sentinel's
// internal/config):
//  1. Defaults (compiled in, matching spec.md §9).
//  2. .env file, if present, via github.com/joho/godotenv.
//  3. Process environment variables (override the .env file).
//
// Validate() must be called once construction completes; it raises
// engerr.ErrConfigError synchronously, before any data is loaded, per
// §7's ConfigError policy.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/aristath/rstarengine/internal/engerr"
	"github.com/joho/godotenv"
)

// Instrument is the closed set of six tradables the engine allocates
// across.
type Instrument string

const (
	FX    Instrument = "fx"
	Front Instrument = "front"
	Belly Instrument = "belly"
	Long  Instrument = "long"
	Hard  Instrument = "hard"
	NTNB  Instrument = "ntnb"
)

// Instruments lists the six instruments in their canonical order; every
// instrument-keyed map in this codebase is iterated in this order when
// determinism matters (vector construction for the optimiser, etc).
var Instruments = []Instrument{FX, Front, Belly, Long, Hard, NTNB}

// Regime is the label set of the global 3-state HMM.
type Regime string

const (
	RegimeCarry   Regime = "carry"
	RegimeRiskOff Regime = "risk_off"
	RegimeStress  Regime = "stress"
)

// DomesticRegime is the label set of the domestic 2-state HMM.
type DomesticRegime string

const (
	DomesticCalm   DomesticRegime = "calm"
	DomesticStress DomesticRegime = "stress"
)

// DrawdownOverlay holds the §4.11 piecewise-linear throttle thresholds.
type DrawdownOverlay struct {
	DD5         float64 // e.g. -0.05
	DD10        float64 // e.g. -0.10
	ScaleAtDD5  float64 // e.g. 0.5
	ScaleAtDD10 float64 // e.g. 0.0
	Floor       float64 // global floor, e.g. 0.10
}

// PositionLimits bounds one instrument's weight.
type PositionLimits struct {
	Lower, Upper float64
}

// FeatureSelectionConfig holds §4.7's knobs.
type FeatureSelectionConfig struct {
	EnetL1Ratios        []float64
	EnetAlphaCount       int
	BorutaIterations     int
	BorutaMaxDepth       int
	BorutaTrees          int
	StabilitySubsamplesMin int
	StabilitySubsamplesMax int
	StabilitySubsampleFrac float64
	FastEnetAlphaCount   int
	FastBorutaIterations int
	RegimeRefitCooldownMonths int
	MinStabilityGap      float64
}

// Priors holds the embedded constants the spec's open questions ask to
// be exposed as configuration rather than hard-coded.
type Priors struct {
	BalassaBeta      float64 // 0.35
	FEEREpsilon      float64 // 0.7
	CATargetPctGDP   float64 // -0.02
	CyclicalBeta     float64 // 0.05
	ValHalfLifeFXMonths float64 // 36

	FiscalDebtBeta   float64 // 0.04
	FiscalPBBeta     float64 // -0.12
	FiscalCDSBeta    float64 // 0.007
	FiscalEMBIBeta   float64 // 0.005
	FiscalRBase      float64 // 4.0
	FiscalPriorWeight float64 // shrinkage strength multiplier (lambda = weight*n)

	RegimeSwitchPriorMu map[Regime]float64 // carry 4.5, riskoff 5.5, stress 7.0
	RegimeSwitchShrinkToPrior float64       // 0.4 (1-0.6)
}

// Config is the single typed options record. Field names follow §9
// verbatim where §9 names an option explicitly.
type Config struct {
	TrainingWindowMonths    int
	ExpandingWindow         bool
	MinTrainingMonths       int
	StandardizationWindowMonths int
	StdFloor                float64

	RidgeLambda          float64
	RidgeCandidates      []float64
	Gamma                float64
	TurnoverPenaltyBps   float64

	TransactionCostsBps map[Instrument]float64
	TCRegimeMultipliers map[Regime]float64
	TCDomesticMultipliers map[DomesticRegime]float64

	OverlayVolTargetAnnual float64
	DrawdownOverlay        DrawdownOverlay

	PositionLimits        map[Instrument]PositionLimits
	RegimePositionLimits  map[Regime]map[Instrument]PositionLimits

	CovWindowMonths int
	CovShrinkage    bool

	RegimeRefitIntervalMonths int

	ICGatingThreshold float64
	ICGatingMinObs    int
	ICGatingFloor     float64

	ScoreDemeaningWindow int
	ScoreDemeaningEpsilon float64 // the |S|>0.005 threshold, preserved exactly

	// GlobalRegimeScale/DomesticRegimeScale are the §4.9 "two scale
	// tables" left unspecified by name: global is the more aggressive
	// dampener (carry full exposure, stress cut to 30%), domestic is
	// the softer overlay (calm full exposure, stress cut to 80%).
	GlobalRegimeScale   map[Regime]float64
	DomesticRegimeScale map[DomesticRegime]float64

	SHAPIntervalMonths int

	FeatureSelection FeatureSelectionConfig
	Priors           Priors

	LogLevel string
	DevMode  bool

	// EngineSeed seeds every deterministic random draw in the engine
	// (bootstrap indices, learner seeds, Boruta permutations), combined
	// at each call site with the step/iteration index per §5.
	EngineSeed int64
}

// Default returns the spec.md §9 default configuration.
func Default() Config {
	return Config{
		TrainingWindowMonths:        36,
		ExpandingWindow:             true,
		MinTrainingMonths:           36,
		StandardizationWindowMonths: 60,
		StdFloor:                    0.5,

		RidgeLambda:        10,
		RidgeCandidates:    []float64{1, 5, 10, 20, 50},
		Gamma:              2,
		TurnoverPenaltyBps: 2,

		TransactionCostsBps: map[Instrument]float64{
			FX: 5, Front: 2, Belly: 3, Long: 4, Hard: 5, NTNB: 4,
		},
		TCRegimeMultipliers: map[Regime]float64{
			RegimeCarry: 1.0, RegimeRiskOff: 1.5, RegimeStress: 2.5,
		},
		TCDomesticMultipliers: map[DomesticRegime]float64{
			DomesticCalm: 1.0, DomesticStress: 2.0,
		},

		OverlayVolTargetAnnual: 0.10,
		DrawdownOverlay: DrawdownOverlay{
			DD5: -0.05, DD10: -0.10, ScaleAtDD5: 0.5, ScaleAtDD10: 0.0, Floor: 0.10,
		},

		PositionLimits: map[Instrument]PositionLimits{
			FX:    {-1.0, 1.0},
			Front: {-1.5, 1.5},
			Belly: {-1.5, 1.5},
			Long:  {-0.75, 0.75},
			Hard:  {-1.0, 1.0},
			NTNB:  {-0.5, 0.5},
		},
		RegimePositionLimits: map[Regime]map[Instrument]PositionLimits{
			RegimeCarry: {
				FX: {-1.0, 1.0}, Front: {-1.5, 1.5}, Belly: {-1.5, 1.5}, Long: {-0.75, 0.75}, Hard: {-1.0, 1.0}, NTNB: {-0.5, 0.5},
			},
			RegimeRiskOff: {
				FX: {-0.7, 0.7}, Front: {-1.1, 1.1}, Belly: {-1.0, 1.0}, Long: {-0.5, 0.5}, Hard: {-0.7, 0.7}, NTNB: {-0.35, 0.35},
			},
			RegimeStress: {
				FX: {-0.4, 0.4}, Front: {-0.6, 0.6}, Belly: {-0.5, 0.5}, Long: {-0.25, 0.25}, Hard: {-0.4, 0.4}, NTNB: {-0.2, 0.2},
			},
		},

		CovWindowMonths: 36,
		CovShrinkage:    true,

		RegimeRefitIntervalMonths: 12,

		ICGatingThreshold: 0.0,
		ICGatingMinObs:    24,
		ICGatingFloor:     0.15,

		ScoreDemeaningWindow:  60,
		ScoreDemeaningEpsilon: 0.005,

		GlobalRegimeScale: map[Regime]float64{
			RegimeCarry: 1.0, RegimeRiskOff: 0.6, RegimeStress: 0.3,
		},
		DomesticRegimeScale: map[DomesticRegime]float64{
			DomesticCalm: 1.0, DomesticStress: 0.8,
		},

		SHAPIntervalMonths: 6,

		FeatureSelection: FeatureSelectionConfig{
			EnetL1Ratios:              []float64{0.1, 0.2, 0.3, 0.5, 0.7, 0.9, 0.95, 1.0},
			EnetAlphaCount:            50,
			BorutaIterations:          50,
			BorutaMaxDepth:            5,
			BorutaTrees:               200,
			StabilitySubsamplesMin:    30,
			StabilitySubsamplesMax:    50,
			StabilitySubsampleFrac:    0.8,
			FastEnetAlphaCount:        20,
			FastBorutaIterations:      10,
			RegimeRefitCooldownMonths: 6,
			MinStabilityGap:           0.05,
		},
		Priors: Priors{
			BalassaBeta:         0.35,
			FEEREpsilon:         0.7,
			CATargetPctGDP:      -0.02,
			CyclicalBeta:        0.05,
			ValHalfLifeFXMonths: 36,

			FiscalDebtBeta:    0.04,
			FiscalPBBeta:      -0.12,
			FiscalCDSBeta:     0.007,
			FiscalEMBIBeta:    0.005,
			FiscalRBase:       4.0,
			FiscalPriorWeight: 0.25,

			RegimeSwitchPriorMu: map[Regime]float64{
				RegimeCarry: 4.5, RegimeRiskOff: 5.5, RegimeStress: 7.0,
			},
			RegimeSwitchShrinkToPrior: 0.4,
		},

		LogLevel: "info",
		DevMode:  false,

		EngineSeed: 42,
	}
}

// Load builds a Config starting from Default(), applying a .env file (if
// present) and then the process environment. Only a small top-level
// subset of scalar fields are environment-overridable — the rest of the
// record is numerical model configuration that in practice travels with
// the code, not the deployment environment.
func Load(envFile string) (Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: load .env: %w", err)
		}
	}

	if v := os.Getenv("RSTAR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RSTAR_DEV_MODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: parse RSTAR_DEV_MODE: %w", err)
		}
		cfg.DevMode = b
	}
	if v := os.Getenv("RSTAR_GAMMA"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: parse RSTAR_GAMMA: %w", err)
		}
		cfg.Gamma = f
	}
	if v := os.Getenv("RSTAR_VOL_TARGET"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: parse RSTAR_VOL_TARGET: %w", err)
		}
		cfg.OverlayVolTargetAnnual = f
	}
	if v := os.Getenv("RSTAR_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: parse RSTAR_SEED: %w", err)
		}
		cfg.EngineSeed = n
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate raises engerr.ErrConfigError for any structurally invalid
// configuration: inverted bounds, missing per-instrument entries,
// non-positive windows. Called at construction, before data is loaded.
func (c Config) Validate() error {
	if c.MinTrainingMonths <= 0 || c.TrainingWindowMonths <= 0 {
		return fmt.Errorf("%w: training windows must be positive", engerr.ErrConfigError)
	}
	if c.StdFloor <= 0 {
		return fmt.Errorf("%w: std_floor must be positive", engerr.ErrConfigError)
	}
	for _, inst := range Instruments {
		lim, ok := c.PositionLimits[inst]
		if !ok {
			return fmt.Errorf("%w: missing position limits for instrument %q", engerr.ErrConfigError, inst)
		}
		if lim.Lower > lim.Upper {
			return fmt.Errorf("%w: position limits for %q have lower(%v) > upper(%v)", engerr.ErrConfigError, inst, lim.Lower, lim.Upper)
		}
		if _, ok := c.TransactionCostsBps[inst]; !ok {
			return fmt.Errorf("%w: missing transaction cost for instrument %q", engerr.ErrConfigError, inst)
		}
	}
	for regime, limits := range c.RegimePositionLimits {
		for _, inst := range Instruments {
			lim, ok := limits[inst]
			if !ok {
				return fmt.Errorf("%w: missing regime position limits for %q/%q", engerr.ErrConfigError, regime, inst)
			}
			if lim.Lower > lim.Upper {
				return fmt.Errorf("%w: regime position limits for %q/%q have lower > upper", engerr.ErrConfigError, regime, inst)
			}
		}
	}
	if c.DrawdownOverlay.DD5 >= 0 || c.DrawdownOverlay.DD10 >= 0 || c.DrawdownOverlay.DD10 >= c.DrawdownOverlay.DD5 {
		return fmt.Errorf("%w: drawdown thresholds must be negative and dd10 < dd5", engerr.ErrConfigError)
	}
	if c.ICGatingFloor < 0 || c.ICGatingFloor > 1 {
		return fmt.Errorf("%w: ic_gating_floor must be in [0,1]", engerr.ErrConfigError)
	}
	return nil
}
