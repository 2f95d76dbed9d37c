package optimizer

import (
	"testing"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityCov(n int, diag float64) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = diag
	}
	return out
}

func TestBudgetScalingFallsBackWithFewICScores(t *testing.T) {
	b := budgetScaling(map[config.Instrument]float64{config.FX: 0.2})
	for _, inst := range config.Instruments {
		assert.InDelta(t, 1.0, b[inst], 1e-9, inst)
	}
}

func TestBudgetScalingHalvesWhenAllNegative(t *testing.T) {
	b := budgetScaling(map[config.Instrument]float64{
		config.FX: -0.1, config.Front: -0.2, config.Belly: -0.1,
	})
	for _, inst := range config.Instruments {
		assert.InDelta(t, 0.5, b[inst], 1e-9, inst)
	}
}

func TestBudgetScalingWeightsByPositiveIC(t *testing.T) {
	b := budgetScaling(map[config.Instrument]float64{
		config.FX: 0.3, config.Front: 0.1, config.Belly: -0.2,
	})
	assert.Greater(t, b[config.FX], b[config.Front])
	assert.InDelta(t, 0.0, b[config.Belly], 1e-9)
}

func TestLedoitWolfShrinkageNoOpWhenWindowTooShort(t *testing.T) {
	sample := [][]float64{{1, 0.5}, {0.5, 1}}
	out := ledoitWolfShrink(sample, 2)
	assert.Equal(t, sample, out)
}

func TestLedoitWolfShrinkageBlendsTowardIdentity(t *testing.T) {
	sample := [][]float64{{1, 0.9}, {0.9, 1}}
	out := ledoitWolfShrink(sample, 100)
	assert.Less(t, out[0][1], sample[0][1])
}

func TestStepRespectsBounds(t *testing.T) {
	log := zerolog.Nop()
	cfg := config.Default()
	opt := New(log, cfg)

	mu := map[config.Instrument]float64{}
	ic := map[config.Instrument]float64{}
	prev := map[config.Instrument]float64{}
	for _, inst := range config.Instruments {
		mu[inst] = 0.01
		ic[inst] = 0.1
		prev[inst] = 0.0
	}
	cov := identityCov(len(config.Instruments), 0.0001)

	rw := RegimeWeights{Carry: 1.0, DomesticCalm: 1.0}
	result, err := opt.Step(mu, ic, cov, prev, rw)
	require.NoError(t, err)
	for _, inst := range config.Instruments {
		lim := cfg.PositionLimits[inst]
		assert.GreaterOrEqual(t, result.Weights[inst], lim.Lower-1e-6)
		assert.LessOrEqual(t, result.Weights[inst], lim.Upper+1e-6)
	}
}

func TestClosedFormFallbackProjectsIntoBounds(t *testing.T) {
	lower := map[config.Instrument]float64{}
	upper := map[config.Instrument]float64{}
	budget := map[config.Instrument]float64{}
	muVec := make([]float64, len(config.Instruments))
	for i, inst := range config.Instruments {
		lower[inst] = -0.1
		upper[inst] = 0.1
		budget[inst] = 1.0
		if inst == config.FX {
			muVec[i] = 10.0
		}
	}
	out := closedFormFallback(muVec, budget, lower, upper)
	assert.InDelta(t, 0.1, out[config.FX], 1e-9)
}
