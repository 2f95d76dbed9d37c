package overlays

import (
	"math"
	"testing"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDrawdownScaleInterpolatesBetweenBreakpoints(t *testing.T) {
	cfg := config.Default().DrawdownOverlay
	assert.InDelta(t, 1.0, DrawdownScale(0, cfg), 1e-9)
	assert.InDelta(t, 0.5, DrawdownScale(cfg.DD5, cfg), 1e-9)
	assert.InDelta(t, cfg.Floor, DrawdownScale(cfg.DD10, cfg), 1e-9)
	mid := DrawdownScale(cfg.DD5/2, cfg)
	assert.Greater(t, mid, 0.5)
	assert.Less(t, mid, 1.0)
}

func TestDrawdownScaleNeverBelowFloor(t *testing.T) {
	cfg := config.Default().DrawdownOverlay
	assert.InDelta(t, cfg.Floor, DrawdownScale(-0.5, cfg), 1e-9)
}

func TestTrailingDrawdownZeroAtNewPeak(t *testing.T) {
	equity := []float64{100, 102, 105, 110}
	assert.InDelta(t, 0, TrailingDrawdown(equity), 1e-9)
}

func TestTrailingDrawdownNegativeBelowPeak(t *testing.T) {
	equity := []float64{100, 110, 95}
	dd := TrailingDrawdown(equity)
	assert.Less(t, dd, 0.0)
}

func TestVolTargetScaleClampsToOne(t *testing.T) {
	// Very low realised vol: scale should clamp to 1, never boost above.
	returns := make([]float64, 30)
	for i := range returns {
		returns[i] = 0.0001
	}
	scale := VolTargetScale(returns, 0.10)
	assert.LessOrEqual(t, scale, 1.0)
}

func TestVolTargetScaleShrinksUnderHighRealisedVol(t *testing.T) {
	returns := make([]float64, 30)
	for i := range returns {
		if i%2 == 0 {
			returns[i] = 0.08
		} else {
			returns[i] = -0.08
		}
	}
	scale := VolTargetScale(returns, 0.10)
	assert.Less(t, scale, 1.0)
}

func TestForecastVolStaysWithinClampBounds(t *testing.T) {
	returns := make([]float64, 40)
	for i := range returns {
		returns[i] = 0.001 * math.Sin(float64(i))
	}
	vol := ForecastVol(returns)
	assert.GreaterOrEqual(t, vol, volFloorAnnual)
	assert.LessOrEqual(t, vol, volCapAnnual)
}

func TestStressBreakerAppliesHardCutsWhenStressed(t *testing.T) {
	log := zerolog.Nop()
	b := NewStressBreaker(log)
	weights := map[config.Instrument]float64{
		config.FX: 0.5, config.Belly: 0.5, config.Hard: 0.5,
	}
	out := b.Apply(weights, 0.9, 0.9)
	assert.InDelta(t, 0.5, out[config.FX], 1e-9)
	assert.InDelta(t, 0.25, out[config.Belly], 1e-9)
	assert.InDelta(t, 0.20, out[config.Hard], 1e-9)
}

func TestStressBreakerLeavesWeightsWhenCalm(t *testing.T) {
	log := zerolog.Nop()
	b := NewStressBreaker(log)
	weights := map[config.Instrument]float64{config.FX: 0.5, config.Belly: 0.5}
	out := b.Apply(weights, 0.1, 0.1)
	assert.InDelta(t, 0.5, out[config.Belly], 1e-9)
}

func TestEngineApplyComposesAllThreeOverlays(t *testing.T) {
	log := zerolog.Nop()
	cfg := config.Default()
	e := New(log, cfg)

	raw := map[config.Instrument]float64{config.FX: 0.5, config.Belly: 0.5}

	result := e.Apply(raw, -0.07, 0.05, 0.1, 0.1)
	assert.Less(t, result.DrawdownScale, 1.0)
	assert.False(t, result.BreakerOpen)
}
