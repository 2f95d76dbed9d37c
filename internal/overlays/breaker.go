package overlays

import (
	"time"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// hardCuts is §4.11 step 3's per-instrument multiplier, applied when the
// breaker is open. FX carries no cut (the literal spec list omits it).
var hardCuts = map[config.Instrument]float64{
	config.Front: 0.7,
	config.Belly: 0.5,
	config.Long:  0.5,
	config.Hard:  0.4,
	config.NTNB:  0.4,
}

// StressBreaker wraps a gobreaker.CircuitBreaker whose ReadyToTrip fires
// on a single consecutive-failure count of 1: every call to Check passes
// a synthetic "failure" exactly when the combined-stress predicate holds,
// so the breaker's own closed/open/half-open state machine gives the
// "trip once, stay open through the cooldown timeout, then half-open
// retest" semantics the teacher's breaker gives for API failures.
type StressBreaker struct {
	cb  *gobreaker.CircuitBreaker
	log zerolog.Logger
}

// NewStressBreaker builds the combined-stress circuit breaker with a
// 6-month cooldown timeout (expressed as a duration proxy since the
// engine steps in months, not wall-clock time).
func NewStressBreaker(log zerolog.Logger) *StressBreaker {
	settings := gobreaker.Settings{
		Name:     "combined-stress",
		Interval: 0,
		Timeout:  6 * 30 * 24 * time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	}
	return &StressBreaker{cb: gobreaker.NewCircuitBreaker(settings), log: log}
}

// Apply runs the §4.11 combined-stress predicate through the breaker and,
// if it trips (open or newly opening), multiplies the weight vector by
// the hard-cut table. pRiskOff and pDomesticStress are this step's
// regime probabilities.
func (b *StressBreaker) Apply(weights map[config.Instrument]float64, pRiskOff, pDomesticStress float64) map[config.Instrument]float64 {
	stressed := pRiskOff > 0.7 && pDomesticStress > 0.7

	_, err := b.cb.Execute(func() (any, error) {
		if stressed {
			return nil, errStress
		}
		return nil, nil
	})

	out := map[config.Instrument]float64{}
	for inst, w := range weights {
		out[inst] = w
	}

	if err != nil {
		b.log.Warn().Float64("p_risk_off", pRiskOff).Float64("p_domestic_stress", pDomesticStress).
			Msg("overlays: combined-stress circuit breaker open, applying hard cuts")
		for inst, mult := range hardCuts {
			if w, ok := out[inst]; ok {
				out[inst] = w * mult
			}
		}
	}
	return out
}

var errStress = stressErr{}

type stressErr struct{}

func (stressErr) Error() string { return "combined stress threshold breached" }
