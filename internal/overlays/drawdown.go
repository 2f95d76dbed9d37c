package overlays

import "github.com/aristath/rstarengine/internal/config"

// DrawdownScale implements §4.11 step 1: a piecewise-linear throttle of
// the overlay drawdown (dd <= 0, measured against the trailing 12-month
// peak) between the configured dd5/dd10 breakpoints, floored so the
// portfolio can still recover.
func DrawdownScale(dd float64, cfg config.DrawdownOverlay) float64 {
	if dd >= 0 {
		return 1.0
	}
	var scale float64
	switch {
	case dd >= cfg.DD5:
		// Linear interpolation between (0, 1.0) and (dd5, scaleAtDD5).
		frac := dd / cfg.DD5
		scale = 1.0 + frac*(cfg.ScaleAtDD5-1.0)
	case dd >= cfg.DD10:
		// Linear interpolation between (dd5, scaleAtDD5) and (dd10, scaleAtDD10).
		frac := (dd - cfg.DD5) / (cfg.DD10 - cfg.DD5)
		scale = cfg.ScaleAtDD5 + frac*(cfg.ScaleAtDD10-cfg.ScaleAtDD5)
	default:
		scale = cfg.ScaleAtDD10
	}
	if scale < cfg.Floor {
		scale = cfg.Floor
	}
	return scale
}

// TrailingDrawdown computes the running drawdown of equity against its
// trailing 12-month peak: 0 if equity is at or above the peak, negative
// otherwise.
func TrailingDrawdown(equity []float64) float64 {
	n := len(equity)
	if n == 0 {
		return 0
	}
	lookback := 12
	start := n - lookback
	if start < 0 {
		start = 0
	}
	peak := equity[start]
	for i := start; i < n; i++ {
		if equity[i] > peak {
			peak = equity[i]
		}
	}
	if peak <= 0 {
		return 0
	}
	last := equity[n-1]
	return (last - peak) / peak
}
