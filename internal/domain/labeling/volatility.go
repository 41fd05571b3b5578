// Package labeling samples events with a symmetric CUSUM filter and labels
// them with the triple-barrier method.
package labeling

import (
	"math"
)

// VolMethod selects the volatility estimator.
type VolMethod string

const (
	// VolEWMStd is the bias-corrected exponentially weighted standard
	// deviation of log returns.
	VolEWMStd VolMethod = "ewm_std"
	// VolEWMAbs is the exponentially weighted mean of |log returns|.
	VolEWMAbs VolMethod = "ewm_abs"
)

// VolatilityConfig controls the EWMA volatility estimate.
type VolatilityConfig struct {
	Span       int       `yaml:"span" validate:"gt=0"`
	MinPeriods int       `yaml:"min_periods" validate:"gte=0"` // valid returns needed before a value is emitted
	Method     VolMethod `yaml:"method" validate:"omitempty,oneof=ewm_std ewm_abs"`
}

// DefaultVolatilityConfig returns a 100-bar EWMA standard deviation.
func DefaultVolatilityConfig() VolatilityConfig {
	return VolatilityConfig{Span: 100, MinPeriods: 20, Method: VolEWMStd}
}

// LogReturns returns ln(p_t / p_{t-1}); element 0 is NaN.
func LogReturns(p []float64) []float64 {
	out := make([]float64, len(p))
	for t := range p {
		if t == 0 || p[t-1] <= 0 || p[t] <= 0 {
			out[t] = math.NaN()
			continue
		}
		out[t] = math.Log(p[t] / p[t-1])
	}
	return out
}

// Volatility estimates per-bar volatility from close prices. The value at
// bar t uses returns up to and including t; warm-up positions are NaN.
func Volatility(close []float64, cfg VolatilityConfig) []float64 {
	return EWMVolatility(LogReturns(close), cfg)
}

// EWMVolatility applies the configured estimator to a return series.
// NaN returns are skipped without decaying the state.
func EWMVolatility(r []float64, cfg VolatilityConfig) []float64 {
	span := cfg.Span
	if span <= 0 {
		span = 1
	}
	alpha := 2.0 / (float64(span) + 1)
	decay := 1 - alpha

	out := make([]float64, len(r))
	var sw, sw2, sx, sxx float64
	valid := 0
	for t, v := range r {
		if math.IsNaN(v) {
			out[t] = math.NaN()
			continue
		}
		valid++
		if cfg.Method == VolEWMAbs {
			v = math.Abs(v)
		}
		sw = decay*sw + 1
		sw2 = decay*decay*sw2 + 1
		sx = decay*sx + v
		sxx = decay*sxx + v*v

		if valid < cfg.MinPeriods {
			out[t] = math.NaN()
			continue
		}

		mean := sx / sw
		if cfg.Method == VolEWMAbs {
			out[t] = mean
			continue
		}
		if valid < 2 {
			out[t] = math.NaN()
			continue
		}
		biased := sxx/sw - mean*mean
		denom := sw*sw - sw2
		if denom <= 0 {
			out[t] = math.NaN()
			continue
		}
		variance := biased * sw * sw / denom
		if variance < 0 {
			variance = 0
		}
		out[t] = math.Sqrt(variance)
	}
	return out
}
