package labeling

import (
	"math"
)

// CUSUM runs the symmetric cumulative-sum filter over close prices and
// returns the indices of the bars that triggered. thresholds[t] is the
// trigger level h at bar t; it must have the same length as close.
//
// Both accumulators reset after every emission. A NaN return or NaN
// threshold skips the bar without touching the state.
func CUSUM(close, thresholds []float64) []int {
	r := LogReturns(close)
	var events []int
	sPos, sNeg := 0.0, 0.0
	for t := 1; t < len(close) && t < len(thresholds); t++ {
		h := thresholds[t]
		if math.IsNaN(r[t]) || math.IsNaN(h) {
			continue
		}
		sPos = math.Max(0, sPos+r[t])
		sNeg = math.Min(0, sNeg+r[t])
		if sPos > h || sNeg < -h {
			events = append(events, t)
			sPos, sNeg = 0, 0
		}
	}
	return events
}

// FixedThresholds repeats a scalar trigger level n times.
func FixedThresholds(n int, h float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = h
	}
	return out
}

// ScaledThresholds returns k·σ_t for a volatility series.
func ScaledThresholds(sigma []float64, k float64) []float64 {
	out := make([]float64, len(sigma))
	for i, s := range sigma {
		out[i] = k * s
	}
	return out
}
