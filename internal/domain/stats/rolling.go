// Package stats holds the trailing-window reductions and normality tests
// shared by the feature engine and the sweep.
package stats

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Rolling applies fn to every trailing window x[t-w+1 : t+1]. Positions
// before the first full window and windows holding a NaN are NaN.
func Rolling(x []float64, w int, fn func(win []float64) float64) []float64 {
	out := make([]float64, len(x))
	if w <= 0 {
		for t := range out {
			out[t] = math.NaN()
		}
		return out
	}
	nan := 0 // NaNs inside the current window
	for t := range x {
		if math.IsNaN(x[t]) {
			nan++
		}
		if t >= w && math.IsNaN(x[t-w]) {
			nan--
		}
		if t < w-1 || nan > 0 {
			out[t] = math.NaN()
			continue
		}
		out[t] = fn(x[t-w+1 : t+1])
	}
	return out
}

// Rolling2 is Rolling over two aligned series.
func Rolling2(x, y []float64, w int, fn func(a, b []float64) float64) []float64 {
	out := make([]float64, len(x))
	for t := range x {
		if w <= 0 || t < w-1 || t >= len(y) {
			out[t] = math.NaN()
			continue
		}
		a, b := x[t-w+1:t+1], y[t-w+1:t+1]
		if hasNaN(a) || hasNaN(b) {
			out[t] = math.NaN()
			continue
		}
		out[t] = fn(a, b)
	}
	return out
}

func hasNaN(x []float64) bool {
	return slices.ContainsFunc(x, math.IsNaN)
}

// Mean is the arithmetic mean.
func Mean(win []float64) float64 { return stat.Mean(win, nil) }

// Sum adds the window.
func Sum(win []float64) float64 { return floats.Sum(win) }

// Std is the sample standard deviation; NaN for a single observation.
func Std(win []float64) float64 {
	if len(win) < 2 {
		return math.NaN()
	}
	return stat.StdDev(win, nil)
}

// Max returns the window maximum.
func Max(win []float64) float64 { return floats.Max(win) }

// Min returns the window minimum.
func Min(win []float64) float64 { return floats.Min(win) }

// Quantile returns a reducer for the empirical q-quantile.
func Quantile(q float64) func([]float64) float64 {
	return func(win []float64) float64 {
		s := slices.Clone(win)
		slices.Sort(s)
		return stat.Quantile(q, stat.Empirical, s, nil)
	}
}

// Rank is the fraction of the window at or below its last value.
func Rank(win []float64) float64 {
	last := win[len(win)-1]
	n := 0
	for _, v := range win {
		if v <= last {
			n++
		}
	}
	return float64(n) / float64(len(win))
}

// SinceMax is the number of bars since the window maximum, over len(win).
func SinceMax(win []float64) float64 {
	return float64(len(win)-1-floats.MaxIdx(win)) / float64(len(win))
}

// SinceMin is the number of bars since the window minimum, over len(win).
func SinceMin(win []float64) float64 {
	return float64(len(win)-1-floats.MinIdx(win)) / float64(len(win))
}

// Trend is an OLS fit of a window against 0..w-1.
type Trend struct {
	Slope    float64
	RSquared float64
	Residual float64 // last observation minus its fitted value
}

// FitTrend regresses win on its positions.
func FitTrend(win []float64) Trend {
	n := len(win)
	if n < 2 {
		return Trend{Slope: math.NaN(), RSquared: math.NaN(), Residual: math.NaN()}
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(xs, win, nil, false)
	r2 := stat.RSquared(xs, win, nil, alpha, beta)
	return Trend{
		Slope:    beta,
		RSquared: r2,
		Residual: win[n-1] - (alpha + beta*float64(n-1)),
	}
}

// Slope is the trend slope of the window.
func Slope(win []float64) float64 { return FitTrend(win).Slope }

// Corr is the Pearson correlation; NaN when either side is constant.
func Corr(a, b []float64) float64 {
	if len(a) < 2 {
		return math.NaN()
	}
	return stat.Correlation(a, b, nil)
}

// AutoCorr1 is the lag-1 autocorrelation of the window.
func AutoCorr1(win []float64) float64 {
	if len(win) < 3 {
		return math.NaN()
	}
	return Corr(win[:len(win)-1], win[1:])
}

// Entropy returns the Shannon entropy (nats) of a histogram of win with
// the given number of equal-width bins spanning the window range.
func Entropy(bins int) func([]float64) float64 {
	return func(win []float64) float64 {
		if bins < 1 || len(win) == 0 {
			return math.NaN()
		}
		lo, hi := floats.Min(win), floats.Max(win)
		if hi-lo <= 0 {
			return 0
		}
		counts := make([]float64, bins)
		width := (hi - lo) / float64(bins)
		for _, v := range win {
			k := int((v - lo) / width)
			if k >= bins {
				k = bins - 1
			}
			counts[k]++
		}
		floats.Scale(1/float64(len(win)), counts)
		return stat.Entropy(counts)
	}
}
