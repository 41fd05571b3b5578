// Package fracdiff implements fixed-width fractional differentiation (FFD)
// and the search for the smallest differentiation order that makes a
// series pass an augmented Dickey-Fuller test.
package fracdiff

import (
	"math"
)

// DefaultMaxWidth caps the weight vector when the tolerance alone would
// keep it growing (small d decays very slowly).
const DefaultMaxWidth = 10000

// Weights generates the binomial fractional-difference weights for order d,
// truncated once |w_k| < tau or maxWidth weights have been produced.
// Element 0 multiplies the newest observation, element k the observation
// lagged by k.
func Weights(d, tau float64, maxWidth int) []float64 {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}

	w := []float64{1.0}
	for k := 1; k < maxWidth; k++ {
		next := -w[k-1] * (d - float64(k) + 1) / float64(k)
		if math.Abs(next) < tau {
			break
		}
		w = append(w, next)
	}
	return w
}

// Transform applies fixed-window weights to x. Positions before
// len(w)-1 are NaN; so is any position whose window touches a NaN input.
func Transform(x, w []float64) []float64 {
	out := make([]float64, len(x))
	width := len(w)
	for t := range out {
		if t < width-1 {
			out[t] = math.NaN()
			continue
		}
		sum := 0.0
		for k := 0; k < width; k++ {
			sum += w[k] * x[t-k]
		}
		out[t] = sum
	}
	return out
}

// Apply is Transform with freshly generated weights for d.
func Apply(x []float64, d, tau float64, maxWidth int) []float64 {
	return Transform(x, Weights(d, tau, maxWidth))
}

// DropUndefined returns the values of y that are not NaN, in order,
// along with the index of the first kept value (-1 when nothing is kept).
func DropUndefined(y []float64) ([]float64, int) {
	first := -1
	out := make([]float64, 0, len(y))
	for i, v := range y {
		if math.IsNaN(v) {
			continue
		}
		if first < 0 {
			first = i
		}
		out = append(out, v)
	}
	return out, first
}
