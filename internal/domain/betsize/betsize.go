// Package betsize maps meta-label probabilities to signed position sizes.
package betsize

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sawpanic/signalrun/internal/domain/errs"
)

const (
	minProb = 0.001
	maxProb = 0.999
)

// Config controls discretization and overlap scaling.
type Config struct {
	StepSize      float64 `yaml:"bet_step_size" validate:"gte=0,lte=1"`
	AverageActive bool    `yaml:"average_active"`
}

// Magnitude returns the unsigned size for probability p: 2Φ(z)-1 with
// z = (p-0.5)/sqrt(p(1-p)), floored at zero.
func Magnitude(p float64) float64 {
	p = math.Min(math.Max(p, minProb), maxProb)
	z := (p - 0.5) / math.Sqrt(p*(1-p))
	m := 2*distuv.UnitNormal.CDF(z) - 1
	return math.Max(m, 0)
}

// Discretize rounds m to the nearest multiple of step. A non-positive step
// leaves m unchanged.
func Discretize(m, step float64) float64 {
	if step <= 0 {
		return m
	}
	d := math.Round(m/step) * step
	return math.Min(math.Max(d, -1), 1)
}

// Size returns the signed, discretized size for one bet.
func Size(p float64, side int, cfg Config) float64 {
	m := Magnitude(p)
	if side < 0 {
		m = -m
	} else if side == 0 {
		return 0
	}
	return Discretize(m, cfg.StepSize)
}

// Sizes sizes a batch of bets. uniqueness is only read when
// cfg.AverageActive is set and must then align with probs.
func Sizes(probs []float64, sides []int, uniqueness []float64, cfg Config) ([]float64, error) {
	if len(sides) != len(probs) {
		return nil, errs.Shape("%d sides for %d probabilities", len(sides), len(probs))
	}
	if cfg.AverageActive && len(uniqueness) != len(probs) {
		return nil, errs.Shape("%d uniqueness values for %d probabilities", len(uniqueness), len(probs))
	}
	out := make([]float64, len(probs))
	for i, p := range probs {
		if math.IsNaN(p) {
			continue
		}
		m := Size(p, sides[i], cfg)
		if cfg.AverageActive {
			m *= uniqueness[i]
		}
		out[i] = m
	}
	return out, nil
}
