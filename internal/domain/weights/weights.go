// Package weights measures label overlap and turns it into sample weights.
package weights

import (
	"fmt"
	"math"

	"github.com/sawpanic/signalrun/internal/domain/errs"
)

// Aggregator selects how the per-bar log returns inside an event's
// lifetime are reduced to a magnitude.
type Aggregator string

const (
	// Net is |Σ r_t| over [t0, t1).
	Net Aggregator = "net"
	// Gross is Σ |r_t| over [t0, t1).
	Gross Aggregator = "gross"
	// Attributed is |Σ r_t / c(t)|, each bar's return shared among the
	// events active on it.
	Attributed Aggregator = "attributed"
)

// Config controls sample weighting.
type Config struct {
	// Decay is ρ in ρ^(N-1-i); 1 gives every sample equal time weight.
	Decay      float64    `yaml:"decay" validate:"gt=0,lte=1"`
	Aggregator Aggregator `yaml:"return_aggregator" validate:"omitempty,oneof=net gross attributed"`
	// Normalize rescales weights to sum to the number of events.
	Normalize bool `yaml:"normalize"`
}

// DefaultConfig returns undecayed net-return weights.
func DefaultConfig() Config {
	return Config{Decay: 1, Aggregator: Net}
}

// Record is the weight row of one event.
type Record struct {
	T0         int     `json:"t0"`
	T1         int     `json:"t1"`
	Uniqueness float64 `json:"uniqueness"`
	Weight     float64 `json:"weight"`
}

func validate(t0, t1 []int) (int, error) {
	if len(t0) != len(t1) {
		return 0, errs.Shape("%d entry bars for %d exit bars", len(t0), len(t1))
	}
	span := 0
	for i := range t0 {
		if t0[i] < 0 || t1[i] <= t0[i] {
			return 0, errs.Shape("event %d has interval [%d, %d)", i, t0[i], t1[i])
		}
		if i > 0 && t0[i] < t0[i-1] {
			return 0, fmt.Errorf("%w: event %d at bar %d follows bar %d", errs.ErrOrdering, i, t0[i], t0[i-1])
		}
		if t1[i] > span {
			span = t1[i]
		}
	}
	return span, nil
}

// Concurrency returns c(t), the number of events whose [t0, t1) covers bar
// t, for t in [0, max t1). It sweeps the interval endpoints once.
func Concurrency(t0, t1 []int) ([]int, error) {
	span, err := validate(t0, t1)
	if err != nil {
		return nil, err
	}
	delta := make([]int, span+1)
	for i := range t0 {
		delta[t0[i]]++
		delta[t1[i]]--
	}
	counts := make([]int, span)
	active := 0
	for t := 0; t < span; t++ {
		active += delta[t]
		counts[t] = active
	}
	return counts, nil
}

// Uniqueness returns the average uniqueness of every event.
func Uniqueness(t0, t1 []int) ([]float64, error) {
	counts, err := Concurrency(t0, t1)
	if err != nil {
		return nil, err
	}
	return uniqueness(t0, t1, counts), nil
}

func uniqueness(t0, t1, counts []int) []float64 {
	// prefix[t] = Σ_{s<t} 1/c(s)
	prefix := make([]float64, len(counts)+1)
	for t, c := range counts {
		inv := 0.0
		if c > 0 {
			inv = 1 / float64(c)
		}
		prefix[t+1] = prefix[t] + inv
	}
	out := make([]float64, len(t0))
	for i := range t0 {
		out[i] = (prefix[t1[i]] - prefix[t0[i]]) / float64(t1[i]-t0[i])
	}
	return out
}

// NaiveUniqueness computes the same quantity with a pairwise scan. It is
// quadratic and only used to cross-check Uniqueness.
func NaiveUniqueness(t0, t1 []int) ([]float64, error) {
	if _, err := validate(t0, t1); err != nil {
		return nil, err
	}
	out := make([]float64, len(t0))
	for i := range t0 {
		var sum float64
		for t := t0[i]; t < t1[i]; t++ {
			c := 0
			for j := range t0 {
				if t0[j] <= t && t < t1[j] {
					c++
				}
			}
			sum += 1 / float64(c)
		}
		out[i] = sum / float64(t1[i]-t0[i])
	}
	return out, nil
}

// Compute weights the events given by their entry and exit bars. close holds
// the bar close prices; when nil the weight reduces to u·decay.
func Compute(t0, t1 []int, close []float64, cfg Config) ([]Record, error) {
	counts, err := Concurrency(t0, t1)
	if err != nil {
		return nil, err
	}
	if cfg.Decay <= 0 || cfg.Decay > 1 {
		return nil, errs.Shape("decay must be in (0, 1], got %g", cfg.Decay)
	}
	// [t0, t1) needs the forward return out of bar t1-1, so close[t1].
	if span := len(counts); close != nil && span > 0 && len(close) <= span {
		return nil, errs.Shape("%d closes cannot cover exit bar %d", len(close), span)
	}

	u := uniqueness(t0, t1, counts)
	var ret []float64
	if close != nil {
		ret = forwardReturns(close)
	}

	n := len(t0)
	out := make([]Record, n)
	var total float64
	for i := range t0 {
		w := u[i] * math.Pow(cfg.Decay, float64(n-1-i))
		if ret != nil {
			w *= magnitude(ret, counts, t0[i], t1[i], cfg.Aggregator)
		}
		out[i] = Record{T0: t0[i], T1: t1[i], Uniqueness: u[i], Weight: w}
		total += w
	}
	if cfg.Normalize && total > errs.Eps {
		scale := float64(n) / total
		for i := range out {
			out[i].Weight *= scale
		}
	}
	return out, nil
}

// forwardReturns returns r_t = ln(p_{t+1}/p_t); the last element is NaN.
func forwardReturns(close []float64) []float64 {
	r := make([]float64, len(close))
	for t := range close {
		if t+1 >= len(close) || close[t] <= 0 || close[t+1] <= 0 {
			r[t] = math.NaN()
			continue
		}
		r[t] = math.Log(close[t+1] / close[t])
	}
	return r
}

func magnitude(ret []float64, counts []int, from, to int, agg Aggregator) float64 {
	var sum float64
	for t := from; t < to; t++ {
		r := ret[t]
		if math.IsNaN(r) {
			continue
		}
		switch agg {
		case Gross:
			sum += math.Abs(r)
		case Attributed:
			sum += r / float64(counts[t])
		default:
			sum += r
		}
	}
	return math.Abs(sum)
}
