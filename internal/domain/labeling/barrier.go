package labeling

import (
	"fmt"
	"math"

	"github.com/sawpanic/signalrun/internal/domain/errs"
)

// Touch records which barrier resolved an event.
type Touch string

const (
	TouchUpper    Touch = "upper"
	TouchLower    Touch = "lower"
	TouchVertical Touch = "vertical"
	TouchNone     Touch = "none" // too few downstream bars to scan
)

// BarrierConfig configures the triple-barrier labeler.
type BarrierConfig struct {
	// PT and SL multiply the event's target volatility to place the
	// profit-taking and stop-loss barriers. Zero disables that barrier.
	PT float64 `yaml:"pt" validate:"gte=0"`
	SL float64 `yaml:"sl" validate:"gte=0"`
	// Horizon is the vertical barrier distance in bars.
	Horizon int `yaml:"vertical_barrier_bars" validate:"gt=0"`
	// MinRet drops events whose |realized return| is below it.
	MinRet float64 `yaml:"min_ret" validate:"gte=0"`
	// ZeroOnVertical labels vertical-barrier exits 0 instead of sign(r).
	ZeroOnVertical bool `yaml:"zero_on_vertical"`
}

// DefaultBarrierConfig returns symmetric 1σ barriers over 20 bars.
func DefaultBarrierConfig() BarrierConfig {
	return BarrierConfig{PT: 1, SL: 1, Horizon: 20}
}

// Label is the outcome of one event.
type Label struct {
	T0     int     `json:"t0"`
	T1     int     `json:"t1"`
	Return float64 `json:"ret"`   // oriented by Side
	Label  int     `json:"label"` // -1, 0, +1
	Target float64 `json:"trgt"`  // barrier half-width unit σ_{t0}
	Side   int     `json:"side"`  // +1 or -1
	Touch  Touch   `json:"touch"`
}

// TripleBarrier labels each event bar. sides may be nil (all long) or hold
// one entry per event; sigma is aligned with close. Events on the final
// bar and events whose σ is still warming up or degenerate are skipped.
func TripleBarrier(close []float64, events, sides []int, sigma []float64, cfg BarrierConfig) ([]Label, error) {
	n := len(close)
	if len(sigma) != n {
		return nil, errs.Shape("volatility length %d does not match %d closes", len(sigma), n)
	}
	if sides != nil && len(sides) != len(events) {
		return nil, errs.Shape("%d sides for %d events", len(sides), len(events))
	}
	if cfg.Horizon <= 0 {
		return nil, errs.Shape("vertical barrier must be positive, got %d", cfg.Horizon)
	}

	labels := make([]Label, 0, len(events))
	for i, t0 := range events {
		if t0 < 0 || t0 >= n {
			return nil, errs.Shape("event index %d outside [0, %d)", t0, n)
		}
		if i > 0 && t0 <= events[i-1] {
			return nil, fmt.Errorf("%w: event %d at bar %d follows bar %d", errs.ErrOrdering, i, t0, events[i-1])
		}

		side := 1
		if sides != nil && sides[i] < 0 {
			side = -1
		}

		trgt := sigma[t0]
		// A zero σ puts both barriers on the entry price.
		if math.IsNaN(trgt) || trgt <= errs.Eps || t0 == n-1 {
			continue
		}

		var lbl Label
		if n-1-t0 < 2 {
			lbl = Label{T0: t0, T1: t0 + 1, Target: trgt, Side: side, Touch: TouchNone}
		} else {
			lbl = scan(close, t0, side, trgt, cfg)
		}

		if math.Abs(lbl.Return) < cfg.MinRet {
			continue
		}
		labels = append(labels, lbl)
	}
	return labels, nil
}

// scan walks the path after t0 until the first barrier touch.
func scan(close []float64, t0, side int, trgt float64, cfg BarrierConfig) Label {
	n := len(close)
	tv := t0 + cfg.Horizon
	if tv > n-1 {
		tv = n - 1
	}
	p0 := close[t0]
	upper := cfg.PT * trgt
	lower := -cfg.SL * trgt

	lbl := Label{T0: t0, Target: trgt, Side: side}
	for t := t0 + 1; t <= tv; t++ {
		r := float64(side) * (close[t]/p0 - 1)
		// Upper is tested first so a bar touching both resolves upward.
		if cfg.PT > 0 && r >= upper {
			lbl.T1, lbl.Return, lbl.Label, lbl.Touch = t, r, 1, TouchUpper
			return lbl
		}
		if cfg.SL > 0 && r <= lower {
			lbl.T1, lbl.Return, lbl.Label, lbl.Touch = t, r, -1, TouchLower
			return lbl
		}
	}

	r := float64(side) * (close[tv]/p0 - 1)
	lbl.T1, lbl.Return, lbl.Touch = tv, r, TouchVertical
	if !cfg.ZeroOnVertical {
		lbl.Label = sign(r)
	}
	return lbl
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
