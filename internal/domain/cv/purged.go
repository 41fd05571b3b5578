// Package cv implements purged K-fold cross-validation with an embargo.
package cv

import (
	"fmt"
	"iter"
	"math"
	"math/rand/v2"

	"github.com/sawpanic/signalrun/internal/domain/errs"
)

// Config holds the fold layout knobs.
type Config struct {
	NSplits int     `yaml:"n_splits" validate:"gte=2"`
	Embargo float64 `yaml:"embargo" validate:"gte=0,lt=1"` // fraction of the test size
	Purge   int     `yaml:"purge" validate:"gte=0"`        // samples dropped before each test block
	Shuffle bool    `yaml:"shuffle"`
	Seed    uint64  `yaml:"seed"`
}

// DefaultConfig returns five chronological folds with a 1% embargo.
func DefaultConfig() Config {
	return Config{NSplits: 5, Embargo: 0.01}
}

// Split is one (train, test) pair. Fold is the position of the test
// block in time, which differs from the emission order when shuffled.
type Split struct {
	Fold  int   `json:"fold"`
	Train []int `json:"train"`
	Test  []int `json:"test"`
}

// PurgedKFold emits leakage-free folds over ordered samples.
type PurgedKFold struct {
	cfg Config
}

// New validates cfg and returns a splitter.
func New(cfg Config) (*PurgedKFold, error) {
	if cfg.NSplits < 2 {
		return nil, errs.Shape("n_splits must be at least 2, got %d", cfg.NSplits)
	}
	if cfg.Embargo < 0 || cfg.Embargo >= 1 || math.IsNaN(cfg.Embargo) {
		return nil, errs.Shape("embargo must be in [0, 1), got %g", cfg.Embargo)
	}
	if cfg.Purge < 0 {
		return nil, errs.Shape("purge must be non-negative, got %d", cfg.Purge)
	}
	return &PurgedKFold{cfg: cfg}, nil
}

// Config returns the splitter configuration.
func (k *PurgedKFold) Config() Config { return k.cfg }

// Blocks partitions [0, n) into contiguous [start, stop) test blocks whose
// sizes differ by at most one; the leading blocks take the remainder.
func (k *PurgedKFold) Blocks(n int) ([][2]int, error) {
	if n < k.cfg.NSplits {
		return nil, errs.Shape("%d samples cannot fill %d folds", n, k.cfg.NSplits)
	}
	size, rem := n/k.cfg.NSplits, n%k.cfg.NSplits
	out := make([][2]int, k.cfg.NSplits)
	start := 0
	for j := range out {
		stop := start + size
		if j < rem {
			stop++
		}
		out[j] = [2]int{start, stop}
		start = stop
	}
	return out, nil
}

func (k *PurgedKFold) embargo(testSize int) int {
	return int(math.Floor(k.cfg.Embargo * float64(testSize)))
}

// order is the emission order of the blocks.
func (k *PurgedKFold) order() []int {
	if !k.cfg.Shuffle {
		out := make([]int, k.cfg.NSplits)
		for i := range out {
			out[i] = i
		}
		return out
	}
	rng := rand.New(rand.NewPCG(k.cfg.Seed, k.cfg.Seed^0x9e3779b97f4a7c15))
	return rng.Perm(k.cfg.NSplits)
}

// Split yields the index-based folds over n samples. Training for the
// block [start, stop) is [0, start-purge) ∪ [stop+embargo, n).
func (k *PurgedKFold) Split(n int) (iter.Seq[Split], error) {
	blocks, err := k.Blocks(n)
	if err != nil {
		return nil, err
	}
	order := k.order()
	return func(yield func(Split) bool) {
		for _, j := range order {
			start, stop := blocks[j][0], blocks[j][1]
			head := max(start-k.cfg.Purge, 0)
			tail := min(stop+k.embargo(stop-start), n)

			train := make([]int, 0, head+n-tail)
			for i := 0; i < head; i++ {
				train = append(train, i)
			}
			for i := tail; i < n; i++ {
				train = append(train, i)
			}
			if !yield(Split{Fold: j, Train: train, Test: span(start, stop)}) {
				return
			}
		}
	}, nil
}

// SplitTimes yields folds for samples that start at bar t0[i] and whose
// labels expire at bar t1[i]. A sample trains only if its label expires
// before the test window opens (less the purge) or it starts after the
// window closes (plus the embargo).
func (k *PurgedKFold) SplitTimes(t0, t1 []int) (iter.Seq[Split], error) {
	if len(t0) != len(t1) {
		return nil, errs.Shape("%d start bars for %d expiry bars", len(t0), len(t1))
	}
	for i := range t0 {
		if t1[i] < t0[i] {
			return nil, errs.Shape("sample %d expires at bar %d before it starts at %d", i, t1[i], t0[i])
		}
		if i > 0 && t0[i] < t0[i-1] {
			return nil, fmt.Errorf("%w: sample %d at bar %d follows bar %d", errs.ErrOrdering, i, t0[i], t0[i-1])
		}
	}
	n := len(t0)
	blocks, err := k.Blocks(n)
	if err != nil {
		return nil, err
	}
	order := k.order()
	return func(yield func(Split) bool) {
		for _, j := range order {
			start, stop := blocks[j][0], blocks[j][1]
			lo := t0[start]
			hi := t1[start]
			for i := start; i < stop; i++ {
				hi = max(hi, t1[i])
			}
			lo -= k.cfg.Purge
			hi += k.embargo(stop - start)

			var train []int
			for i := 0; i < n; i++ {
				if i >= start && i < stop {
					continue
				}
				if t1[i] < lo || t0[i] > hi {
					train = append(train, i)
				}
			}
			if !yield(Split{Fold: j, Train: train, Test: span(start, stop)}) {
				return
			}
		}
	}, nil
}

func span(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

// Collect drains a split sequence.
func Collect(seq iter.Seq[Split]) []Split {
	var out []Split
	for s := range seq {
		out = append(out, s)
	}
	return out
}
