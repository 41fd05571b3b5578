package cv

import (
	"fmt"
)

// Check verifies a set of splits over n samples: train and test never
// share an index, and the test sets partition [0, n). When t1 is non-nil
// it also verifies that no training label expires strictly inside a test
// window (t0 of the first test sample, max t1 of the test block).
func Check(n int, splits []Split, t0, t1 []int) error {
	seen := make([]int, n)
	for _, s := range splits {
		inTest := make(map[int]struct{}, len(s.Test))
		for _, i := range s.Test {
			if i < 0 || i >= n {
				return fmt.Errorf("fold %d: test index %d outside [0, %d)", s.Fold, i, n)
			}
			inTest[i] = struct{}{}
			seen[i]++
		}
		for _, i := range s.Train {
			if _, ok := inTest[i]; ok {
				return fmt.Errorf("fold %d: index %d is in both train and test", s.Fold, i)
			}
		}
		if t1 == nil || len(s.Test) == 0 {
			continue
		}
		lo, hi := t0[s.Test[0]], t1[s.Test[0]]
		for _, i := range s.Test {
			lo = min(lo, t0[i])
			hi = max(hi, t1[i])
		}
		for _, i := range s.Train {
			if t1[i] > lo && t1[i] < hi {
				return fmt.Errorf("fold %d: train label %d expires at bar %d inside test window (%d, %d)", s.Fold, i, t1[i], lo, hi)
			}
		}
	}
	for i, c := range seen {
		if c != 1 {
			return fmt.Errorf("index %d appears in %d test sets", i, c)
		}
	}
	return nil
}
