package cv

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalrun/internal/domain/errs"
)

func TestSplit_EmbargoFloor(t *testing.T) {
	k, err := New(Config{NSplits: 5, Embargo: 0.2})
	require.NoError(t, err)

	seq, err := k.Split(10)
	require.NoError(t, err)
	splits := Collect(seq)
	require.Len(t, splits, 5)

	assert.Equal(t, []int{0, 1}, splits[0].Test)
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7, 8, 9}, splits[0].Train)

	assert.Equal(t, []int{4, 5}, splits[2].Test)
	assert.Equal(t, []int{0, 1, 2, 3, 6, 7, 8, 9}, splits[2].Train)
}

func TestSplit_PurgeAndEmbargo(t *testing.T) {
	k, err := New(Config{NSplits: 3, Embargo: 0.5, Purge: 2})
	require.NoError(t, err)

	seq, err := k.Split(12)
	require.NoError(t, err)
	splits := Collect(seq)

	// Block 1 is [4, 8): purge drops 2 and 3, embargo ⌊0.5·4⌋ drops 8 and 9.
	assert.Equal(t, []int{4, 5, 6, 7}, splits[1].Test)
	assert.Equal(t, []int{0, 1, 10, 11}, splits[1].Train)
}

func TestSplit_UnevenBlocks(t *testing.T) {
	k, err := New(Config{NSplits: 3})
	require.NoError(t, err)
	blocks, err := k.Blocks(11)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 4}, {4, 8}, {8, 11}}, blocks)
}

func TestSplit_DisjointAndCovering(t *testing.T) {
	for _, n := range []int{5, 10, 37, 100} {
		for _, nSplits := range []int{2, 3, 5} {
			for _, purge := range []int{0, 1, 4} {
				for _, emb := range []float64{0, 0.1, 0.5, 0.99} {
					name := fmt.Sprintf("n=%d/k=%d/p=%d/e=%g", n, nSplits, purge, emb)
					t.Run(name, func(t *testing.T) {
						k, err := New(Config{NSplits: nSplits, Embargo: emb, Purge: purge})
						require.NoError(t, err)
						seq, err := k.Split(n)
						require.NoError(t, err)
						splits := Collect(seq)
						assert.Len(t, splits, nSplits)
						assert.NoError(t, Check(n, splits, nil, nil))
					})
				}
			}
		}
	}
}

func randomLabels(n int, seed int64) ([]int, []int) {
	rng := rand.New(rand.NewSource(seed))
	t0 := make([]int, n)
	t1 := make([]int, n)
	bar := 0
	for i := range t0 {
		bar += 1 + rng.Intn(3)
		t0[i] = bar
		t1[i] = bar + 1 + rng.Intn(12)
	}
	return t0, t1
}

func TestSplitTimes_Purges(t *testing.T) {
	for _, seed := range []int64{1, 2, 3} {
		t0, t1 := randomLabels(120, seed)
		for _, cfg := range []Config{
			{NSplits: 4},
			{NSplits: 5, Embargo: 0.1, Purge: 2},
			{NSplits: 3, Embargo: 0.3, Shuffle: true, Seed: 9},
		} {
			k, err := New(cfg)
			require.NoError(t, err)
			seq, err := k.SplitTimes(t0, t1)
			require.NoError(t, err)
			splits := Collect(seq)
			require.Len(t, splits, cfg.NSplits)
			assert.NoError(t, Check(len(t0), splits, t0, t1))
		}
	}
}

func TestSplitTimes_DropsOverlappingLabels(t *testing.T) {
	t0 := []int{0, 1, 2, 3, 4, 5}
	t1 := []int{1, 3, 3, 4, 9, 6}
	k, err := New(Config{NSplits: 3})
	require.NoError(t, err)
	seq, err := k.SplitTimes(t0, t1)
	require.NoError(t, err)
	splits := Collect(seq)

	// Test block [2, 4) spans bars 2..4. Sample 0 expires at 1 and is kept,
	// sample 1 expires at 3 and is purged. Sample 4 starts on bar 4 so only
	// sample 5 survives on the right.
	assert.Equal(t, []int{2, 3}, splits[1].Test)
	assert.Equal(t, []int{0, 5}, splits[1].Train)
}

func TestSplit_ShuffleDeterministic(t *testing.T) {
	k, err := New(Config{NSplits: 6, Shuffle: true, Seed: 42})
	require.NoError(t, err)

	first, err := k.Split(60)
	require.NoError(t, err)
	second, err := k.Split(60)
	require.NoError(t, err)

	a, b := Collect(first), Collect(second)
	assert.Equal(t, a, b)
	assert.NoError(t, Check(60, a, nil, nil))

	folds := make([]int, 0, len(a))
	for _, s := range a {
		folds = append(folds, s.Fold)
		// Each test set is still one contiguous block.
		for i := 1; i < len(s.Test); i++ {
			assert.Equal(t, s.Test[i-1]+1, s.Test[i])
		}
	}
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5}, folds)
}

func TestSplit_StopsEarly(t *testing.T) {
	k, err := New(Config{NSplits: 5})
	require.NoError(t, err)
	seq, err := k.Split(50)
	require.NoError(t, err)

	count := 0
	for range seq {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestNew_Rejects(t *testing.T) {
	for _, cfg := range []Config{
		{NSplits: 1},
		{NSplits: 3, Embargo: 1},
		{NSplits: 3, Embargo: -0.1},
		{NSplits: 3, Purge: -1},
	} {
		_, err := New(cfg)
		assert.True(t, errors.Is(err, errs.ErrInputShape), "%+v", cfg)
	}

	k, err := New(Config{NSplits: 4})
	require.NoError(t, err)
	_, err = k.Split(3)
	assert.True(t, errors.Is(err, errs.ErrInputShape))

	_, err = k.SplitTimes([]int{0, 2, 1, 3}, []int{1, 3, 2, 4})
	assert.True(t, errors.Is(err, errs.ErrOrdering))
}

func TestCheck_DetectsLeak(t *testing.T) {
	splits := []Split{
		{Fold: 0, Test: []int{0, 1}, Train: []int{1, 2}},
		{Fold: 1, Test: []int{2}, Train: []int{0}},
	}
	assert.Error(t, Check(3, splits, nil, nil))

	splits = []Split{
		{Fold: 0, Test: []int{0}, Train: []int{1}},
		{Fold: 1, Test: []int{1}, Train: []int{0}},
	}
	// Sample 0 lives on [0, 5), which ends inside sample 1's window [2, 8).
	assert.Error(t, Check(2, splits, []int{0, 2}, []int{5, 8}))
}
