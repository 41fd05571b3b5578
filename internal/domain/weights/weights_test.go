package weights

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalrun/internal/domain/errs"
)

func TestConcurrency(t *testing.T) {
	counts, err := Concurrency([]int{0, 2, 3}, []int{3, 5, 4})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2, 2, 1}, counts)
}

func TestUniqueness_SharedInterval(t *testing.T) {
	for _, n := range []int{1, 2, 5, 17} {
		t0 := make([]int, n)
		t1 := make([]int, n)
		for i := range t0 {
			t0[i], t1[i] = 3, 9
		}
		u, err := Uniqueness(t0, t1)
		require.NoError(t, err)
		for _, v := range u {
			assert.InDelta(t, 1/float64(n), v, 1e-12)
		}
	}
}

func TestUniqueness_StaggeredOverlap(t *testing.T) {
	t0 := []int{0, 1, 2, 3}
	t1 := []int{4, 4, 4, 4}
	u, err := Uniqueness(t0, t1)
	require.NoError(t, err)
	// Bar 3 is covered by all four events.
	counts, err := Concurrency(t0, t1)
	require.NoError(t, err)
	assert.Equal(t, 4, counts[3])
	assert.InDelta(t, 0.25, u[3], 1e-12)
	assert.InDelta(t, (1+0.5+1.0/3+0.25)/4, u[0], 1e-12)
}

func TestUniqueness_DisjointEvents(t *testing.T) {
	u, err := Uniqueness([]int{0, 5, 10}, []int{5, 10, 12})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1}, u)
}

func TestUniqueness_MatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var t0, t1 []int
	bar := 0
	for i := 0; i < 300; i++ {
		bar += 1 + rng.Intn(4)
		t0 = append(t0, bar)
		t1 = append(t1, bar+1+rng.Intn(25))
	}

	fast, err := Uniqueness(t0, t1)
	require.NoError(t, err)
	slow, err := NaiveUniqueness(t0, t1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, slow, fast, 1e-9)
	for _, u := range fast {
		assert.Greater(t, u, 0.0)
		assert.LessOrEqual(t, u, 1.0+1e-12)
	}
}

func TestCompute(t *testing.T) {
	close := []float64{100, 110, 99, 99, 99}
	t0 := []int{0, 2}
	t1 := []int{2, 4}

	t.Run("net", func(t *testing.T) {
		recs, err := Compute(t0, t1, close, DefaultConfig())
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.InDelta(t, math.Abs(math.Log(99.0/100)), recs[0].Weight, 1e-12)
		assert.InDelta(t, 0.0, recs[1].Weight, 1e-12)
	})

	t.Run("gross", func(t *testing.T) {
		recs, err := Compute(t0, t1, close, Config{Decay: 1, Aggregator: Gross})
		require.NoError(t, err)
		want := math.Log(110.0/100) + math.Abs(math.Log(99.0/110))
		assert.InDelta(t, want, recs[0].Weight, 1e-12)
	})

	t.Run("decay without returns", func(t *testing.T) {
		recs, err := Compute(t0, t1, nil, Config{Decay: 0.5, Aggregator: Net})
		require.NoError(t, err)
		assert.InDelta(t, 0.5, recs[0].Weight, 1e-12)
		assert.InDelta(t, 1.0, recs[1].Weight, 1e-12)
	})

	t.Run("normalize", func(t *testing.T) {
		recs, err := Compute(t0, t1, nil, Config{Decay: 0.5, Normalize: true})
		require.NoError(t, err)
		assert.InDelta(t, 2.0, recs[0].Weight+recs[1].Weight, 1e-12)
	})
}

func TestCompute_Attributed(t *testing.T) {
	close := []float64{100, 101, 102, 103}
	recs, err := Compute([]int{0, 1}, []int{2, 3}, close, Config{Decay: 1, Aggregator: Attributed})
	require.NoError(t, err)

	r0 := math.Log(101.0 / 100)
	r1 := math.Log(102.0 / 101)
	// Bar 1 is shared, so each event keeps half of its return.
	assert.InDelta(t, 0.75*(r0+r1/2), recs[0].Weight, 1e-12)
	assert.InDelta(t, 0.75, recs[0].Uniqueness, 1e-12)
}

func TestCompute_Errors(t *testing.T) {
	_, err := Compute([]int{0, 1}, []int{2}, nil, DefaultConfig())
	assert.True(t, errors.Is(err, errs.ErrInputShape))

	_, err = Compute([]int{3, 1}, []int{4, 2}, nil, DefaultConfig())
	assert.True(t, errors.Is(err, errs.ErrOrdering))

	_, err = Compute([]int{0}, []int{0}, nil, DefaultConfig())
	assert.True(t, errors.Is(err, errs.ErrInputShape))

	_, err = Compute([]int{0}, []int{3}, []float64{1, 2, 3}, DefaultConfig())
	assert.True(t, errors.Is(err, errs.ErrInputShape))

	_, err = Compute([]int{0}, []int{1}, nil, Config{Decay: 0})
	assert.True(t, errors.Is(err, errs.ErrInputShape))
}
