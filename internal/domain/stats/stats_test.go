package stats

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRolling(t *testing.T) {
	x := []float64{1, 2, 3, math.NaN(), 5, 6, 7}
	got := Rolling(x, 2, Sum)

	assert.True(t, math.IsNaN(got[0]))
	assert.Equal(t, 3.0, got[1])
	assert.Equal(t, 5.0, got[2])
	assert.True(t, math.IsNaN(got[3]))
	assert.True(t, math.IsNaN(got[4]))
	assert.Equal(t, 11.0, got[5])
	assert.Equal(t, 13.0, got[6])
}

func TestRolling_NoLookahead(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	x := make([]float64, 60)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	base := Rolling(x, 10, Std)

	y := append([]float64(nil), x...)
	for i := 40; i < len(y); i++ {
		y[i] = 1e6
	}
	bumped := Rolling(y, 10, Std)
	for i := 0; i < 40; i++ {
		if math.IsNaN(base[i]) {
			assert.True(t, math.IsNaN(bumped[i]))
			continue
		}
		assert.Equal(t, base[i], bumped[i], "row %d", i)
	}
}

func TestWindowReducers(t *testing.T) {
	win := []float64{3, 9, 1, 4, 5}
	assert.InDelta(t, 3.0/5, SinceMax(win), 1e-12)
	assert.InDelta(t, 2.0/5, SinceMin(win), 1e-12)
	assert.InDelta(t, 0.8, Rank(win), 1e-12)
	assert.Equal(t, 9.0, Max(win))
	assert.Equal(t, 1.0, Min(win))
	assert.Equal(t, 4.0, Quantile(0.5)(win))

	tr := FitTrend([]float64{1, 3, 5, 7})
	assert.InDelta(t, 2, tr.Slope, 1e-12)
	assert.InDelta(t, 1, tr.RSquared, 1e-12)
	assert.InDelta(t, 0, tr.Residual, 1e-12)

	assert.InDelta(t, 1, Corr([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-12)
	assert.InDelta(t, -1, AutoCorr1([]float64{1, -1, 1, -1, 1, -1}), 1e-9)
}

func TestEntropy(t *testing.T) {
	ent := Entropy(4)
	assert.Equal(t, 0.0, ent([]float64{2, 2, 2}))
	// One point in each of four bins.
	assert.InDelta(t, math.Log(4), ent([]float64{0, 1, 2, 3}), 1e-12)
	// Two bins hit twice each.
	assert.InDelta(t, math.Log(2), ent([]float64{0, 0, 3, 3}), 1e-12)
}

func TestJarqueBera(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	normal := make([]float64, 5000)
	skewed := make([]float64, 5000)
	for i := range normal {
		normal[i] = rng.NormFloat64()
		skewed[i] = rng.ExpFloat64()
	}

	n := JarqueBera(normal)
	s := JarqueBera(skewed)
	require.Equal(t, 5000, n.N)
	assert.Greater(t, n.PValue, 0.001)
	assert.Less(t, s.PValue, 1e-6)
	assert.Less(t, n.Stat, s.Stat)

	flat := JarqueBera([]float64{1, 1, 1, 1, 1})
	assert.True(t, math.IsNaN(flat.Stat))
	assert.Equal(t, 1.0, flat.PValue)
	short := JarqueBera([]float64{1, 2, math.NaN()})
	assert.Equal(t, 2, short.N)
	assert.True(t, math.IsNaN(short.Stat))
}
