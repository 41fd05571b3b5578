package fracdiff

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMacKinnonP(t *testing.T) {
	// Published 1%/5%/10% critical values for the constant-only case.
	assert.InDelta(t, 0.01, MacKinnonP(-3.43), 0.003)
	assert.InDelta(t, 0.05, MacKinnonP(-2.86), 0.003)
	assert.InDelta(t, 0.10, MacKinnonP(-2.57), 0.005)

	assert.Equal(t, 1.0, MacKinnonP(3.0))
	assert.Equal(t, 0.0, MacKinnonP(-25))
	assert.Less(t, MacKinnonP(-4), MacKinnonP(-2))
}

func TestADF_WhiteNoiseIsStationary(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	y := make([]float64, 500)
	for i := range y {
		y[i] = rng.NormFloat64()
	}

	res, err := ADF(y, DefaultADFConfig())
	require.NoError(t, err)
	assert.Less(t, res.PValue, 0.01)
	assert.Greater(t, res.NObs, 400)
}

func TestADF_TrendingWalkIsNot(t *testing.T) {
	y := trendingWalk(600, 3)

	res, err := ADF(y, DefaultADFConfig())
	require.NoError(t, err)
	assert.Greater(t, res.PValue, 0.05)
}

func TestADF_Failures(t *testing.T) {
	_, err := ADF([]float64{1, 2}, DefaultADFConfig())
	assert.True(t, errors.Is(err, ErrTooFewPoints))

	constant := make([]float64, 100)
	for i := range constant {
		constant[i] = 42
	}
	_, err = ADF(constant, DefaultADFConfig())
	assert.Error(t, err)
}

// trendingWalk is a random walk with a strong drift; with a constant-only
// regression the unit root is never rejected.
func trendingWalk(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	y := make([]float64, n)
	y[0] = 100
	for i := 1; i < n; i++ {
		y[i] = y[i-1] + 0.5 + rng.NormFloat64()
	}
	return y
}
