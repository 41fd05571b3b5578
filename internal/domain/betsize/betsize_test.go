package betsize

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalrun/internal/domain/errs"
)

func TestSize_Probability70(t *testing.T) {
	z := 0.2 / math.Sqrt(0.21)
	assert.InDelta(t, 0.436, z, 1e-3)

	assert.InDelta(t, 0.337, Size(0.7, 1, Config{}), 1e-3)
	assert.InDelta(t, -0.337, Size(0.7, -1, Config{}), 1e-3)
}

func TestMagnitude_Monotone(t *testing.T) {
	assert.Equal(t, 0.0, Magnitude(0.5))
	prev := Magnitude(0.5)
	for p := 0.51; p < 0.999; p += 0.01 {
		m := Magnitude(p)
		assert.Greater(t, m, prev, "p=%.2f", p)
		prev = m
	}
	assert.LessOrEqual(t, Magnitude(1), 1.0)
}

func TestMagnitude_FloorsBelowHalf(t *testing.T) {
	for _, p := range []float64{0, 0.1, 0.3, 0.49} {
		assert.Equal(t, 0.0, Magnitude(p))
	}
}

func TestDiscretize(t *testing.T) {
	assert.InDelta(t, 0.3, Discretize(0.337, 0.1), 1e-12)
	assert.InDelta(t, -0.35, Discretize(-0.337, 0.05), 1e-12)
	assert.Equal(t, 0.337, Discretize(0.337, 0))
	assert.InDelta(t, 0.3, Size(0.7, 1, Config{StepSize: 0.1}), 1e-12)
}

func TestSizes(t *testing.T) {
	probs := []float64{0.7, 0.4, math.NaN(), 0.9}
	sides := []int{1, 1, -1, -1}

	out, err := Sizes(probs, sides, nil, Config{})
	require.NoError(t, err)
	assert.InDelta(t, 0.337, out[0], 1e-3)
	assert.Equal(t, 0.0, out[1])
	assert.Equal(t, 0.0, out[2])
	assert.Less(t, out[3], -0.5)

	avg, err := Sizes(probs, sides, []float64{0.5, 1, 1, 0.25}, Config{AverageActive: true})
	require.NoError(t, err)
	assert.InDelta(t, out[0]*0.5, avg[0], 1e-12)
	assert.InDelta(t, out[3]*0.25, avg[3], 1e-12)

	_, err = Sizes(probs, sides[:2], nil, Config{})
	assert.True(t, errors.Is(err, errs.ErrInputShape))
	_, err = Sizes(probs, sides, nil, Config{AverageActive: true})
	assert.True(t, errors.Is(err, errs.ErrInputShape))
}
