package bars

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalrun/internal/domain/errs"
)

var day0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func TestFixedBars_FourTickScenario(t *testing.T) {
	ticks := []Tick{
		NewTrade(day0.Add(1*time.Second), 100, 1),
		NewTrade(day0.Add(2*time.Second), 100, 1),
		NewTrade(day0.Add(3*time.Second), 100, 1),
		NewTrade(day0.Add(4*time.Second), 100, 1),
	}
	cfg := DefaultConfig()
	cfg.DailyTarget = 2
	b := NewBuilder(cfg, nil)

	th, err := b.Fit(ticks)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, th.Global, 1e-12)

	out, err := b.Transform(ticks, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, day0.Add(2*time.Second), out[0].Time)
	assert.InDelta(t, 200.0, out[0].Amount, 1e-12)
	assert.Equal(t, 2, out[0].Ticks)
	assert.Equal(t, day0.Add(4*time.Second), out[1].Time)
	assert.InDelta(t, 200.0, out[1].Amount, 1e-12)
}

func TestFixedBars_ClosureCountAndAmount(t *testing.T) {
	ticks := randomTicks(5000, 3, 42)
	cfg := DefaultConfig()
	cfg.DailyTarget = 40
	b := NewBuilder(cfg, nil)
	th, err := b.Fit(ticks)
	require.NoError(t, err)

	out, err := b.Transform(ticks, th)
	require.NoError(t, err)

	total := 0.0
	for _, tk := range ticks {
		total += tk.Close * tk.Volume
	}
	sum := 0.0
	for _, bar := range out {
		sum += bar.Amount
		assert.True(t, bar.Valid(), "bar %+v", bar)
	}
	assert.InEpsilon(t, total, sum, 1e-9)

	floor := int(math.Floor(total / th.Global))
	assert.Contains(t, []int{floor, floor + 1}, len(out))

	for i := 1; i < len(out); i++ {
		assert.False(t, out[i].Time.Before(out[i-1].Time))
	}
}

func TestFixedBars_LargeTickClosesOneBar(t *testing.T) {
	ticks := []Tick{
		NewTrade(day0.Add(1*time.Second), 50, 1),
		NewTrade(day0.Add(2*time.Second), 250, 1),
		NewTrade(day0.Add(3*time.Second), 50, 1),
	}
	b := NewBuilder(DefaultConfig(), nil)

	out, err := b.Transform(ticks, &Threshold{Mode: ModeFixed, Target: 1, Global: 100, Fallback: 100})
	require.NoError(t, err)
	// 350 crosses three multiples of 100, but the 250 tick stays whole.
	require.Len(t, out, 2)
	assert.InDelta(t, 300.0, out[0].Amount, 1e-12)
	assert.Equal(t, 2, out[0].Ticks)
	assert.InDelta(t, 50.0, out[1].Amount, 1e-12)
	assert.Equal(t, 1, out[1].Ticks)
}

func TestChunkEquivalence(t *testing.T) {
	for _, mode := range []Mode{ModeFixed, ModeAdaptive} {
		t.Run(string(mode), func(t *testing.T) {
			ticks := randomTicks(600, 4, 7)
			cfg := DefaultConfig()
			cfg.Mode = mode
			cfg.DailyTarget = 12
			cfg.EMASpan = 2
			b := NewBuilder(cfg, nil)
			th, err := b.Fit(ticks)
			require.NoError(t, err)

			want, err := b.Transform(ticks, th)
			require.NoError(t, err)
			require.NotEmpty(t, want)

			for _, size := range []int{1, 2, 3, 7, 64, 599, 600, 1000} {
				var got []Bar
				for bar, err := range b.Bars(context.Background(), NewSliceSource(ticks, size), th) {
					require.NoError(t, err)
					got = append(got, bar)
				}
				assert.Equal(t, want, got, "chunk size %d", size)
			}
		})
	}
}

func TestAdaptiveThreshold_Lag(t *testing.T) {
	ticks := randomTicks(800, 4, 99)
	cfg := DefaultConfig()
	cfg.Mode = ModeAdaptive
	cfg.DailyTarget = 10
	cfg.EMASpan = 3
	cfg.WarmupThreshold = 5000

	b := NewBuilder(cfg, nil)
	th, err := b.Fit(ticks)
	require.NoError(t, err)
	base, err := b.Transform(ticks, th)
	require.NoError(t, err)

	// Double every quantity on the last day.
	lastDay := UTCSessions().Day(ticks[len(ticks)-1].Time)
	perturbed := make([]Tick, len(ticks))
	copy(perturbed, ticks)
	for i := range perturbed {
		if UTCSessions().Day(perturbed[i].Time) == lastDay {
			perturbed[i].Volume *= 2
		}
	}
	b2 := NewBuilder(cfg, nil)
	th2, err := b2.Fit(perturbed)
	require.NoError(t, err)
	moved, err := b2.Transform(perturbed, th2)
	require.NoError(t, err)

	for _, d := range th.Days {
		assert.Equal(t, th.For(d), th2.For(d), "threshold on %s", d)
	}

	var before, beforeMoved []Bar
	for _, bar := range base {
		if UTCSessions().Day(bar.Time) < lastDay {
			before = append(before, bar)
		}
	}
	for _, bar := range moved {
		if UTCSessions().Day(bar.Time) < lastDay {
			beforeMoved = append(beforeMoved, bar)
		}
	}
	require.NotEmpty(t, before)
	assert.Equal(t, before, beforeMoved)
}

func TestAdaptiveThreshold_FallbackAndLaggedEWMA(t *testing.T) {
	var ticks []Tick
	amounts := []float64{1000, 3000, 2000}
	for d, amt := range amounts {
		ticks = append(ticks, NewTrade(day0.Add(time.Duration(d)*24*time.Hour), 100, amt/100))
	}
	cfg := DefaultConfig()
	cfg.Mode = ModeAdaptive
	cfg.DailyTarget = 10
	cfg.EMASpan = 1 // alpha = 1: EWMA equals the previous day's amount

	th, err := NewBuilder(cfg, nil).Fit(ticks)
	require.NoError(t, err)

	assert.InDelta(t, 200.0, th.Fallback, 1e-9) // mean 2000 / 10
	assert.InDelta(t, 200.0, th.For("2024-03-04"), 1e-9)
	assert.InDelta(t, 100.0, th.For("2024-03-05"), 1e-9)
	assert.InDelta(t, 300.0, th.For("2024-03-06"), 1e-9)
	// Dates after the fit window use the latest EWMA.
	assert.InDelta(t, 200.0, th.For("2024-03-10"), 1e-9)
}

func TestFit_ExcludesZeroVolumeDays(t *testing.T) {
	ticks := []Tick{
		NewTrade(day0, 100, 10),
		NewTrade(day0.Add(24*time.Hour), 100, 0),
		NewTrade(day0.Add(48*time.Hour), 100, 30),
	}
	cfg := DefaultConfig()
	cfg.DailyTarget = 1
	th, err := NewBuilder(cfg, nil).Fit(ticks)
	require.NoError(t, err)
	assert.InDelta(t, 2000.0, th.Global, 1e-9)
}

func TestTransform_Failures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyTarget = 2
	b := NewBuilder(cfg, nil)

	t.Run("not fitted", func(t *testing.T) {
		_, err := b.Transform([]Tick{NewTrade(day0, 1, 1)}, nil)
		assert.True(t, errors.Is(err, errs.ErrNotFitted))
	})

	th := &Threshold{Mode: ModeFixed, Target: 2, Global: 150, Fallback: 150}

	t.Run("empty input", func(t *testing.T) {
		out, err := b.Transform(nil, th)
		assert.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("non-monotonic timestamps", func(t *testing.T) {
		ticks := []Tick{NewTrade(day0.Add(time.Second), 100, 1), NewTrade(day0, 100, 1)}
		_, err := b.Transform(ticks, th)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrOrdering))
		var oe *errs.OrderingError
		require.True(t, errors.As(err, &oe))
		assert.Equal(t, 1, oe.Position)
	})

	t.Run("non-monotonic across chunk seam", func(t *testing.T) {
		s, err := b.NewStream(th)
		require.NoError(t, err)
		_, err = s.Push([]Tick{NewTrade(day0.Add(time.Minute), 100, 1)})
		require.NoError(t, err)
		_, err = s.Push([]Tick{NewTrade(day0, 100, 1)})
		assert.True(t, errors.Is(err, errs.ErrOrdering))
	})

	t.Run("negative amount", func(t *testing.T) {
		tk := NewTrade(day0, 100, 1)
		tk.Amount = -5
		_, err := b.Transform([]Tick{tk}, th)
		assert.True(t, errors.Is(err, errs.ErrInputShape))
	})
}

func TestTransform_ComputesAmountFromOHLC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Multiplier = 300
	b := NewBuilder(cfg, nil)
	th := &Threshold{Mode: ModeFixed, Target: 1, Global: 1e9, Fallback: 1e9}

	tk := Tick{Time: day0, Open: 10, High: 12, Low: 8, Close: 10, Volume: 2, Amount: math.NaN()}
	out, err := b.Transform([]Tick{tk}, th)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 10*2*300.0, out[0].Amount, 1e-9)
	assert.Equal(t, 12.0, out[0].High)
	assert.Equal(t, 8.0, out[0].Low)
}

// randomTicks produces a time-sorted random walk spread over days.
func randomTicks(n, days int, seed int64) []Tick {
	rng := rand.New(rand.NewSource(seed))
	step := time.Duration(int64(days) * int64(24*time.Hour) / int64(n))
	price := 100.0
	out := make([]Tick, n)
	for i := range out {
		price *= math.Exp(rng.NormFloat64() * 0.002)
		qty := 0.5 + rng.Float64()*2
		out[i] = NewTrade(day0.Add(time.Duration(i)*step), price, qty)
	}
	return out
}
