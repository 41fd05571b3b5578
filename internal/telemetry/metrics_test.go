package telemetry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBars(t *testing.T) {
	r := NewRegistry()
	r.RecordBars("fixed", 12, 400)
	r.RecordBars("fixed", 3, 100)
	r.RecordBars("adaptive", 5, 50)

	assert.Equal(t, 15.0, testutil.ToFloat64(r.BarsEmitted.WithLabelValues("fixed")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.BarsEmitted.WithLabelValues("adaptive")))
	assert.Equal(t, 550.0, testutil.ToFloat64(r.TicksProcessed))
}

func TestFoldSkippedAndCache(t *testing.T) {
	r := NewRegistry()
	r.FoldSkipped("primary", 0, errors.New("single class"))
	r.FoldSkipped("primary", 3, errors.New("single class"))
	r.FoldSkipped("secondary", 1, errors.New("single class"))
	r.CacheResult("hit")
	r.CacheResult("miss")
	r.CacheResult("miss")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.FoldsSkipped.WithLabelValues("primary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.FoldsSkipped.WithLabelValues("secondary")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.CacheLookups))
}

func TestStepTimer(t *testing.T) {
	r := NewRegistry()
	timer := r.StartStepTimer("bars")
	d := timer.Stop(ResultSuccess)
	assert.GreaterOrEqual(t, d.Nanoseconds(), int64(0))

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	var hist *dto.Histogram
	for _, mf := range families {
		if mf.GetName() == "signalrun_step_duration_seconds" {
			require.Len(t, mf.GetMetric(), 1)
			hist = mf.GetMetric()[0].GetHistogram()
		}
	}
	require.NotNil(t, hist)
	assert.Equal(t, uint64(1), hist.GetSampleCount())
}

func TestWriteToTextfile(t *testing.T) {
	r := NewRegistry()
	r.RecordBars("fixed", 7, 70)
	path := filepath.Join(t.TempDir(), "signalrun.prom")

	require.NoError(t, r.WriteToTextfile(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)
	assert.True(t, strings.Contains(text, `signalrun_bars_emitted_total{mode="fixed"} 7`), text)
	assert.Contains(t, text, "signalrun_ticks_processed_total 70")
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := NewRegistry(), NewRegistry()
	a.CacheResult("hit")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CacheLookups.WithLabelValues("hit")))
}
