// Package telemetry holds the prometheus metrics recorded by pipeline runs.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Step results used as the result label.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Registry holds all Prometheus metrics for a signalrun process
type Registry struct {
	reg *prometheus.Registry

	// Step duration metrics
	StepDuration *prometheus.HistogramVec

	// Bar builder throughput
	BarsEmitted    *prometheus.CounterVec
	TicksProcessed prometheus.Counter

	// Model layer
	FoldsSkipped *prometheus.CounterVec

	// Stationarity cache
	CacheLookups *prometheus.CounterVec
}

// NewRegistry creates a registry with every signalrun metric registered on
// a private prometheus.Registry.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalrun_step_duration_seconds",
				Help:    "Duration of each pipeline step in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"step", "result"},
		),

		BarsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalrun_bars_emitted_total",
				Help: "Total number of bars emitted by threshold mode",
			},
			[]string{"mode"},
		),

		TicksProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signalrun_ticks_processed_total",
				Help: "Total number of ticks consumed by the bar builder",
			},
		),

		FoldsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalrun_cv_folds_skipped_total",
				Help: "CV folds skipped because the classifier refused to fit",
			},
			[]string{"stage"},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalrun_stationarity_cache_total",
				Help: "Stationarity cache lookups by result",
			},
			[]string{"result"},
		),
	}

	r.reg.MustRegister(
		r.StepDuration,
		r.BarsEmitted,
		r.TicksProcessed,
		r.FoldsSkipped,
		r.CacheLookups,
	)
	return r
}

// Gatherer exposes the underlying registry for HTTP handlers and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// StepTimer tracks execution time for pipeline steps
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a pipeline step
func (r *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{metrics: r, step: step, start: time.Now()}
}

// Stop completes the step timing and records the metric
func (st *StepTimer) Stop(result string) time.Duration {
	duration := time.Since(st.start)
	st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Pipeline step timed")
	return duration
}

// RecordBars adds emitted bars and consumed ticks for one build.
func (r *Registry) RecordBars(mode string, bars int, ticks int64) {
	r.BarsEmitted.WithLabelValues(mode).Add(float64(bars))
	r.TicksProcessed.Add(float64(ticks))
}

// FoldSkipped counts a skipped fold; it satisfies meta.FoldObserver.
func (r *Registry) FoldSkipped(stage string, fold int, err error) {
	r.FoldsSkipped.WithLabelValues(stage).Inc()
	log.Warn().
		Str("stage", stage).
		Int("fold", fold).
		Err(err).
		Msg("CV fold skipped")
}

// CacheResult counts one stationarity cache lookup.
func (r *Registry) CacheResult(result string) {
	r.CacheLookups.WithLabelValues(result).Inc()
}

// WriteToTextfile writes all metrics in the node-exporter textfile format.
func (r *Registry) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
