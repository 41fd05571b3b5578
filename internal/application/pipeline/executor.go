// Package pipeline runs the research pipeline as named steps that hand
// their results to each other through the artifact store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sawpanic/signalrun/internal/artifacts"
	"github.com/sawpanic/signalrun/internal/config"
	"github.com/sawpanic/signalrun/internal/features"
	"github.com/sawpanic/signalrun/internal/infrastructure/cache"
	logprogress "github.com/sawpanic/signalrun/internal/log"
	"github.com/sawpanic/signalrun/internal/persistence"
	"github.com/sawpanic/signalrun/internal/telemetry"
)

// Step names.
const (
	StepLoad     = "load"
	StepBars     = "bars"
	StepLabels   = "labels"
	StepFeatures = "features"
	StepWeights  = "weights"
	StepCV       = "cv"
	StepMeta     = "meta"
	StepBet      = "bet"
	StepVerify   = "verify"
)

// Steps lists every step in run order.
var Steps = []string{StepLoad, StepBars, StepLabels, StepFeatures, StepWeights, StepCV, StepMeta, StepBet, StepVerify}

// StepReport describes how one step went.
type StepReport struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"` // telemetry.Result*
	Rows     int           `json:"rows"`
	Artifact string        `json:"artifact,omitempty"`
	Duration time.Duration `json:"duration"`
	Note     string        `json:"note,omitempty"`
}

// Result contains the outcome of one Run.
type Result struct {
	RunID    string        `json:"run_id"`
	Steps    []StepReport  `json:"steps"`
	Duration time.Duration `json:"duration"`
}

// outcome is what a step reports back to the executor.
type outcome struct {
	rows int
	note string
}

type step struct {
	name     string
	artifact string // empty when the step always runs
	fn       func(ctx context.Context) (outcome, error)
	extra    []string // side artifacts recorded in the manifest
}

// Executor dispatches pipeline steps.
type Executor struct {
	cfg      *config.Config
	store    *artifacts.Store
	metrics  *telemetry.Registry
	ledger   *persistence.Ledger
	resolver features.Resolver
	logger   zerolog.Logger
	out      io.Writer
	force    bool
	runID    string
	onStep   func(runID, step string)
	interval time.Duration
}

// Option customizes an Executor.
type Option func(*Executor)

// WithMetrics records step metrics into reg.
func WithMetrics(reg *telemetry.Registry) Option {
	return func(e *Executor) { e.metrics = reg }
}

// WithLedger writes run bookkeeping to l.
func WithLedger(l *persistence.Ledger) Option {
	return func(e *Executor) { e.ledger = l }
}

// WithResolver replaces the in-memory stationarity cache.
func WithResolver(r features.Resolver) Option {
	return func(e *Executor) { e.resolver = r }
}

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithOutput sets where the verify and sweep tables are printed.
func WithOutput(w io.Writer) Option {
	return func(e *Executor) { e.out = w }
}

// WithForce recomputes steps whose artifact already exists.
func WithForce(force bool) Option {
	return func(e *Executor) { e.force = force }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(e *Executor) { e.runID = id }
}

// WithStepHook is called before each step starts.
func WithStepHook(fn func(runID, step string)) Option {
	return func(e *Executor) { e.onStep = fn }
}

// WithProgressInterval throttles progress lines of the streaming steps.
func WithProgressInterval(d time.Duration) Option {
	return func(e *Executor) { e.interval = d }
}

// New creates an executor over cfg.Data.ArtifactsDir.
func New(cfg *config.Config, opts ...Option) (*Executor, error) {
	store, err := artifacts.NewStore(cfg.Data.ArtifactsDir)
	if err != nil {
		return nil, err
	}
	e := &Executor{
		cfg:      cfg,
		store:    store,
		metrics:  telemetry.NewRegistry(),
		logger:   zerolog.Nop(),
		out:      io.Discard,
		runID:    uuid.NewString(),
		interval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ledger == nil {
		e.ledger = persistence.NewLedger(nil, e.logger)
	}
	if e.resolver == nil {
		e.resolver = cache.NewStationarityCache(cache.NewMemoryCache(), cfg.Cache.TTL, e.logger, e.metrics.CacheResult)
	}
	return e, nil
}

// RunID returns the id stamped on ledger rows.
func (e *Executor) RunID() string { return e.runID }

// Store returns the artifact store.
func (e *Executor) Store() *artifacts.Store { return e.store }

func (e *Executor) steps() []step {
	return []step{
		{StepLoad, artifacts.Thresholds, e.load, nil},
		{StepBars, artifacts.DollarBars, e.bars, nil},
		{StepLabels, artifacts.Labeled, e.labels, []string{artifacts.Events}},
		{StepFeatures, artifacts.Features, e.features, []string{artifacts.Stationarity}},
		{StepWeights, artifacts.SampleWeights, e.weights, nil},
		{StepCV, artifacts.CVFolds, e.folds, nil},
		{StepMeta, artifacts.Predictions, e.meta, nil},
		{StepBet, artifacts.BetSizes, e.bet, nil},
		{StepVerify, "", e.verify, nil},
	}
}

// Run executes the named steps in pipeline order. No names means all of
// them. A step whose artifact is present is skipped unless forced.
func (e *Executor) Run(ctx context.Context, names ...string) (*Result, error) {
	if len(names) == 0 {
		names = Steps
	}
	for _, name := range names {
		if !slices.Contains(Steps, name) {
			return nil, fmt.Errorf("unknown step %q (known: %s)", name, strings.Join(Steps, ", "))
		}
	}
	var plan []step
	for _, s := range e.steps() {
		if slices.Contains(names, s.name) {
			plan = append(plan, s)
		}
	}
	order := make([]string, len(plan))
	for i, s := range plan {
		order[i] = s.name
	}

	startTime := time.Now()
	result := &Result{RunID: e.runID}
	e.ledger.StartRun(ctx, persistence.Run{
		ID:        e.runID,
		Command:   strings.Join(order, " "),
		Status:    persistence.StatusRunning,
		Config:    e.cfg.JSON(),
		StartedAt: startTime.UTC(),
	})
	stepLogger := logprogress.NewStepLogger(e.logger, order)

	for _, s := range plan {
		if e.onStep != nil {
			e.onStep(e.runID, s.name)
		}
		stepLogger.StartStep(s.name)
		timer := e.metrics.StartStepTimer(s.name)

		if s.artifact != "" && !e.force && e.store.Exists(s.artifact) {
			report := StepReport{Name: s.name, Status: telemetry.ResultSkipped, Artifact: s.artifact, Duration: timer.Stop(telemetry.ResultSkipped)}
			result.Steps = append(result.Steps, report)
			e.record(ctx, report)
			e.logger.Info().Str("step", s.name).Str("artifact", s.artifact).Msg("Artifact present, step skipped")
			continue
		}

		out, err := s.fn(ctx)
		if err != nil {
			report := StepReport{Name: s.name, Status: telemetry.ResultError, Artifact: s.artifact, Duration: timer.Stop(telemetry.ResultError), Note: err.Error()}
			result.Steps = append(result.Steps, report)
			result.Duration = time.Since(startTime)
			e.record(ctx, report)
			stepLogger.Fail(err)
			e.ledger.FinishRun(ctx, e.runID, persistence.StatusFailed)
			return result, fmt.Errorf("pipeline failed at step %s: %w", s.name, err)
		}

		report := StepReport{
			Name:     s.name,
			Status:   telemetry.ResultSuccess,
			Rows:     out.rows,
			Artifact: s.artifact,
			Duration: timer.Stop(telemetry.ResultSuccess),
			Note:     out.note,
		}
		result.Steps = append(result.Steps, report)
		e.record(ctx, report)
		if s.artifact != "" {
			if err := e.store.Record(s.name, e.runID, append([]string{s.artifact}, s.extra...)...); err != nil {
				e.logger.Warn().Err(err).Str("step", s.name).Msg("Failed to update artifact manifest")
			}
		}
		stepLogger.CompleteStep(out.rows, s.artifact)
	}

	result.Duration = time.Since(startTime)
	stepLogger.Finish()
	e.ledger.FinishRun(ctx, e.runID, persistence.StatusSucceeded)
	return result, nil
}

func (e *Executor) record(ctx context.Context, r StepReport) {
	e.ledger.RecordStep(ctx, persistence.StepResult{
		RunID:      e.runID,
		Step:       r.Name,
		Status:     r.Status,
		Rows:       int64(r.Rows),
		DurationMS: r.Duration.Milliseconds(),
		Artifact:   r.Artifact,
		Note:       r.Note,
		CreatedAt:  time.Now().UTC(),
	})
}

// needs reads an upstream artifact and points at the step that writes it
// when it is missing.
func needs[T any](step, artifact string, read func() (T, error)) (T, error) {
	v, err := read()
	if errors.Is(err, artifacts.ErrMissing) {
		return v, fmt.Errorf("%s needs %s; run the %s step first: %w", step, artifact, producer(artifact), err)
	}
	return v, err
}

func producer(artifact string) string {
	switch artifact {
	case artifacts.Thresholds:
		return StepLoad
	case artifacts.DollarBars:
		return StepBars
	case artifacts.Labeled, artifacts.Events:
		return StepLabels
	case artifacts.Features:
		return StepFeatures
	case artifacts.SampleWeights:
		return StepWeights
	case artifacts.Predictions:
		return StepMeta
	}
	return "upstream"
}
