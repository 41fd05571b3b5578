package log

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Progress reports a long loop at most once per interval.
type Progress struct {
	mu        sync.Mutex
	logger    zerolog.Logger
	name      string
	total     int64
	current   int64
	startTime time.Time
	every     rate.Sometimes
}

// NewProgress creates a reporter; total may be 0 when unknown.
func NewProgress(logger zerolog.Logger, name string, total int64, interval time.Duration) *Progress {
	return &Progress{
		logger:    logger,
		name:      name,
		total:     total,
		startTime: time.Now(),
		every:     rate.Sometimes{First: 1, Interval: interval},
	}
}

// Add advances progress by n and logs when the throttle allows.
func (p *Progress) Add(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current += n
	p.every.Do(p.report)
}

// Current returns the accumulated count.
func (p *Progress) Current() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Done logs the final count unconditionally.
func (p *Progress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.Info().
		Str("task", p.name).
		Int64("processed", p.current).
		Dur("duration", time.Since(p.startTime).Round(time.Millisecond)).
		Msg("Completed")
}

func (p *Progress) report() {
	ev := p.logger.Info().Str("task", p.name).Int64("processed", p.current)
	if p.total > 0 {
		ev = ev.Int64("total", p.total).Float64("percent", float64(p.current)/float64(p.total)*100)
		if p.current > 0 {
			elapsed := time.Since(p.startTime)
			perSec := float64(p.current) / elapsed.Seconds()
			if perSec > 0 {
				eta := time.Duration(float64(p.total-p.current) / perSec * float64(time.Second))
				ev = ev.Dur("eta", eta.Round(time.Second))
			}
		}
	}
	ev.Msg("Progress")
}

// StepLogger provides step-by-step progress logging for pipelines
type StepLogger struct {
	logger      zerolog.Logger
	steps       []string
	currentStep int
	stepStart   time.Time
	startTime   time.Time
	stepTimes   []time.Duration
}

// NewStepLogger creates a new step logger for pipeline operations
func NewStepLogger(logger zerolog.Logger, steps []string) *StepLogger {
	return &StepLogger{
		logger:      logger,
		steps:       steps,
		currentStep: -1,
		startTime:   time.Now(),
		stepTimes:   make([]time.Duration, len(steps)),
	}
}

// StartStep begins a new pipeline step
func (sl *StepLogger) StartStep(stepName string) {
	stepIndex := -1
	for i, step := range sl.steps {
		if step == stepName {
			stepIndex = i
			break
		}
	}
	if stepIndex == -1 {
		sl.logger.Warn().Str("step", stepName).Msg("Unknown pipeline step")
		return
	}

	sl.currentStep = stepIndex
	sl.stepStart = time.Now()
	sl.logger.Info().
		Str("step", stepName).
		Int("step_number", stepIndex+1).
		Int("total_steps", len(sl.steps)).
		Msg("Starting pipeline step")
}

// CompleteStep marks the current step as completed
func (sl *StepLogger) CompleteStep(rows int, artifact string) {
	if sl.currentStep < 0 {
		return
	}
	d := time.Since(sl.stepStart)
	sl.stepTimes[sl.currentStep] = d
	sl.logger.Info().
		Str("step", sl.steps[sl.currentStep]).
		Int("rows", rows).
		Str("artifact", artifact).
		Dur("duration", d).
		Msg("Pipeline step completed")
}

// Finish logs the step timing summary
func (sl *StepLogger) Finish() {
	total := time.Since(sl.startTime)
	sl.logger.Info().Dur("total_duration", total).Msg("Pipeline completed")
	for i, step := range sl.steps {
		if sl.stepTimes[i] == 0 {
			continue
		}
		sl.logger.Debug().
			Str("step", step).
			Dur("duration", sl.stepTimes[i]).
			Float64("percentage", float64(sl.stepTimes[i])/float64(total)*100).
			Msg("Step timing")
	}
}

// Fail marks the step logger as failed
func (sl *StepLogger) Fail(err error) {
	sl.logger.Error().
		Err(err).
		Str("failed_step", sl.currentStepName()).
		Int("completed_steps", sl.currentStep).
		Int("total_steps", len(sl.steps)).
		Msg("Pipeline failed")
}

// StepTimes returns recorded durations in step order.
func (sl *StepLogger) StepTimes() []time.Duration {
	return append([]time.Duration(nil), sl.stepTimes...)
}

func (sl *StepLogger) currentStepName() string {
	if sl.currentStep >= 0 && sl.currentStep < len(sl.steps) {
		return sl.steps[sl.currentStep]
	}
	return "unknown"
}
