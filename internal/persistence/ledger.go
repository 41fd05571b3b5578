package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Ledger writes run bookkeeping without ever failing the caller: every
// write goes through a circuit breaker and errors are logged at warn.
type Ledger struct {
	repo    *Repository
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewLedger wraps repo. A nil repo yields a ledger that drops every write.
func NewLedger(repo *Repository, logger zerolog.Logger) *Ledger {
	settings := gobreaker.Settings{
		Name:        "ledger",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Ledger circuit breaker state change")
		},
	}
	return &Ledger{repo: repo, breaker: gobreaker.NewCircuitBreaker(settings), logger: logger}
}

// Enabled reports whether writes reach a store.
func (l *Ledger) Enabled() bool { return l != nil && l.repo != nil }

// State returns the breaker state.
func (l *Ledger) State() gobreaker.State { return l.breaker.State() }

func (l *Ledger) write(op string, fn func() error) {
	if !l.Enabled() {
		return
	}
	_, err := l.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil {
		l.logger.Warn().Err(err).Str("op", op).Msg("Ledger write failed")
	}
}

// StartRun records a new run.
func (l *Ledger) StartRun(ctx context.Context, run Run) {
	l.write("start_run", func() error { return l.repo.Runs.Create(ctx, run) })
}

// FinishRun stamps the run's terminal status.
func (l *Ledger) FinishRun(ctx context.Context, id, status string) {
	l.write("finish_run", func() error { return l.repo.Runs.Finish(ctx, id, status, time.Now()) })
}

// RecordStep stores one step outcome.
func (l *Ledger) RecordStep(ctx context.Context, step StepResult) {
	l.write("record_step", func() error { return l.repo.Steps.Record(ctx, step) })
}

// RecordStationarity stores differencing search outcomes.
func (l *Ledger) RecordStationarity(ctx context.Context, records []StationarityRecord) {
	l.write("record_stationarity", func() error { return l.repo.Stationarity.RecordBatch(ctx, records) })
}

// RecordSweep stores sweep candidates.
func (l *Ledger) RecordSweep(ctx context.Context, records []SweepRecord) {
	l.write("record_sweep", func() error { return l.repo.Sweeps.RecordBatch(ctx, records) })
}
