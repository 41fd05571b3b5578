package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

type memSteps struct {
	fail  bool
	calls int
	saved []StepResult
}

func (m *memSteps) Record(_ context.Context, s StepResult) error {
	m.calls++
	if m.fail {
		return errors.New("database is locked")
	}
	m.saved = append(m.saved, s)
	return nil
}

func (m *memSteps) ListByRun(context.Context, string) ([]StepResult, error) { return m.saved, nil }

type memRuns struct {
	runs   map[string]Run
	status map[string]string
}

func (m *memRuns) Create(_ context.Context, r Run) error { m.runs[r.ID] = r; return nil }

func (m *memRuns) Finish(_ context.Context, id, status string, _ time.Time) error {
	m.status[id] = status
	return nil
}

func (m *memRuns) Get(_ context.Context, id string) (*Run, error) {
	r, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memRuns) ListRecent(context.Context, int) ([]Run, error) { return nil, nil }

func TestLedger_Disabled(t *testing.T) {
	l := NewLedger(nil, zerolog.Nop())
	assert.False(t, l.Enabled())
	// No repositories behind it: every call is a no-op.
	l.StartRun(context.Background(), Run{ID: "x"})
	l.RecordStep(context.Background(), StepResult{Step: "bars"})
	l.FinishRun(context.Background(), "x", StatusSucceeded)
}

func TestLedger_Writes(t *testing.T) {
	runs := &memRuns{runs: map[string]Run{}, status: map[string]string{}}
	steps := &memSteps{}
	l := NewLedger(&Repository{Runs: runs, Steps: steps}, zerolog.Nop())

	l.StartRun(context.Background(), Run{ID: "r1", Command: "run"})
	l.RecordStep(context.Background(), StepResult{RunID: "r1", Step: "bars", Rows: 10})
	l.FinishRun(context.Background(), "r1", StatusSucceeded)

	assert.Contains(t, runs.runs, "r1")
	assert.Equal(t, StatusSucceeded, runs.status["r1"])
	assert.Len(t, steps.saved, 1)
}

func TestLedger_BreakerOpensOnFailures(t *testing.T) {
	steps := &memSteps{fail: true}
	l := NewLedger(&Repository{Steps: steps}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		l.RecordStep(context.Background(), StepResult{Step: "labels"})
	}
	assert.Equal(t, gobreaker.StateOpen, l.State())
	// Writes after the trip are short-circuited.
	assert.Equal(t, 3, steps.calls)
}
