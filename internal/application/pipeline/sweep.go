package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sawpanic/signalrun/internal/domain/bars"
	"github.com/sawpanic/signalrun/internal/domain/errs"
	"github.com/sawpanic/signalrun/internal/domain/labeling"
	"github.com/sawpanic/signalrun/internal/domain/stats"
	"github.com/sawpanic/signalrun/internal/persistence"
	"github.com/sawpanic/signalrun/internal/telemetry"
)

// StepSweep labels sweep timings and ledger runs.
const StepSweep = "sweep"

// SweepCandidate is the outcome of one bars-per-day target.
type SweepCandidate struct {
	Target int            `json:"daily_target"`
	Bars   int            `json:"bars"`
	JB     stats.JBResult `json:"jb"`
	Winner bool           `json:"winner"`
}

// SweepResult ranks the candidates by Jarque-Bera statistic, lowest
// first. Candidates without a statistic sort last.
type SweepResult struct {
	RunID      string           `json:"run_id"`
	Candidates []SweepCandidate `json:"candidates"`
}

// Winner returns the best ranked candidate with a finite statistic.
func (r *SweepResult) Winner() (SweepCandidate, bool) {
	for _, c := range r.Candidates {
		if c.Winner {
			return c, true
		}
	}
	return SweepCandidate{}, false
}

// rankCandidates orders by JB ascending with NaN last, breaking ties on the
// smaller target, and flags the winner.
func rankCandidates(cs []SweepCandidate) {
	slices.SortStableFunc(cs, func(a, b SweepCandidate) int {
		an, bn := math.IsNaN(a.JB.Stat), math.IsNaN(b.JB.Stat)
		switch {
		case an && bn:
			return cmp.Compare(a.Target, b.Target)
		case an:
			return 1
		case bn:
			return -1
		}
		if c := cmp.Compare(a.JB.Stat, b.JB.Stat); c != 0 {
			return c
		}
		return cmp.Compare(a.Target, b.Target)
	})
	for i := range cs {
		cs[i].Winner = i == 0 && !math.IsNaN(cs[i].JB.Stat)
	}
}

// Sweep builds fixed-mode bars for every target and compares how close
// their log returns are to normal. No targets means the configured list.
func (e *Executor) Sweep(ctx context.Context, targets []int) (*SweepResult, error) {
	if len(targets) == 0 {
		targets = e.cfg.Sweep.Targets
	}
	if len(targets) == 0 {
		return nil, errs.Shape("no sweep targets")
	}
	for _, t := range targets {
		if t <= 0 {
			return nil, errs.Shape("sweep target must be positive, got %d", t)
		}
	}

	startTime := time.Now()
	e.ledger.StartRun(ctx, persistence.Run{
		ID:        e.runID,
		Command:   StepSweep,
		Status:    persistence.StatusRunning,
		Config:    e.cfg.JSON(),
		StartedAt: startTime.UTC(),
	})
	timer := e.metrics.StartStepTimer(StepSweep)

	res, err := e.sweep(ctx, targets)
	if err != nil {
		timer.Stop(telemetry.ResultError)
		e.ledger.FinishRun(ctx, e.runID, persistence.StatusFailed)
		return nil, fmt.Errorf("sweep failed: %w", err)
	}
	d := timer.Stop(telemetry.ResultSuccess)

	records := make([]persistence.SweepRecord, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		if math.IsNaN(c.JB.Stat) {
			continue
		}
		records = append(records, persistence.SweepRecord{
			RunID:       e.runID,
			DailyTarget: c.Target,
			Bars:        c.Bars,
			JB:          c.JB.Stat,
			PValue:      c.JB.PValue,
			Winner:      c.Winner,
		})
	}
	e.ledger.RecordSweep(ctx, records)
	e.ledger.FinishRun(ctx, e.runID, persistence.StatusSucceeded)

	res.Render(e.out)
	ev := e.logger.Info().Int("targets", len(targets)).Dur("duration", d)
	if w, ok := res.Winner(); ok {
		ev = ev.Int("winner", w.Target).Float64("jb", w.JB.Stat)
	}
	ev.Msg("Sweep complete")
	return res, nil
}

func (e *Executor) sweep(ctx context.Context, targets []int) (*SweepResult, error) {
	cfg := e.cfg.Bars
	cfg.Mode = bars.ModeFixed
	builder, err := e.builder(cfg)
	if err != nil {
		return nil, err
	}
	// Daily totals do not depend on the target, so the input is read once
	// for them and once per target for the bars.
	totals, _, err := e.dailyTotals(ctx, builder, StepSweep)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{RunID: e.runID}
	for _, target := range targets {
		cfg.DailyTarget = target
		th, err := bars.Fit(cfg, totals)
		if err != nil {
			return nil, err
		}
		bs, ticks, err := e.buildBars(ctx, cfg, th, fmt.Sprintf("%s %d", StepSweep, target))
		if err != nil {
			return nil, err
		}
		e.metrics.RecordBars(string(bars.ModeFixed), len(bs), ticks)
		jb := stats.JarqueBera(labeling.LogReturns(bars.Closes(bs)))
		res.Candidates = append(res.Candidates, SweepCandidate{Target: target, Bars: len(bs), JB: jb})
		e.logger.Debug().Int("target", target).Int("bars", len(bs)).Float64("jb", jb.Stat).Msg("Sweep candidate")
	}
	rankCandidates(res.Candidates)
	return res, nil
}

// Render prints the ranking as a table.
func (r *SweepResult) Render(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tTARGET\tBARS\tJB\tP-VALUE\tSKEW\tEX.KURT\t")
	for i, c := range r.Candidates {
		mark := ""
		if c.Winner {
			mark = "*"
		}
		fmt.Fprintf(tw, "%d%s\t%d\t%d\t%s\t%s\t%s\t%s\t\n", i+1, mark, c.Target, c.Bars,
			num(c.JB.Stat), num(c.JB.PValue), num(c.JB.Skew), num(c.JB.Kurtosis))
	}
	tw.Flush()
}

func num(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}
