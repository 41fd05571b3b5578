package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/sawpanic/signalrun/internal/artifacts"
	"github.com/sawpanic/signalrun/internal/data/ingest"
	"github.com/sawpanic/signalrun/internal/domain/bars"
	"github.com/sawpanic/signalrun/internal/domain/betsize"
	"github.com/sawpanic/signalrun/internal/domain/cv"
	"github.com/sawpanic/signalrun/internal/domain/errs"
	"github.com/sawpanic/signalrun/internal/domain/labeling"
	"github.com/sawpanic/signalrun/internal/domain/weights"
	"github.com/sawpanic/signalrun/internal/features"
	logprogress "github.com/sawpanic/signalrun/internal/log"
	"github.com/sawpanic/signalrun/internal/meta"
	"github.com/sawpanic/signalrun/internal/persistence"
)

func (e *Executor) builder(cfg bars.Config) (*bars.Builder, error) {
	sessions, err := bars.NewSessions(cfg.Timezone, cfg.CalendarMIC)
	if err != nil {
		return nil, err
	}
	return bars.NewBuilder(cfg, sessions), nil
}

func (e *Executor) open() (ingest.Source, int64, error) {
	if e.cfg.Data.Input == "" {
		return nil, 0, errs.Shape("no input file configured")
	}
	opts := ingest.DefaultOptions()
	opts.ChunkSize = e.cfg.Bars.ChunkSize
	opts.Multiplier = e.cfg.Bars.Multiplier
	if tz := e.cfg.Bars.Timezone; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
		opts.Location = loc
	}
	src, err := ingest.Open(e.cfg.Data.Input, opts)
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if counted, ok := src.(interface{ NumRows() int64 }); ok {
		total = counted.NumRows()
	}
	return src, total, nil
}

// countingSource feeds a progress reporter as chunks go by.
type countingSource struct {
	src      bars.ChunkSource
	progress *logprogress.Progress
}

func (c *countingSource) Next(ctx context.Context) ([]bars.Tick, error) {
	chunk, err := c.src.Next(ctx)
	c.progress.Add(int64(len(chunk)))
	return chunk, err
}

// dailyTotals streams the input once, accumulating daily dollar volume.
func (e *Executor) dailyTotals(ctx context.Context, builder *bars.Builder, task string) (*bars.DailyTotals, int64, error) {
	src, total, err := e.open()
	if err != nil {
		return nil, 0, err
	}
	defer src.Close()

	totals := builder.NewDailyTotals()
	progress := logprogress.NewProgress(e.logger, task, total, e.interval)
	for {
		chunk, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read %s: %w", e.cfg.Data.Input, err)
		}
		if err := totals.Add(chunk); err != nil {
			return nil, 0, err
		}
		progress.Add(int64(len(chunk)))
	}
	progress.Done()
	return totals, progress.Current(), nil
}

// load fits the threshold table from daily totals and stores it.
func (e *Executor) load(ctx context.Context) (outcome, error) {
	builder, err := e.builder(e.cfg.Bars)
	if err != nil {
		return outcome{}, err
	}
	totals, ticks, err := e.dailyTotals(ctx, builder, StepLoad)
	if err != nil {
		return outcome{}, err
	}
	th, err := builder.FitTotals(totals)
	if err != nil {
		return outcome{}, fmt.Errorf("failed to fit threshold: %w", err)
	}
	days := totals.Days()
	if err := e.store.WriteThreshold(th, days); err != nil {
		return outcome{}, err
	}
	return outcome{
		rows: int(ticks),
		note: fmt.Sprintf("%d days, %s threshold %.4g", len(days), th.Mode, th.Global),
	}, nil
}

// buildBars runs one streaming pass over the input with th.
func (e *Executor) buildBars(ctx context.Context, cfg bars.Config, th *bars.Threshold, task string) ([]bars.Bar, int64, error) {
	builder, err := e.builder(cfg)
	if err != nil {
		return nil, 0, err
	}
	src, total, err := e.open()
	if err != nil {
		return nil, 0, err
	}
	defer src.Close()

	counter := &countingSource{src: src, progress: logprogress.NewProgress(e.logger, task, total, e.interval)}
	var out []bars.Bar
	for bar, err := range builder.Bars(ctx, counter, th) {
		if err != nil {
			return nil, 0, err
		}
		out = append(out, bar)
	}
	counter.progress.Done()
	return out, counter.progress.Current(), nil
}

func (e *Executor) bars(ctx context.Context) (outcome, error) {
	th, err := needs(StepBars, artifacts.Thresholds, e.store.ReadThreshold)
	if err != nil {
		return outcome{}, err
	}
	bs, ticks, err := e.buildBars(ctx, e.cfg.Bars, th, StepBars)
	if err != nil {
		return outcome{}, err
	}
	if len(bs) == 0 {
		return outcome{}, errs.Shape("input produced no bars")
	}
	if err := e.store.WriteBars(bs); err != nil {
		return outcome{}, err
	}
	e.metrics.RecordBars(string(th.Mode), len(bs), ticks)
	return outcome{rows: len(bs), note: fmt.Sprintf("%d ticks", ticks)}, nil
}

func (e *Executor) labels(ctx context.Context) (outcome, error) {
	bs, err := needs(StepLabels, artifacts.DollarBars, e.store.ReadBars)
	if err != nil {
		return outcome{}, err
	}
	closes := bars.Closes(bs)
	sigma := labeling.Volatility(closes, e.cfg.Labels.Volatility)
	events := labeling.CUSUM(closes, labeling.ScaledThresholds(sigma, e.cfg.Labels.CUSUMK))
	labels, err := labeling.TripleBarrier(closes, events, nil, sigma, e.cfg.Labels.Barrier)
	if err != nil {
		return outcome{}, err
	}
	if len(labels) == 0 {
		return outcome{}, errs.Shape("%d events sampled, none survived labeling", len(events))
	}
	if err := e.store.WriteEvents(events, bs, sigma); err != nil {
		return outcome{}, err
	}
	if err := e.store.WriteLabels(labels, bs); err != nil {
		return outcome{}, err
	}
	return outcome{rows: len(labels), note: fmt.Sprintf("%d events sampled", len(events))}, nil
}

func (e *Executor) features(ctx context.Context) (outcome, error) {
	bs, err := needs(StepFeatures, artifacts.DollarBars, e.store.ReadBars)
	if err != nil {
		return outcome{}, err
	}
	engine := features.NewEngine(e.cfg.Features, features.WithResolver(e.resolver), features.WithLogger(e.logger))
	if err := engine.Fit(ctx, bs); err != nil {
		return outcome{}, err
	}
	m, err := engine.Transform(bs)
	if err != nil {
		return outcome{}, err
	}
	if err := e.store.WriteFeatures(m); err != nil {
		return outcome{}, err
	}

	searches := engine.Searches()
	if len(searches) > 0 {
		if err := e.store.WriteStationarity(searches); err != nil {
			return outcome{}, err
		}
		now := time.Now().UTC()
		records := make([]persistence.StationarityRecord, 0, len(searches))
		for series, res := range searches {
			records = append(records, persistence.StationarityRecord{
				RunID:      e.runID,
				Series:     series,
				D:          res.D,
				PValue:     res.PValue,
				Stationary: res.Stationary,
				Points:     len(res.History),
				CreatedAt:  now,
			})
		}
		e.ledger.RecordStationarity(ctx, records)
	}

	var orders []string
	for series, d := range engine.Orders() {
		orders = append(orders, fmt.Sprintf("%s d=%.2f", series, d))
	}
	note := fmt.Sprintf("%d columns", m.Cols())
	if len(orders) > 0 {
		slices.Sort(orders)
		note += "; " + strings.Join(orders, ", ")
	}
	return outcome{rows: m.Rows(), note: note}, nil
}

func horizons(labels []labeling.Label) (t0, t1 []int) {
	t0 = make([]int, len(labels))
	t1 = make([]int, len(labels))
	for i, l := range labels {
		t0[i], t1[i] = l.T0, l.T1
	}
	return t0, t1
}

func (e *Executor) weights(ctx context.Context) (outcome, error) {
	labels, err := needs(StepWeights, artifacts.Labeled, e.store.ReadLabels)
	if err != nil {
		return outcome{}, err
	}
	bs, err := needs(StepWeights, artifacts.DollarBars, e.store.ReadBars)
	if err != nil {
		return outcome{}, err
	}
	t0, t1 := horizons(labels)
	recs, err := weights.Compute(t0, t1, bars.Closes(bs), e.cfg.Weights)
	if err != nil {
		return outcome{}, err
	}
	if err := e.store.WriteWeights(recs); err != nil {
		return outcome{}, err
	}
	return outcome{rows: len(recs)}, nil
}

func (e *Executor) folds(ctx context.Context) (outcome, error) {
	labels, err := needs(StepCV, artifacts.Labeled, e.store.ReadLabels)
	if err != nil {
		return outcome{}, err
	}
	t0, t1 := horizons(labels)
	k, err := cv.New(e.cfg.CV)
	if err != nil {
		return outcome{}, err
	}
	seq, err := k.SplitTimes(t0, t1)
	if err != nil {
		return outcome{}, err
	}
	splits := cv.Collect(seq)
	if err := cv.Check(len(labels), splits, t0, t1); err != nil {
		return outcome{}, fmt.Errorf("fold layout broken: %w", err)
	}
	if err := e.store.WriteFolds(splits); err != nil {
		return outcome{}, err
	}
	return outcome{rows: len(labels), note: fmt.Sprintf("%d folds", len(splits))}, nil
}

// dataset aligns the bar-level feature matrix with the labeled events.
func dataset(m *features.Matrix, labels []labeling.Label, recs []weights.Record) (meta.Dataset, error) {
	if len(recs) != len(labels) {
		return meta.Dataset{}, errs.Shape("%d weights for %d labels", len(recs), len(labels))
	}
	t0, t1 := horizons(labels)
	for _, i := range t0 {
		if i >= m.Rows() {
			return meta.Dataset{}, errs.Shape("event at bar %d outside %d feature rows", i, m.Rows())
		}
	}
	filled := m.Clone()
	filled.FillMissing()
	x := features.NewMatrix(len(labels))
	for _, name := range filled.Names() {
		col, _ := filled.Col(name)
		picked := make([]float64, len(t0))
		for j, i := range t0 {
			picked[j] = col[i]
		}
		if err := x.Add(name, picked); err != nil {
			return meta.Dataset{}, err
		}
	}
	y := make([]int, len(labels))
	w := make([]float64, len(labels))
	for i, l := range labels {
		y[i] = l.Label
		w[i] = recs[i].Weight
	}
	return meta.Dataset{X: x, Y: y, W: w, T0: t0, T1: t1}, nil
}

func (e *Executor) meta(ctx context.Context) (outcome, error) {
	m, err := needs(StepMeta, artifacts.Features, e.store.ReadFeatures)
	if err != nil {
		return outcome{}, err
	}
	labels, err := needs(StepMeta, artifacts.Labeled, e.store.ReadLabels)
	if err != nil {
		return outcome{}, err
	}
	recs, err := needs(StepMeta, artifacts.SampleWeights, e.store.ReadWeights)
	if err != nil {
		return outcome{}, err
	}
	ds, err := dataset(m, labels, recs)
	if err != nil {
		return outcome{}, err
	}

	orch := meta.New(meta.Config{
		CV:             e.cfg.CV,
		NormalizeScope: e.cfg.Features.NormalizeScope,
		Logistic:       e.cfg.Meta.Logistic,
	}, meta.WithObserver(e.metrics), meta.WithLogger(e.logger))
	res, err := orch.Run(ctx, ds)
	if err != nil {
		return outcome{}, err
	}
	if err := e.store.WritePredictions(res.Rows, ds.T0); err != nil {
		return outcome{}, err
	}
	return outcome{rows: len(res.Rows), note: strings.Join(res.Notes, "; ")}, nil
}

// bet sizes each primary bet by the meta-model's confidence that it is
// right. Rows without an out-of-sample meta probability get size 0.
func (e *Executor) bet(ctx context.Context) (outcome, error) {
	preds, err := needs(StepBet, artifacts.Predictions, e.store.ReadPredictions)
	if err != nil {
		return outcome{}, err
	}
	recs, err := needs(StepBet, artifacts.SampleWeights, e.store.ReadWeights)
	if err != nil {
		return outcome{}, err
	}
	if len(recs) != len(preds) {
		return outcome{}, errs.Shape("%d weights for %d predictions", len(recs), len(preds))
	}

	probs := make([]float64, len(preds))
	sides := make([]int, len(preds))
	uniq := make([]float64, len(preds))
	for i, p := range preds {
		probs[i] = p.FinalProba
		sides[i] = int(p.PrimaryPred)
		uniq[i] = recs[i].Uniqueness
	}
	sizes, err := betsize.Sizes(probs, sides, uniq, e.cfg.Bet)
	if err != nil {
		return outcome{}, err
	}

	rows := make([]artifacts.BetRow, len(preds))
	active := 0
	for i, p := range preds {
		rows[i] = artifacts.BetRow{Event: p.Event, T0: p.T0, Prob: probs[i], Side: int64(sides[i]), Size: sizes[i]}
		if sizes[i] != 0 {
			active++
		}
	}
	if err := e.store.WriteBets(rows); err != nil {
		return outcome{}, err
	}
	return outcome{rows: len(rows), note: fmt.Sprintf("%d non-zero bets", active)}, nil
}

func (e *Executor) verify(ctx context.Context) (outcome, error) {
	report := e.Verify(ctx)
	report.Render(e.out)
	if n := report.Count(StatusFail); n > 0 {
		return outcome{rows: len(report.Checks)}, fmt.Errorf("%w: %d checks failed", ErrVerifyFailed, n)
	}
	return outcome{rows: len(report.Checks), note: report.Summary()}, nil
}
