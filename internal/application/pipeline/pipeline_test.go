package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalrun/internal/artifacts"
	"github.com/sawpanic/signalrun/internal/config"
	"github.com/sawpanic/signalrun/internal/domain/fracdiff"
	"github.com/sawpanic/signalrun/internal/domain/labeling"
	"github.com/sawpanic/signalrun/internal/domain/stats"
	"github.com/sawpanic/signalrun/internal/infrastructure/db"
	"github.com/sawpanic/signalrun/internal/persistence"
	"github.com/sawpanic/signalrun/internal/telemetry"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

const (
	testDays        = 15
	testTicksPerDay = 600
)

// writeTicks writes a seeded random-walk trade tape, one day at a time.
func writeTicks(t *testing.T) string {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))
	var buf bytes.Buffer
	buf.WriteString("timestamp,price,qty\n")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 24 * time.Hour / testTicksPerDay
	price := 100.0
	for i := 0; i < testDays*testTicksPerDay; i++ {
		price *= math.Exp(rng.NormFloat64() * 0.002)
		qty := 0.5 + rng.Float64()*1.5
		ts := start.Add(time.Duration(i) * step)
		fmt.Fprintf(&buf, "%d,%.4f,%.3f\n", ts.UnixMilli(), price, qty)
	}
	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func testConfig(t *testing.T, input string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Data.Input = input
	cfg.Data.ArtifactsDir = t.TempDir()
	cfg.Bars.DailyTarget = 40
	cfg.Bars.ChunkSize = 2000
	cfg.Features.Windows = []int{5, 10, 20}
	cfg.Features.RegimeWindows = []int{20}
	cfg.Stationarity.Step = 0.1
	cfg.Features.FFD.Search = cfg.Stationarity
	cfg.Meta.Logistic.MaxIter = 200
	cfg.CV.NSplits = 4
	cfg.Sweep.Targets = []int{5, 20, 80}
	require.NoError(t, cfg.Validate())
	return &cfg
}

func newExecutor(t *testing.T, cfg *config.Config, opts ...Option) *Executor {
	t.Helper()
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	return e
}

func TestRunAllSteps(t *testing.T) {
	cfg := testConfig(t, writeTicks(t))
	reg := telemetry.NewRegistry()
	var out bytes.Buffer
	var hooked []string
	e := newExecutor(t, cfg,
		WithMetrics(reg),
		WithOutput(&out),
		WithRunID("run-all"),
		WithStepHook(func(runID, step string) {
			assert.Equal(t, "run-all", runID)
			hooked = append(hooked, step)
		}),
	)

	res, err := e.Run(context.Background())
	require.NoError(t, err, out.String())
	assert.Equal(t, "run-all", res.RunID)
	assert.Equal(t, Steps, hooked)
	require.Len(t, res.Steps, len(Steps))
	for i, s := range res.Steps {
		assert.Equal(t, Steps[i], s.Name)
		assert.Equal(t, telemetry.ResultSuccess, s.Status, "%s: %s", s.Name, s.Note)
	}
	assert.Equal(t, testDays*testTicksPerDay, res.Steps[0].Rows)

	for _, name := range []string{
		artifacts.Thresholds, artifacts.DollarBars, artifacts.Events, artifacts.Labeled,
		artifacts.Features, artifacts.Stationarity, artifacts.SampleWeights, artifacts.CVFolds,
		artifacts.Predictions, artifacts.BetSizes,
	} {
		assert.True(t, e.Store().Exists(name), name)
	}

	bs, err := e.Store().ReadBars()
	require.NoError(t, err)
	assert.Equal(t, len(bs), res.Steps[1].Rows)
	// The fixed threshold targets 40 bars a day over 15 days.
	assert.InDelta(t, 40*testDays, len(bs), 40*testDays*0.25)

	assert.Equal(t, float64(testDays*testTicksPerDay), testutil.ToFloat64(reg.TicksProcessed))
	assert.Equal(t, float64(len(bs)), testutil.ToFloat64(reg.BarsEmitted.WithLabelValues("fixed")))
	assert.Equal(t, len(Steps), testutil.CollectAndCount(reg.StepDuration))

	labels, err := e.Store().ReadLabels()
	require.NoError(t, err)
	bets, err := e.Store().ReadBets()
	require.NoError(t, err)
	require.Len(t, bets, len(labels))
	for i, b := range bets {
		assert.Equal(t, int64(labels[i].T0), b.T0)
		assert.LessOrEqual(t, math.Abs(b.Size), 1.0)
	}

	assert.Contains(t, out.String(), "Overall verification: PASS")
	assert.Contains(t, out.String(), ", 0 FAIL, 0 WARN")
}

func TestRunSkipsExistingArtifacts(t *testing.T) {
	cfg := testConfig(t, writeTicks(t))
	e := newExecutor(t, cfg)
	ctx := context.Background()

	_, err := e.Run(ctx, StepLoad, StepBars)
	require.NoError(t, err)

	res, err := e.Run(ctx, StepBars, StepLoad)
	require.NoError(t, err)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, StepLoad, res.Steps[0].Name, "steps run in pipeline order")
	for _, s := range res.Steps {
		assert.Equal(t, telemetry.ResultSkipped, s.Status)
	}

	forced := newExecutor(t, cfg, WithForce(true))
	res, err = forced.Run(ctx, StepBars)
	require.NoError(t, err)
	assert.Equal(t, telemetry.ResultSuccess, res.Steps[0].Status)
}

func TestRunMissingUpstream(t *testing.T) {
	cfg := testConfig(t, writeTicks(t))
	e := newExecutor(t, cfg)

	res, err := e.Run(context.Background(), StepLabels)
	require.Error(t, err)
	assert.ErrorIs(t, err, artifacts.ErrMissing)
	assert.Contains(t, err.Error(), "run the bars step first")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, telemetry.ResultError, res.Steps[0].Status)
}

func TestRunRejectsUnknownStep(t *testing.T) {
	e := newExecutor(t, testConfig(t, writeTicks(t)))
	_, err := e.Run(context.Background(), "scan")
	assert.ErrorContains(t, err, `unknown step "scan"`)
}

func TestRunWithoutInput(t *testing.T) {
	cfg := testConfig(t, "")
	e := newExecutor(t, cfg)
	_, err := e.Run(context.Background(), StepLoad)
	assert.ErrorContains(t, err, "no input file configured")
}

func TestVerifyWarnsOnMissingArtifacts(t *testing.T) {
	e := newExecutor(t, testConfig(t, writeTicks(t)))
	report := e.Verify(context.Background())
	assert.Zero(t, report.Count(StatusFail))
	assert.Equal(t, StatusWarn, report.Overall())
	assert.Equal(t, 10, report.Count(StatusWarn))

	res, err := e.Run(context.Background(), StepVerify)
	require.NoError(t, err)
	assert.Equal(t, telemetry.ResultSuccess, res.Steps[0].Status)
}

func TestVerifyDetectsBrokenArtifacts(t *testing.T) {
	cfg := testConfig(t, writeTicks(t))
	var out bytes.Buffer
	e := newExecutor(t, cfg, WithOutput(&out))
	ctx := context.Background()
	_, err := e.Run(ctx, StepLoad, StepBars, StepLabels)
	require.NoError(t, err)

	bs, err := e.Store().ReadBars()
	require.NoError(t, err)
	bs[3].High = bs[3].Low - 1
	require.NoError(t, e.Store().WriteBars(bs))
	require.NoError(t, e.Store().WriteBets([]artifacts.BetRow{{Event: 0, Side: 1, Prob: 0.9, Size: 1.5}}))

	_, err = e.Run(ctx, StepVerify)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerifyFailed)
	assert.Contains(t, out.String(), "FAIL Bars | OHLC bounds")
	assert.Contains(t, out.String(), "FAIL Bets | bounds")
}

func statusOf(r *VerifyReport, component, name string) string {
	for _, c := range r.Checks {
		if c.Component == component && c.Name == name {
			return c.Status
		}
	}
	return ""
}

func TestCheckStationarity(t *testing.T) {
	cfg := fracdiff.SearchConfig{Step: 0.1, Alpha: 0.05}
	rows := []artifacts.StationarityRow{
		{Series: "log_close", D: 0, PValue: 0.6},
		{Series: "log_close", D: 0.1, PValue: 0.2},
		{Series: "log_close", D: 0.2, PValue: 0.01, Selected: true},
		{Series: "log_volume", D: 0, PValue: 0.3},
		{Series: "log_volume", D: 0.1, PValue: 0.02},
		{Series: "log_volume", D: 0.2, PValue: 0.01, Selected: true},
		{Series: "flat", D: 0, PValue: 0.5},
		{Series: "flat", D: 0.1, PValue: 0.4, Selected: true},
		{Series: "coarse", D: 0, PValue: 0.5},
		{Series: "coarse", D: 0.25, PValue: 0.01, Selected: true},
		{Series: "none", D: 0, PValue: 0.5},
	}

	r := &VerifyReport{}
	checkStationarity(r, rows, cfg)
	assert.Equal(t, StatusPass, statusOf(r, "Stationarity", "log_close"))
	assert.Equal(t, StatusFail, statusOf(r, "Stationarity", "log_volume"))
	assert.Equal(t, StatusPass, statusOf(r, "Stationarity", "flat"))
	assert.Equal(t, StatusWarn, statusOf(r, "Stationarity", "coarse"))
	assert.Equal(t, StatusFail, statusOf(r, "Stationarity", "none"))
}

func TestCheckEvents(t *testing.T) {
	labels := []labeling.Label{{T0: 2, T1: 4}, {T0: 5, T1: 7}}

	r := &VerifyReport{}
	checkEvents(r, []int{2, 3, 5}, labels, 10, true, true)
	assert.Zero(t, r.Count(StatusFail))
	assert.Equal(t, 2, r.Count(StatusPass))

	r = &VerifyReport{}
	checkEvents(r, []int{3, 2, 12}, labels, 10, true, true)
	assert.Equal(t, StatusFail, statusOf(r, "Events", "order and bounds"))
	assert.Equal(t, StatusFail, statusOf(r, "Events", "labels sampled"))
}

func TestRankCandidates(t *testing.T) {
	cs := []SweepCandidate{
		{Target: 100, JB: stats.JBResult{Stat: math.NaN()}},
		{Target: 50, JB: stats.JBResult{Stat: 3}},
		{Target: 20, JB: stats.JBResult{Stat: 1.5}},
		{Target: 10, JB: stats.JBResult{Stat: 3}},
	}
	rankCandidates(cs)

	var order []int
	for _, c := range cs {
		order = append(order, c.Target)
	}
	assert.Equal(t, []int{20, 10, 50, 100}, order)
	assert.True(t, cs[0].Winner)
	for _, c := range cs[1:] {
		assert.False(t, c.Winner)
	}

	none := []SweepCandidate{{Target: 5, JB: stats.JBResult{Stat: math.NaN()}}}
	rankCandidates(none)
	assert.False(t, none[0].Winner)
}

func TestSweepWithLedger(t *testing.T) {
	cfg := testConfig(t, writeTicks(t))
	cfg.Ledger.Enabled = true
	cfg.Ledger.DSN = filepath.Join(t.TempDir(), "ledger.db")

	ctx := context.Background()
	manager, err := db.NewManager(ctx, cfg.Ledger)
	require.NoError(t, err)
	defer manager.Close()
	repo := manager.Repository()

	var out bytes.Buffer
	e := newExecutor(t, cfg,
		WithOutput(&out),
		WithLedger(persistence.NewLedger(repo, zerolog.Nop())),
	)
	res, err := e.Sweep(ctx, nil)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 3)

	bars := map[int]int{}
	for _, c := range res.Candidates {
		bars[c.Target] = c.Bars
	}
	assert.Less(t, bars[5], bars[20])
	assert.Less(t, bars[20], bars[80])

	winner, ok := res.Winner()
	require.True(t, ok)
	assert.Equal(t, res.Candidates[0], winner)
	for _, c := range res.Candidates[1:] {
		assert.GreaterOrEqual(t, c.JB.Stat, winner.JB.Stat)
	}
	assert.Contains(t, out.String(), "RANK")
	assert.Equal(t, 1, strings.Count(out.String(), "*"))

	records, err := repo.Sweeps.ListByRun(ctx, e.RunID())
	require.NoError(t, err)
	require.Len(t, records, 3)
	winners := 0
	for _, r := range records {
		if r.Winner {
			winners++
			assert.Equal(t, winner.Target, r.DailyTarget)
		}
	}
	assert.Equal(t, 1, winners)

	run, err := repo.Runs.Get(ctx, e.RunID())
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, persistence.StatusSucceeded, run.Status)
	assert.Equal(t, StepSweep, run.Command)
}

func TestRunRecordsLedger(t *testing.T) {
	cfg := testConfig(t, writeTicks(t))
	cfg.Ledger.Enabled = true
	cfg.Ledger.DSN = filepath.Join(t.TempDir(), "ledger.db")

	ctx := context.Background()
	manager, err := db.NewManager(ctx, cfg.Ledger)
	require.NoError(t, err)
	defer manager.Close()
	repo := manager.Repository()

	e := newExecutor(t, cfg, WithLedger(persistence.NewLedger(repo, zerolog.Nop())))
	_, err = e.Run(ctx, StepLoad, StepBars, StepLabels, StepFeatures)
	require.NoError(t, err)

	steps, err := repo.Steps.ListByRun(ctx, e.RunID())
	require.NoError(t, err)
	require.Len(t, steps, 4)
	for _, s := range steps {
		assert.Equal(t, telemetry.ResultSuccess, s.Status)
		assert.Positive(t, s.Rows)
	}

	history, err := repo.Stationarity.ListBySeries(ctx, "log_close", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, e.RunID(), history[0].RunID)
	assert.Positive(t, history[0].Points)

	run, err := repo.Runs.Get(ctx, e.RunID())
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, persistence.StatusSucceeded, run.Status)
	assert.NotContains(t, run.Config, "ledger.db")
}

func TestVerifyFlagsModifiedArtifacts(t *testing.T) {
	cfg := testConfig(t, writeTicks(t))
	var out bytes.Buffer
	e := newExecutor(t, cfg, WithOutput(&out))
	ctx := context.Background()
	_, err := e.Run(ctx, StepLoad, StepBars, StepLabels)
	require.NoError(t, err)

	m, err := e.Store().LoadManifest()
	require.NoError(t, err)
	assert.Equal(t, []string{artifacts.DollarBars, artifacts.Events, artifacts.Labeled, artifacts.Thresholds}, m.Names())
	assert.Equal(t, StepLabels, m.Entries[artifacts.Events].Step)

	report := e.Verify(ctx)
	assert.Zero(t, report.Count(StatusFail))

	bs, err := e.Store().ReadBars()
	require.NoError(t, err)
	labels, err := e.Store().ReadLabels()
	require.NoError(t, err)
	require.NoError(t, e.Store().WriteLabels(labels[:len(labels)-1], bs))

	report = e.Verify(ctx)
	var manifest *Check
	for i := range report.Checks {
		if report.Checks[i].Component == "Manifest" {
			manifest = &report.Checks[i]
		}
	}
	require.NotNil(t, manifest)
	assert.Equal(t, StatusWarn, manifest.Status)
	assert.Contains(t, manifest.Details, "labeled.parquet (written by labels)")
}
