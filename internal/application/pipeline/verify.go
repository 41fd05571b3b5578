package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/sawpanic/signalrun/internal/artifacts"
	"github.com/sawpanic/signalrun/internal/domain/bars"
	"github.com/sawpanic/signalrun/internal/domain/cv"
	"github.com/sawpanic/signalrun/internal/domain/fracdiff"
	"github.com/sawpanic/signalrun/internal/domain/labeling"
)

// Check statuses.
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusWarn = "WARN"
)

// ErrVerifyFailed is returned by the verify step when any check fails.
var ErrVerifyFailed = errors.New("verification failed")

// Check is a single verification outcome.
type Check struct {
	Component string `json:"component"`
	Name      string `json:"check"`
	Status    string `json:"status"`
	Details   string `json:"details"`
}

// VerifyReport gathers the checks of one verification sweep.
type VerifyReport struct {
	Checks    []Check   `json:"checks"`
	Timestamp time.Time `json:"timestamp"`
}

func (r *VerifyReport) add(component, check, status, details string) {
	r.Checks = append(r.Checks, Check{Component: component, Name: check, Status: status, Details: details})
}

// expect records PASS when ok holds and FAIL with the failure detail
// otherwise.
func (r *VerifyReport) expect(component, check string, ok bool, pass, fail string) {
	if ok {
		r.add(component, check, StatusPass, pass)
		return
	}
	r.add(component, check, StatusFail, fail)
}

// Count returns how many checks ended with status.
func (r *VerifyReport) Count(status string) int {
	n := 0
	for _, c := range r.Checks {
		if c.Status == status {
			n++
		}
	}
	return n
}

// Summary is the one-line tally.
func (r *VerifyReport) Summary() string {
	return fmt.Sprintf("%d PASS, %d FAIL, %d WARN", r.Count(StatusPass), r.Count(StatusFail), r.Count(StatusWarn))
}

// Overall is FAIL if any check failed, WARN if any warned, PASS otherwise.
func (r *VerifyReport) Overall() string {
	switch {
	case r.Count(StatusFail) > 0:
		return StatusFail
	case r.Count(StatusWarn) > 0:
		return StatusWarn
	}
	return StatusPass
}

var statusColors = map[string]*color.Color{
	StatusPass: color.New(color.FgGreen, color.Bold),
	StatusFail: color.New(color.FgRed, color.Bold),
	StatusWarn: color.New(color.FgYellow, color.Bold),
}

// Render prints one line per check followed by the tally.
func (r *VerifyReport) Render(w io.Writer) {
	fmt.Fprintln(w, "Verification Results:")
	fmt.Fprintln(w, "---------------------")
	for _, c := range r.Checks {
		fmt.Fprintf(w, "%s %s | %s: %s\n", statusColors[c.Status].Sprint(c.Status), c.Component, c.Name, c.Details)
	}
	fmt.Fprintf(w, "\nChecks: %s\n", r.Summary())
	fmt.Fprintf(w, "Timestamp: %s\n", r.Timestamp.Format(time.RFC3339))
	overall := r.Overall()
	fmt.Fprintf(w, "Overall verification: %s\n", statusColors[overall].Sprint(overall))
}

func readArtifact[T any](r *VerifyReport, component string, read func() (T, error)) (T, bool) {
	v, err := read()
	switch {
	case errors.Is(err, artifacts.ErrMissing):
		r.add(component, "artifact", StatusWarn, "not produced yet")
	case err != nil:
		r.add(component, "artifact", StatusFail, err.Error())
	default:
		return v, true
	}
	var zero T
	return zero, false
}

// Verify re-checks the artifact invariants. It never fails itself; every
// problem becomes a FAIL or WARN line.
func (e *Executor) Verify(ctx context.Context) *VerifyReport {
	r := &VerifyReport{Timestamp: time.Now().UTC()}

	if th, ok := readArtifact(r, "Threshold", e.store.ReadThreshold); ok {
		r.expect("Threshold", "positive", th.Global > 0 && !math.IsNaN(th.Global),
			fmt.Sprintf("%s mode, global %.4g", th.Mode, th.Global),
			fmt.Sprintf("global threshold %v", th.Global))
	}

	bs, haveBars := readArtifact(r, "Bars", e.store.ReadBars)
	if haveBars {
		checkBars(r, bs)
	}

	labels, haveLabels := readArtifact(r, "Labels", e.store.ReadLabels)
	if haveLabels {
		checkLabels(r, labels, len(bs), haveBars, e.cfg.Labels.Barrier.Horizon)
	}
	t0, t1 := horizons(labels)

	if events, ok := readArtifact(r, "Events", e.store.ReadEvents); ok {
		checkEvents(r, events, labels, len(bs), haveBars, haveLabels)
	}

	if ffd := e.cfg.Features.FFD; ffd.Enabled && ffd.CheckStationarity {
		if rows, ok := readArtifact(r, "Stationarity", e.store.ReadStationarity); ok {
			checkStationarity(r, rows, ffd.Search)
		}
	}

	if m, ok := readArtifact(r, "Features", e.store.ReadFeatures); ok && haveBars {
		r.expect("Features", "rows", m.Rows() == len(bs),
			fmt.Sprintf("%d rows x %d columns", m.Rows(), m.Cols()),
			fmt.Sprintf("%d feature rows for %d bars", m.Rows(), len(bs)))
	}

	if recs, ok := readArtifact(r, "Weights", e.store.ReadWeights); ok {
		bad := 0
		for _, rec := range recs {
			if !(rec.Uniqueness > 0 && rec.Uniqueness <= 1) || !(rec.Weight >= 0) || math.IsInf(rec.Weight, 0) {
				bad++
			}
		}
		r.expect("Weights", "ranges", bad == 0,
			fmt.Sprintf("%d records, uniqueness in (0, 1], weights finite and non-negative", len(recs)),
			fmt.Sprintf("%d of %d records out of range", bad, len(recs)))
		if haveLabels {
			r.expect("Weights", "alignment", len(recs) == len(labels),
				"one record per label",
				fmt.Sprintf("%d records for %d labels", len(recs), len(labels)))
		}
	}

	if splits, ok := readArtifact(r, "CV", e.store.ReadFolds); ok && haveLabels {
		err := cv.Check(len(labels), splits, t0, t1)
		r.expect("CV", "disjoint, covering, purged", err == nil,
			fmt.Sprintf("%d folds over %d samples", len(splits), len(labels)),
			fmt.Sprint(err))
	}

	if preds, ok := readArtifact(r, "Predictions", e.store.ReadPredictions); ok {
		bad := 0
		for _, p := range preds {
			if p.MetaEligible && (!p.PrimaryOOS || p.PrimaryPred == 0) {
				bad++
			} else if !math.IsNaN(p.FinalProba) && (p.FinalProba < 0 || p.FinalProba > 1) {
				bad++
			}
		}
		r.expect("Predictions", "consistency", bad == 0,
			fmt.Sprintf("%d rows", len(preds)),
			fmt.Sprintf("%d inconsistent rows", bad))
		if haveLabels {
			r.expect("Predictions", "alignment", len(preds) == len(labels),
				"one row per label",
				fmt.Sprintf("%d rows for %d labels", len(preds), len(labels)))
		}
	}

	if bets, ok := readArtifact(r, "Bets", e.store.ReadBets); ok {
		bad := 0
		for _, b := range bets {
			if math.Abs(b.Size) > 1 || (b.Side == 0 && b.Size != 0) || math.IsNaN(b.Size) {
				bad++
			}
		}
		r.expect("Bets", "bounds", bad == 0,
			fmt.Sprintf("%d bets within [-1, 1]", len(bets)),
			fmt.Sprintf("%d of %d bets out of bounds", bad, len(bets)))
	}

	e.checkManifest(r)

	e.logger.Info().Str("summary", r.Summary()).Msg("Verification complete")
	return r
}

func checkBars(r *VerifyReport, bs []bars.Bar) {
	invalid, ties, inversions := 0, 0, 0
	for i, b := range bs {
		if !b.Valid() || b.Ticks <= 0 {
			invalid++
		}
		if i == 0 {
			continue
		}
		switch {
		case b.Time.Before(bs[i-1].Time):
			inversions++
		case b.Time.Equal(bs[i-1].Time):
			ties++
		}
	}
	r.expect("Bars", "OHLC bounds", len(bs) > 0 && invalid == 0,
		fmt.Sprintf("%d bars", len(bs)),
		fmt.Sprintf("%d of %d bars violate low <= open, close <= high", invalid, len(bs)))
	switch {
	case inversions > 0:
		r.add("Bars", "ordering", StatusFail, fmt.Sprintf("%d timestamp inversions", inversions))
	case ties > 0:
		r.add("Bars", "ordering", StatusWarn, fmt.Sprintf("%d bars share a close timestamp", ties))
	default:
		r.add("Bars", "ordering", StatusPass, "strictly increasing")
	}
}

func checkLabels(r *VerifyReport, labels []labeling.Label, nBars int, haveBars bool, horizon int) {
	order, span, values := 0, 0, 0
	for i, l := range labels {
		if i > 0 && l.T0 <= labels[i-1].T0 {
			order++
		}
		if l.T1 <= l.T0 || (horizon > 0 && l.T1 > l.T0+horizon) || (haveBars && l.T1 >= nBars) {
			span++
		}
		if l.Label < -1 || l.Label > 1 {
			values++
		}
	}
	r.expect("Labels", "event order", order == 0,
		fmt.Sprintf("%d events strictly increasing", len(labels)),
		fmt.Sprintf("%d events out of order", order))
	r.expect("Labels", "t0 < t1 <= t0+H", span == 0,
		fmt.Sprintf("horizon %d", horizon),
		fmt.Sprintf("%d labels outside their horizon", span))
	r.expect("Labels", "values", values == 0,
		"labels in {-1, 0, 1}",
		fmt.Sprintf("%d labels outside {-1, 0, 1}", values))
}

func checkEvents(r *VerifyReport, events []int, labels []labeling.Label, nBars int, haveBars, haveLabels bool) {
	order, bounds := 0, 0
	seen := make(map[int]bool, len(events))
	for i, ev := range events {
		if i > 0 && ev <= events[i-1] {
			order++
		}
		if ev < 0 || (haveBars && ev >= nBars) {
			bounds++
		}
		seen[ev] = true
	}
	r.expect("Events", "order and bounds", order == 0 && bounds == 0,
		fmt.Sprintf("%d events strictly increasing", len(events)),
		fmt.Sprintf("%d events out of order, %d outside the bars", order, bounds))
	if !haveLabels {
		return
	}
	orphans := 0
	for _, l := range labels {
		if !seen[l.T0] {
			orphans++
		}
	}
	r.expect("Events", "labels sampled", orphans == 0,
		fmt.Sprintf("%d of %d events labeled", len(labels), len(events)),
		fmt.Sprintf("%d labels start on a bar that is not an event", orphans))
}

// searches regroups stored grid points into one result per series.
func searches(rows []artifacts.StationarityRow) (map[string]fracdiff.SearchResult, map[string]int) {
	out := map[string]fracdiff.SearchResult{}
	selected := map[string]int{}
	for _, row := range rows {
		res := out[row.Series]
		res.History = append(res.History, fracdiff.Point{
			D: row.D, PValue: row.PValue, Stat: row.Stat,
			NObs: int(row.NObs), Width: int(row.Width), Note: row.Note,
		})
		if row.Selected {
			res.D, res.PValue = row.D, row.PValue
			selected[row.Series]++
		}
		out[row.Series] = res
	}
	return out, selected
}

// checkStationarity confirms each stored order is the smallest grid point
// that rejects a unit root, or the grid end when none does.
func checkStationarity(r *VerifyReport, rows []artifacts.StationarityRow, cfg fracdiff.SearchConfig) {
	if cfg.Step <= 0 {
		cfg.Step = fracdiff.DefaultSearchConfig().Step
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = fracdiff.DefaultSearchConfig().Alpha
	}
	results, selected := searches(rows)
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		res := results[name]
		if selected[name] != 1 {
			r.add("Stationarity", name, StatusFail, fmt.Sprintf("%d selected orders", selected[name]))
			continue
		}
		if !(res.PValue < cfg.Alpha) {
			rejected := 0
			for _, p := range res.History {
				if p.PValue < cfg.Alpha {
					rejected++
				}
			}
			r.expect("Stationarity", name, rejected == 0,
				fmt.Sprintf("no order up to d=%.2f rejects a unit root (p=%.3f)", res.D, res.PValue),
				fmt.Sprintf("d=%.2f kept although %d grid points reject a unit root", res.D, rejected))
			continue
		}
		if res.D <= 0 {
			r.add("Stationarity", name, StatusPass, fmt.Sprintf("stationary without differencing (p=%.3f)", res.PValue))
			continue
		}
		prev, ok := res.PValueAt(res.D - cfg.Step)
		if !ok {
			r.add("Stationarity", name, StatusWarn, fmt.Sprintf("grid step %.3g does not match the stored search", cfg.Step))
			continue
		}
		r.expect("Stationarity", name, !(prev < cfg.Alpha),
			fmt.Sprintf("d=%.2f is minimal (p=%.3f, previous p=%.3f)", res.D, res.PValue, prev),
			fmt.Sprintf("d=%.2f is not minimal: d=%.2f already has p=%.3f", res.D, res.D-cfg.Step, prev))
	}
}

// checkManifest warns about artifacts that changed after the step that
// wrote them recorded their checksum.
func (e *Executor) checkManifest(r *VerifyReport) {
	m, err := e.store.LoadManifest()
	if err != nil {
		r.add("Manifest", "readable", StatusFail, err.Error())
		return
	}
	if len(m.Entries) == 0 {
		return
	}
	var changed []string
	for _, name := range m.Names() {
		entry := m.Entries[name]
		sum, _, err := e.store.Checksum(name)
		if err != nil || sum != entry.SHA256 {
			changed = append(changed, fmt.Sprintf("%s (written by %s)", name, entry.Step))
		}
	}
	if len(changed) > 0 {
		r.add("Manifest", "checksums", StatusWarn, "changed since recorded: "+strings.Join(changed, ", "))
		return
	}
	r.add("Manifest", "checksums", StatusPass, fmt.Sprintf("%d artifacts match their recorded checksums", len(m.Entries)))
}
