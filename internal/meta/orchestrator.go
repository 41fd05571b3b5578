package meta

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/signalrun/internal/domain/cv"
	"github.com/sawpanic/signalrun/internal/domain/errs"
	"github.com/sawpanic/signalrun/internal/features"
)

// Stages reported to a FoldObserver.
const (
	StagePrimary   = "primary"
	StageSecondary = "secondary"
)

// ConfidenceColumn is the feature appended for the secondary stage.
const ConfidenceColumn = "PRIMARY_CONF"

// FoldObserver is notified when a fold cannot be fit.
type FoldObserver interface {
	FoldSkipped(stage string, fold int, err error)
}

// Config controls the orchestration.
type Config struct {
	CV             cv.Config      `yaml:"cv"`
	NormalizeScope features.Scope `yaml:"normalize_scope"`
	Logistic       LogisticConfig `yaml:"logistic"`
}

// Dataset is one sample per event, in event order. X holds filled but
// unstandardized features. T0 and T1, when set, enable label-horizon
// purging in the folds.
type Dataset struct {
	X      *features.Matrix
	Y      []int
	W      []float64
	T0, T1 []int
}

// Row is the per-event outcome.
type Row struct {
	Index int `json:"index"`
	Label int `json:"label"`
	// PrimaryOOS is false when the row's fold was skipped.
	PrimaryOOS   bool    `json:"primary_oos"`
	PrimaryPred  int     `json:"primary_pred"`
	PrimaryConf  float64 `json:"primary_conf"`
	MetaEligible bool    `json:"meta_eligible"`
	MetaLabel    int     `json:"meta_label"`
	MetaPred     int     `json:"meta_pred"`
	MetaProba    float64 `json:"meta_proba"`
	FinalPred    int     `json:"final_pred"`
	FinalProba   float64 `json:"final_proba"`
}

// Result gathers the rows, the models fit on all available data and any
// notes about skipped folds.
type Result struct {
	Rows      []Row
	Primary   *Model
	Secondary *Model
	Notes     []string
}

// Orchestrator runs both stages.
type Orchestrator struct {
	cfg       Config
	primary   Factory
	secondary Factory
	observer  FoldObserver
	logger    zerolog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClassifiers overrides the default logistic models.
func WithClassifiers(primary, secondary Factory) Option {
	return func(o *Orchestrator) {
		o.primary, o.secondary = primary, secondary
	}
}

// WithObserver registers a skipped-fold observer.
func WithObserver(obs FoldObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator.
func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		primary:   LogisticFactory(cfg.Logistic),
		secondary: LogisticFactory(cfg.Logistic),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (d Dataset) validate() error {
	if d.X == nil || d.X.Rows() == 0 {
		return errs.Shape("no samples")
	}
	n := d.X.Rows()
	if len(d.Y) != n {
		return errs.Shape("%d labels for %d rows", len(d.Y), n)
	}
	if d.W != nil && len(d.W) != n {
		return errs.Shape("%d weights for %d rows", len(d.W), n)
	}
	if (d.T0 == nil) != (d.T1 == nil) || (d.T0 != nil && (len(d.T0) != n || len(d.T1) != n)) {
		return errs.Shape("label horizons must cover all %d rows", n)
	}
	return nil
}

func pick[T any](src []T, rows []int) []T {
	if src == nil {
		return nil
	}
	out := make([]T, len(rows))
	for i, r := range rows {
		out[i] = src[r]
	}
	return out
}

func (o *Orchestrator) splits(n int, t0, t1 []int) (iter.Seq[cv.Split], error) {
	k, err := cv.New(o.cfg.CV)
	if err != nil {
		return nil, err
	}
	if t0 != nil {
		return k.SplitTimes(t0, t1)
	}
	return k.Split(n)
}

// oos holds out-of-sample predictions of one stage.
type oos struct {
	covered []bool
	pred    []int
	proba   [][]float64
	classes [][]int
	notes   []string
}

// crossPredict fits a fresh model per fold and predicts its test rows.
func (o *Orchestrator) crossPredict(ctx context.Context, stage string, factory Factory, x *features.Matrix, y []int, w []float64, t0, t1 []int) (*oos, error) {
	n := x.Rows()
	seq, err := o.splits(n, t0, t1)
	if err != nil {
		return nil, err
	}
	res := &oos{
		covered: make([]bool, n),
		pred:    make([]int, n),
		proba:   make([][]float64, n),
		classes: make([][]int, n),
	}
	var global *features.Scaler
	if o.cfg.NormalizeScope != features.ScopeFold {
		global = features.FitScaler(x, nil)
	}

	for split := range seq {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clf, pred, proba, err := fitPredict(factory, x, y, w, split.Train, split.Test, global)
		if err != nil {
			if errors.Is(err, errs.ErrSingleClass) || errors.Is(err, errs.ErrInputShape) {
				res.notes = append(res.notes, fmt.Sprintf("%s fold %d skipped: %v", stage, split.Fold, err))
				o.logger.Warn().Err(err).Str("stage", stage).Int("fold", split.Fold).Msg("Fold skipped")
				if o.observer != nil {
					o.observer.FoldSkipped(stage, split.Fold, err)
				}
				continue
			}
			return nil, fmt.Errorf("failed to fit %s fold %d: %w", stage, split.Fold, err)
		}
		for r, i := range split.Test {
			res.covered[i] = true
			res.pred[i] = pred[r]
			res.proba[i] = proba.RawRowView(r)
			res.classes[i] = clf.Classes()
		}
	}
	return res, nil
}

func fitPredict(factory Factory, x *features.Matrix, y []int, w []float64, train, test []int, global *features.Scaler) (Classifier, []int, *mat.Dense, error) {
	if len(train) == 0 {
		return nil, nil, nil, errs.Shape("empty training set")
	}
	sc := global
	if sc == nil {
		sc = features.FitScaler(x, train)
	}
	scaled, err := sc.Transform(x)
	if err != nil {
		return nil, nil, nil, err
	}
	clf := factory()
	if err := clf.Fit(scaled.Dense(train), pick(y, train), pick(w, train)); err != nil {
		return nil, nil, nil, err
	}
	xt := scaled.Dense(test)
	pred, err := clf.Predict(xt)
	if err != nil {
		return nil, nil, nil, err
	}
	proba, err := clf.PredictProba(xt)
	if err != nil {
		return nil, nil, nil, err
	}
	return clf, pred, proba, nil
}

// fitAll trains a model on every given row.
func (o *Orchestrator) fitAll(factory Factory, x *features.Matrix, y []int, w []float64, rows []int) (*Model, error) {
	var sc *features.Scaler
	if o.cfg.NormalizeScope == features.ScopeFold {
		sc = features.FitScaler(x, rows)
	} else {
		sc = features.FitScaler(x, nil)
	}
	scaled, err := sc.Transform(x)
	if err != nil {
		return nil, err
	}
	clf := factory()
	if err := clf.Fit(scaled.Dense(rows), pick(y, rows), pick(w, rows)); err != nil {
		return nil, err
	}
	return &Model{Classifier: clf, Scaler: sc}, nil
}

func confidence(classes []int, proba []float64, pred int) float64 {
	for k, c := range classes {
		if c == pred {
			return proba[k]
		}
	}
	return math.NaN()
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// Run executes the primary and secondary stages over ds.
func (o *Orchestrator) Run(ctx context.Context, ds Dataset) (*Result, error) {
	if err := ds.validate(); err != nil {
		return nil, err
	}
	n := ds.X.Rows()
	res := &Result{Rows: make([]Row, n)}

	primary, err := o.crossPredict(ctx, StagePrimary, o.primary, ds.X, ds.Y, ds.W, ds.T0, ds.T1)
	if err != nil {
		return nil, err
	}
	res.Notes = append(res.Notes, primary.notes...)

	var metaRows []int
	conf := make([]float64, n)
	for i := range res.Rows {
		row := Row{Index: i, Label: ds.Y[i], MetaProba: math.NaN(), FinalProba: math.NaN(), PrimaryConf: math.NaN()}
		if primary.covered[i] {
			row.PrimaryOOS = true
			row.PrimaryPred = primary.pred[i]
			row.PrimaryConf = confidence(primary.classes[i], primary.proba[i], row.PrimaryPred)
			if row.PrimaryPred != 0 {
				row.MetaEligible = true
				if sign(row.PrimaryPred) == sign(ds.Y[i]) {
					row.MetaLabel = 1
				}
				metaRows = append(metaRows, i)
			}
		}
		conf[i] = row.PrimaryConf
		res.Rows[i] = row
	}

	if clf, err := o.fitAll(o.primary, ds.X, ds.Y, ds.W, all(n)); err == nil {
		res.Primary = clf
	} else {
		res.Notes = append(res.Notes, fmt.Sprintf("final primary model not fit: %v", err))
	}

	if len(metaRows) == 0 {
		res.Notes = append(res.Notes, "no out-of-sample primary bets to meta-label")
		return res, nil
	}

	aug := features.NewMatrix(len(metaRows))
	for _, name := range ds.X.Names() {
		col, _ := ds.X.Col(name)
		if err := aug.Add(name, pick(col, metaRows)); err != nil {
			return nil, err
		}
	}
	if err := aug.Add(ConfidenceColumn, pick(conf, metaRows)); err != nil {
		return nil, err
	}
	metaY := make([]int, len(metaRows))
	for j, i := range metaRows {
		metaY[j] = res.Rows[i].MetaLabel
	}
	metaW := pick(ds.W, metaRows)

	secondary, err := o.crossPredict(ctx, StageSecondary, o.secondary, aug, metaY, metaW, pick(ds.T0, metaRows), pick(ds.T1, metaRows))
	switch {
	case errors.Is(err, errs.ErrInputShape):
		res.Notes = append(res.Notes, fmt.Sprintf("secondary stage skipped: %v", err))
	case err != nil:
		return nil, err
	default:
		res.Notes = append(res.Notes, secondary.notes...)
		for j, i := range metaRows {
			if !secondary.covered[j] {
				continue
			}
			row := &res.Rows[i]
			row.MetaPred = secondary.pred[j]
			row.MetaProba = confidence(secondary.classes[j], secondary.proba[j], 1)
			if math.IsNaN(row.MetaProba) {
				// Only the 0 class was seen, so taking the bet has no support.
				row.MetaProba = 0
			}
			row.FinalPred = row.PrimaryPred * row.MetaPred
			row.FinalProba = row.MetaProba
		}
	}

	if clf, err := o.fitAll(o.secondary, aug, metaY, metaW, all(len(metaRows))); err == nil {
		res.Secondary = clf
	} else {
		res.Notes = append(res.Notes, fmt.Sprintf("final secondary model not fit: %v", err))
	}

	o.logger.Info().
		Int("samples", n).
		Int("meta_samples", len(metaRows)).
		Int("notes", len(res.Notes)).
		Msg("Meta-labeling complete")
	return res, nil
}

func all(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
