package artifacts

import (
	"math"
	"slices"
	"time"

	"github.com/sawpanic/signalrun/internal/domain/bars"
	"github.com/sawpanic/signalrun/internal/domain/cv"
	"github.com/sawpanic/signalrun/internal/domain/errs"
	"github.com/sawpanic/signalrun/internal/domain/fracdiff"
	"github.com/sawpanic/signalrun/internal/domain/labeling"
	"github.com/sawpanic/signalrun/internal/domain/weights"
	"github.com/sawpanic/signalrun/internal/features"
	"github.com/sawpanic/signalrun/internal/meta"
)

// BarRow is one line of dollar_bars.parquet.
type BarRow struct {
	Datetime  time.Time `parquet:"datetime"`
	Open      float64   `parquet:"open"`
	High      float64   `parquet:"high"`
	Low       float64   `parquet:"low"`
	Close     float64   `parquet:"close"`
	Volume    float64   `parquet:"volume"`
	Amount    float64   `parquet:"amount"`
	Ticks     int64     `parquet:"ticks"`
	Threshold float64   `parquet:"threshold"`
}

// WriteBars stores the bar sequence.
func (s *Store) WriteBars(bs []bars.Bar) error {
	rows := make([]BarRow, len(bs))
	for i, b := range bs {
		rows[i] = BarRow{
			Datetime:  b.Time.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			Amount:    b.Amount,
			Ticks:     int64(b.Ticks),
			Threshold: b.Threshold,
		}
	}
	return write(s, DollarBars, rows)
}

// ReadBars loads the bar sequence.
func (s *Store) ReadBars() ([]bars.Bar, error) {
	rows, err := read[BarRow](s, DollarBars)
	if err != nil {
		return nil, err
	}
	out := make([]bars.Bar, len(rows))
	for i, r := range rows {
		out[i] = bars.Bar{
			Time:      r.Datetime.UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			Amount:    r.Amount,
			Ticks:     int(r.Ticks),
			Threshold: r.Threshold,
		}
	}
	return out, nil
}

// EventRow is one CUSUM trigger.
type EventRow struct {
	Bar      int64     `parquet:"bar"`
	Datetime time.Time `parquet:"datetime"`
	Sigma    float64   `parquet:"sigma"`
}

// WriteEvents stores event bar indices with their time and volatility.
func (s *Store) WriteEvents(events []int, bs []bars.Bar, sigma []float64) error {
	rows := make([]EventRow, len(events))
	for i, e := range events {
		if e < 0 || e >= len(bs) || e >= len(sigma) {
			return errs.Shape("event %d outside %d bars", e, len(bs))
		}
		rows[i] = EventRow{Bar: int64(e), Datetime: bs[e].Time.UTC(), Sigma: sigma[e]}
	}
	return write(s, Events, rows)
}

// ReadEvents loads event bar indices.
func (s *Store) ReadEvents() ([]int, error) {
	rows, err := read[EventRow](s, Events)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = int(r.Bar)
	}
	return out, nil
}

// LabelRow is one line of labeled.parquet.
type LabelRow struct {
	T0    int64     `parquet:"t0"`
	T1    int64     `parquet:"t1"`
	Time0 time.Time `parquet:"t0_time"`
	Time1 time.Time `parquet:"t1_time"`
	Ret   float64   `parquet:"ret"`
	Label int64     `parquet:"label"`
	Trgt  float64   `parquet:"trgt"`
	Side  int64     `parquet:"side"`
	Touch string    `parquet:"touch"`
}

// WriteLabels stores triple-barrier labels; bs resolves bar times.
func (s *Store) WriteLabels(labels []labeling.Label, bs []bars.Bar) error {
	rows := make([]LabelRow, len(labels))
	for i, l := range labels {
		if l.T0 < 0 || l.T1 >= len(bs) {
			return errs.Shape("label %d spans bars [%d, %d] outside %d bars", i, l.T0, l.T1, len(bs))
		}
		rows[i] = LabelRow{
			T0:    int64(l.T0),
			T1:    int64(l.T1),
			Time0: bs[l.T0].Time.UTC(),
			Time1: bs[l.T1].Time.UTC(),
			Ret:   l.Return,
			Label: int64(l.Label),
			Trgt:  l.Target,
			Side:  int64(l.Side),
			Touch: string(l.Touch),
		}
	}
	return write(s, Labeled, rows)
}

// ReadLabels loads triple-barrier labels.
func (s *Store) ReadLabels() ([]labeling.Label, error) {
	rows, err := read[LabelRow](s, Labeled)
	if err != nil {
		return nil, err
	}
	out := make([]labeling.Label, len(rows))
	for i, r := range rows {
		out[i] = labeling.Label{
			T0:     int(r.T0),
			T1:     int(r.T1),
			Return: r.Ret,
			Label:  int(r.Label),
			Target: r.Trgt,
			Side:   int(r.Side),
			Touch:  labeling.Touch(r.Touch),
		}
	}
	return out, nil
}

// FeatureRow is one cell of the long-format feature matrix.
type FeatureRow struct {
	Row   int64   `parquet:"row"`
	Name  string  `parquet:"name,dict"`
	Value float64 `parquet:"value"`
}

// WriteFeatures stores m column by column. Missing values are kept as NaN.
func (s *Store) WriteFeatures(m *features.Matrix) error {
	rows := make([]FeatureRow, 0, m.Rows()*m.Cols())
	for j, name := range m.Names() {
		for i := 0; i < m.Rows(); i++ {
			rows = append(rows, FeatureRow{Row: int64(i), Name: name, Value: m.At(i, j)})
		}
	}
	return write(s, Features, rows)
}

// ReadFeatures rebuilds the matrix, keeping the stored column order.
func (s *Store) ReadFeatures() (*features.Matrix, error) {
	rows, err := read[FeatureRow](s, Features)
	if err != nil {
		return nil, err
	}
	var (
		names []string
		cols  = map[string][]float64{}
		n     int64
	)
	for _, r := range rows {
		if _, ok := cols[r.Name]; !ok {
			names = append(names, r.Name)
			cols[r.Name] = nil
		}
		n = max(n, r.Row+1)
	}
	for _, name := range names {
		col := make([]float64, n)
		for i := range col {
			col[i] = math.NaN()
		}
		cols[name] = col
	}
	for _, r := range rows {
		if r.Row < 0 {
			return nil, errs.Shape("negative feature row %d", r.Row)
		}
		cols[r.Name][r.Row] = r.Value
	}
	m := features.NewMatrix(int(n))
	for _, name := range names {
		if err := m.Add(name, cols[name]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WeightRow is one line of sample_weights.parquet.
type WeightRow struct {
	T0         int64   `parquet:"t0"`
	T1         int64   `parquet:"t1"`
	Uniqueness float64 `parquet:"uniqueness"`
	Weight     float64 `parquet:"weight"`
}

// WriteWeights stores per-event uniqueness and weights.
func (s *Store) WriteWeights(recs []weights.Record) error {
	rows := make([]WeightRow, len(recs))
	for i, r := range recs {
		rows[i] = WeightRow{T0: int64(r.T0), T1: int64(r.T1), Uniqueness: r.Uniqueness, Weight: r.Weight}
	}
	return write(s, SampleWeights, rows)
}

// ReadWeights loads per-event uniqueness and weights.
func (s *Store) ReadWeights() ([]weights.Record, error) {
	rows, err := read[WeightRow](s, SampleWeights)
	if err != nil {
		return nil, err
	}
	out := make([]weights.Record, len(rows))
	for i, r := range rows {
		out[i] = weights.Record{T0: int(r.T0), T1: int(r.T1), Uniqueness: r.Uniqueness, Weight: r.Weight}
	}
	return out, nil
}

// Fold membership values.
const (
	SetTrain = "train"
	SetTest  = "test"
)

// FoldRow records one sample's membership in one fold.
type FoldRow struct {
	Fold   int64  `parquet:"fold"`
	Sample int64  `parquet:"sample"`
	Set    string `parquet:"set,dict"`
}

// WriteFolds stores every split in emission order.
func (s *Store) WriteFolds(splits []cv.Split) error {
	var rows []FoldRow
	for _, sp := range splits {
		for _, i := range sp.Train {
			rows = append(rows, FoldRow{Fold: int64(sp.Fold), Sample: int64(i), Set: SetTrain})
		}
		for _, i := range sp.Test {
			rows = append(rows, FoldRow{Fold: int64(sp.Fold), Sample: int64(i), Set: SetTest})
		}
	}
	return write(s, CVFolds, rows)
}

// ReadFolds rebuilds the splits, preserving emission order.
func (s *Store) ReadFolds() ([]cv.Split, error) {
	rows, err := read[FoldRow](s, CVFolds)
	if err != nil {
		return nil, err
	}
	var out []cv.Split
	pos := map[int64]int{}
	for _, r := range rows {
		k, ok := pos[r.Fold]
		if !ok {
			k = len(out)
			pos[r.Fold] = k
			out = append(out, cv.Split{Fold: int(r.Fold)})
		}
		switch r.Set {
		case SetTrain:
			out[k].Train = append(out[k].Train, int(r.Sample))
		case SetTest:
			out[k].Test = append(out[k].Test, int(r.Sample))
		default:
			return nil, errs.Shape("unknown fold set %q", r.Set)
		}
	}
	for i := range out {
		slices.Sort(out[i].Train)
		slices.Sort(out[i].Test)
	}
	return out, nil
}

// StationarityRow is one evaluated grid point of a min-d search.
type StationarityRow struct {
	Series   string  `parquet:"series,dict"`
	D        float64 `parquet:"d"`
	PValue   float64 `parquet:"p_value"`
	Stat     float64 `parquet:"stat"`
	NObs     int64   `parquet:"n_obs"`
	Width    int64   `parquet:"width"`
	Selected bool    `parquet:"selected"`
	Note     string  `parquet:"note"`
}

// WriteStationarity stores the full search history per series.
func (s *Store) WriteStationarity(results map[string]fracdiff.SearchResult) error {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	slices.Sort(names)

	var rows []StationarityRow
	for _, name := range names {
		res := results[name]
		for _, p := range res.History {
			rows = append(rows, StationarityRow{
				Series:   name,
				D:        p.D,
				PValue:   p.PValue,
				Stat:     p.Stat,
				NObs:     int64(p.NObs),
				Width:    int64(p.Width),
				Selected: math.Abs(p.D-res.D) < 1e-9,
				Note:     p.Note,
			})
		}
	}
	return write(s, Stationarity, rows)
}

// ReadStationarity loads the stored grid points.
func (s *Store) ReadStationarity() ([]StationarityRow, error) {
	return read[StationarityRow](s, Stationarity)
}

// PredictionRow is one line of predictions.parquet.
type PredictionRow struct {
	Event        int64   `parquet:"event"`
	T0           int64   `parquet:"t0"`
	Label        int64   `parquet:"label"`
	PrimaryOOS   bool    `parquet:"primary_oos"`
	PrimaryPred  int64   `parquet:"primary_pred"`
	PrimaryConf  float64 `parquet:"primary_conf"`
	MetaEligible bool    `parquet:"meta_eligible"`
	MetaLabel    int64   `parquet:"meta_label"`
	MetaPred     int64   `parquet:"meta_pred"`
	MetaProba    float64 `parquet:"meta_proba"`
	FinalPred    int64   `parquet:"final_pred"`
	FinalProba   float64 `parquet:"final_proba"`
}

// WritePredictions stores meta-labeling output; t0 maps rows to bars.
func (s *Store) WritePredictions(rows []meta.Row, t0 []int) error {
	if len(t0) != len(rows) {
		return errs.Shape("%d t0 values for %d prediction rows", len(t0), len(rows))
	}
	out := make([]PredictionRow, len(rows))
	for i, r := range rows {
		out[i] = PredictionRow{
			Event:        int64(r.Index),
			T0:           int64(t0[i]),
			Label:        int64(r.Label),
			PrimaryOOS:   r.PrimaryOOS,
			PrimaryPred:  int64(r.PrimaryPred),
			PrimaryConf:  r.PrimaryConf,
			MetaEligible: r.MetaEligible,
			MetaLabel:    int64(r.MetaLabel),
			MetaPred:     int64(r.MetaPred),
			MetaProba:    r.MetaProba,
			FinalPred:    int64(r.FinalPred),
			FinalProba:   r.FinalProba,
		}
	}
	return write(s, Predictions, out)
}

// ReadPredictions loads meta-labeling output.
func (s *Store) ReadPredictions() ([]PredictionRow, error) {
	return read[PredictionRow](s, Predictions)
}

// BetRow is one line of bet_sizes.parquet.
type BetRow struct {
	Event int64   `parquet:"event"`
	T0    int64   `parquet:"t0"`
	Prob  float64 `parquet:"prob"`
	Side  int64   `parquet:"side"`
	Size  float64 `parquet:"size"`
}

// WriteBets stores sized bets.
func (s *Store) WriteBets(rows []BetRow) error {
	return write(s, BetSizes, rows)
}

// ReadBets loads sized bets.
func (s *Store) ReadBets() ([]BetRow, error) {
	return read[BetRow](s, BetSizes)
}
