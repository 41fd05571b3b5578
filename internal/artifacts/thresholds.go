package artifacts

import (
	"math"

	"github.com/sawpanic/signalrun/internal/domain/bars"
	"github.com/sawpanic/signalrun/internal/domain/errs"
)

// ThresholdRow is one session date of the fitted threshold table. The
// scalar fields of the table repeat on every row.
type ThresholdRow struct {
	Day       string  `parquet:"day"`
	Volume    float64 `parquet:"volume"`
	Amount    float64 `parquet:"amount"`
	EWMA      float64 `parquet:"ewma"`      // NaN in fixed mode
	Threshold float64 `parquet:"threshold"` // threshold in force on Day
	Mode      string  `parquet:"mode,dict"`
	Target    int64   `parquet:"target"`
	Global    float64 `parquet:"global"`
	Fallback  float64 `parquet:"fallback"`
}

// WriteThreshold stores th together with the daily totals it was fit on.
func (s *Store) WriteThreshold(th *bars.Threshold, days []bars.DayTotal) error {
	if th == nil {
		return errs.Shape("nil threshold")
	}
	if len(days) == 0 {
		return errs.Shape("threshold table needs at least one day")
	}
	ewma := make(map[string]float64, len(th.Days))
	for i, d := range th.Days {
		ewma[d] = th.EWMA[i]
	}
	rows := make([]ThresholdRow, len(days))
	for i, d := range days {
		e, ok := ewma[d.Day]
		if !ok {
			e = math.NaN()
		}
		rows[i] = ThresholdRow{
			Day:       d.Day,
			Volume:    d.Volume,
			Amount:    d.Amount,
			EWMA:      e,
			Threshold: th.For(d.Day),
			Mode:      string(th.Mode),
			Target:    int64(th.Target),
			Global:    th.Global,
			Fallback:  th.Fallback,
		}
	}
	return write(s, Thresholds, rows)
}

// ReadThreshold rebuilds the fitted threshold.
func (s *Store) ReadThreshold() (*bars.Threshold, error) {
	rows, err := read[ThresholdRow](s, Thresholds)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.Shape("empty threshold table")
	}
	first := rows[0]
	th := &bars.Threshold{
		Mode:     bars.Mode(first.Mode),
		Target:   int(first.Target),
		Global:   first.Global,
		Fallback: first.Fallback,
	}
	if th.Mode == bars.ModeAdaptive {
		for _, r := range rows {
			if math.IsNaN(r.EWMA) {
				continue
			}
			th.Days = append(th.Days, r.Day)
			th.EWMA = append(th.EWMA, r.EWMA)
		}
	}
	return th, nil
}
