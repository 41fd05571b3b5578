package bars

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sawpanic/signalrun/internal/domain/errs"
)

// Mode selects how the dollar threshold is derived.
type Mode string

const (
	// ModeFixed uses one threshold: mean daily dollar volume / target.
	ModeFixed Mode = "fixed"
	// ModeAdaptive uses a per-date threshold from the lagged EWMA of
	// daily dollar volume / target.
	ModeAdaptive Mode = "adaptive"
)

// Config holds bar builder settings.
type Config struct {
	Mode        Mode    `yaml:"mode" validate:"oneof=fixed adaptive"`
	DailyTarget int     `yaml:"daily_target" validate:"gt=0"` // bars per day
	EMASpan     int     `yaml:"ema_span" validate:"gt=0"`     // days
	Multiplier  float64 `yaml:"multiplier" validate:"gt=0"`   // contract multiplier for computed amounts
	ChunkSize   int     `yaml:"chunk_size" validate:"gt=0"`   // ticks per chunk in streaming mode
	Timezone    string  `yaml:"timezone"`
	CalendarMIC string  `yaml:"calendar_mic"`
	// WarmupThreshold, when positive, replaces the global-mean fallback for
	// dates without a lagged EWMA, making the table strictly causal.
	WarmupThreshold float64 `yaml:"warmup_threshold" validate:"gte=0"`
}

// DefaultConfig returns the bar settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Mode:        ModeFixed,
		DailyTarget: 50,
		EMASpan:     20,
		Multiplier:  1,
		ChunkSize:   20_000_000,
		Timezone:    "UTC",
	}
}

// DayTotal is the traded volume and dollar amount of one session date.
type DayTotal struct {
	Day    string
	Volume float64
	Amount float64
	first  time.Time
}

// DailyTotals accumulates per-day dollar volume over one or many chunks,
// so thresholds can be fitted without materializing the tick history.
type DailyTotals struct {
	sessions   *Sessions
	multiplier float64
	byDay      map[string]*DayTotal
}

// NewDailyTotals creates an empty accumulator.
func NewDailyTotals(sessions *Sessions, multiplier float64) *DailyTotals {
	if sessions == nil {
		sessions = UTCSessions()
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	return &DailyTotals{
		sessions:   sessions,
		multiplier: multiplier,
		byDay:      make(map[string]*DayTotal),
	}
}

// Add folds a chunk of ticks into the daily totals.
func (d *DailyTotals) Add(ticks []Tick) error {
	for i, t := range ticks {
		amt, err := tickAmount(t, d.multiplier)
		if err != nil {
			return fmt.Errorf("tick %d: %w", i, err)
		}
		day := d.sessions.Day(t.Time)
		agg, ok := d.byDay[day]
		if !ok {
			agg = &DayTotal{Day: day, first: t.Time}
			d.byDay[day] = agg
		}
		agg.Volume += t.Volume
		agg.Amount += amt
	}
	return nil
}

// Days returns the usable totals in date order: zero-volume days and
// exchange holidays are excluded.
func (d *DailyTotals) Days() []DayTotal {
	out := make([]DayTotal, 0, len(d.byDay))
	for _, agg := range d.byDay {
		if agg.Volume <= 0 || agg.Amount <= 0 {
			continue
		}
		if !d.sessions.BusinessDay(agg.first) {
			continue
		}
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

// Threshold is the fitted state of a Builder.
type Threshold struct {
	Mode   Mode    `json:"mode"`
	Target int     `json:"target"`
	Global float64 `json:"global"` // mean daily amount / target

	// Fallback is used for dates without a lagged EWMA value.
	Fallback float64 `json:"fallback"`

	// Days and EWMA are the fitted session dates and the EWMA of daily
	// amount through each date (adaptive mode only).
	Days []string  `json:"days,omitempty"`
	EWMA []float64 `json:"ewma,omitempty"`
}

// For returns the threshold in force on a session date. In adaptive mode
// it is the EWMA through the latest fitted date strictly before day.
func (th *Threshold) For(day string) float64 {
	if th.Mode != ModeAdaptive || len(th.Days) == 0 {
		return th.Global
	}
	// First fitted date >= day; the one before it is the lagged value.
	i := sort.SearchStrings(th.Days, day)
	if i == 0 {
		return th.Fallback
	}
	return th.EWMA[i-1] / float64(th.Target)
}

// Fit derives a threshold from daily totals.
func Fit(cfg Config, totals *DailyTotals) (*Threshold, error) {
	if cfg.DailyTarget <= 0 {
		return nil, errs.Shape("daily target must be positive, got %d", cfg.DailyTarget)
	}
	days := totals.Days()
	if len(days) == 0 {
		return nil, errs.Shape("no trading days with positive volume")
	}

	sum := 0.0
	for _, d := range days {
		sum += d.Amount
	}
	global := sum / float64(len(days)) / float64(cfg.DailyTarget)

	th := &Threshold{
		Mode:     cfg.Mode,
		Target:   cfg.DailyTarget,
		Global:   global,
		Fallback: global,
	}
	if cfg.Mode != ModeAdaptive {
		th.Mode = ModeFixed
		return th, nil
	}

	if cfg.EMASpan <= 0 {
		return nil, errs.Shape("ema span must be positive, got %d", cfg.EMASpan)
	}
	if cfg.WarmupThreshold > 0 {
		th.Fallback = cfg.WarmupThreshold
	}

	// Bias-adjusted EWMA over the ordered daily amounts.
	alpha := 2.0 / (float64(cfg.EMASpan) + 1)
	decay := 1 - alpha
	num, den := 0.0, 0.0
	th.Days = make([]string, len(days))
	th.EWMA = make([]float64, len(days))
	for i, d := range days {
		num = d.Amount + decay*num
		den = 1 + decay*den
		th.Days[i] = d.Day
		th.EWMA[i] = num / den
	}
	return th, nil
}

func tickAmount(t Tick, multiplier float64) (float64, error) {
	amt := t.Amount
	if math.IsNaN(amt) {
		amt = (t.Open + t.High + t.Low + t.Close) / 4 * t.Volume * multiplier
	}
	if amt < 0 || math.IsInf(amt, 0) || math.IsNaN(amt) {
		return 0, errs.Shape("invalid dollar amount %v at %s", amt, t.Time.Format(time.RFC3339Nano))
	}
	return amt, nil
}
