// Package ingest reads tick and OHLCV files into bar-builder chunks.
//
// Input columns are matched case-insensitively after alias renames
// (timestamp→datetime, price→close, qty/quantity→volume). Missing
// open/high/low are back-filled from close, and a missing amount is
// computed as the OHLC average times volume times the multiplier.
package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/signalrun/internal/domain/bars"
	"github.com/sawpanic/signalrun/internal/domain/errs"
)

// Canonical column names.
const (
	ColDatetime = "datetime"
	ColOpen     = "open"
	ColHigh     = "high"
	ColLow      = "low"
	ColClose    = "close"
	ColVolume   = "volume"
	ColAmount   = "amount"
)

var aliases = map[string]string{
	"timestamp": ColDatetime,
	"price":     ColClose,
	"qty":       ColVolume,
	"quantity":  ColVolume,
}

// Options controls how a file is read.
type Options struct {
	// ChunkSize is the number of ticks per chunk.
	ChunkSize int
	// Multiplier scales computed amounts; 1 for quote-priced ticks, e.g.
	// 300 for futures contracts.
	Multiplier float64
	// Location interprets timestamps that carry no zone. Nil means UTC.
	Location *time.Location
}

// DefaultOptions reads one million ticks per chunk at multiplier 1.
func DefaultOptions() Options {
	return Options{ChunkSize: 1_000_000, Multiplier: 1}
}

func (o Options) normalized() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultOptions().ChunkSize
	}
	if o.Multiplier <= 0 {
		o.Multiplier = 1
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// layout maps canonical names to source column positions; -1 is absent.
type layout struct {
	datetime, open, high, low, close, volume, amount int
}

func canonical(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if a, ok := aliases[n]; ok {
		return a
	}
	return n
}

func newLayout(header []string) (layout, error) {
	l := layout{-1, -1, -1, -1, -1, -1, -1}
	for i, h := range header {
		var slot *int
		switch canonical(h) {
		case ColDatetime:
			slot = &l.datetime
		case ColOpen:
			slot = &l.open
		case ColHigh:
			slot = &l.high
		case ColLow:
			slot = &l.low
		case ColClose:
			slot = &l.close
		case ColVolume:
			slot = &l.volume
		case ColAmount:
			slot = &l.amount
		default:
			continue
		}
		if *slot >= 0 {
			return l, errs.Shape("column %q maps to an already present column", h)
		}
		*slot = i
	}

	var missing []string
	if l.datetime < 0 {
		missing = append(missing, ColDatetime)
	}
	if l.close < 0 {
		missing = append(missing, ColClose)
	}
	if l.volume < 0 {
		missing = append(missing, ColVolume)
	}
	if len(missing) > 0 {
		return l, errs.Shape("missing required columns %v in %v", missing, header)
	}
	return l, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime accepts RFC3339, "2006-01-02 15:04:05[.fff]", a bare date, or
// integer epoch milliseconds.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.UTC
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, l := range timeLayouts {
		if t, err := time.ParseInLocation(l, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errs.Shape("unparseable timestamp %q", s)
}

// rowValues carries one record before back-fill. Absent numeric fields
// are nil.
type rowValues struct {
	time                            time.Time
	open, high, low, close, volume *decimal.Decimal
	amount                          *decimal.Decimal
}

func parseDecimal(s string) (*decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errs.Shape("invalid number %q", s)
	}
	return &d, nil
}

func fromFloat(f float64) *decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	d := decimal.NewFromFloat(f)
	return &d
}

// tick back-fills and converts a row. Prices and amount are combined in
// decimal so the computed amount carries no intermediate rounding.
func (r rowValues) tick(multiplier decimal.Decimal) (bars.Tick, error) {
	if r.close == nil {
		return bars.Tick{}, errs.Shape("missing close at %s", r.time.Format(time.RFC3339Nano))
	}
	if r.volume == nil {
		return bars.Tick{}, errs.Shape("missing volume at %s", r.time.Format(time.RFC3339Nano))
	}
	c := *r.close
	o, h, l := c, c, c
	if r.open != nil {
		o = *r.open
	}
	if r.high != nil {
		h = *r.high
	}
	if r.low != nil {
		l = *r.low
	}

	var amount decimal.Decimal
	if r.amount != nil {
		amount = *r.amount
	} else {
		amount = o.Add(h).Add(l).Add(c).Div(decimal.NewFromInt(4)).Mul(*r.volume).Mul(multiplier)
	}

	return bars.Tick{
		Time:   r.time,
		Open:   o.InexactFloat64(),
		High:   h.InexactFloat64(),
		Low:    l.InexactFloat64(),
		Close:  c.InexactFloat64(),
		Volume: r.volume.InexactFloat64(),
		Amount: amount.InexactFloat64(),
	}, nil
}

// orderGuard rejects timestamps that go backwards across the whole file.
type orderGuard struct {
	pos  int
	last time.Time
}

func (g *orderGuard) check(ts time.Time) error {
	if g.pos > 0 && ts.Before(g.last) {
		return &errs.OrderingError{Position: g.pos, Previous: g.last, Current: ts}
	}
	g.last = ts
	g.pos++
	return nil
}

func rowError(row int, err error) error {
	return fmt.Errorf("row %d: %w", row, err)
}
