package bars

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"time"

	"github.com/sawpanic/signalrun/internal/domain/errs"
)

// ChunkSource yields bounded chunks of globally time-sorted ticks and
// returns io.EOF after the last one.
type ChunkSource interface {
	Next(ctx context.Context) ([]Tick, error)
}

// Builder fits thresholds and turns ticks into dollar bars.
type Builder struct {
	cfg       Config
	sessions  *Sessions
	threshold *Threshold
}

// NewBuilder creates a bar builder. A nil sessions value cuts days at UTC.
func NewBuilder(cfg Config, sessions *Sessions) *Builder {
	if sessions == nil {
		sessions = UTCSessions()
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1
	}
	return &Builder{cfg: cfg, sessions: sessions}
}

// Fit derives and stores the threshold from an in-memory tick slice.
func (b *Builder) Fit(ticks []Tick) (*Threshold, error) {
	totals := b.NewDailyTotals()
	if err := totals.Add(ticks); err != nil {
		return nil, err
	}
	return b.FitTotals(totals)
}

// FitTotals derives and stores the threshold from pre-accumulated totals.
func (b *Builder) FitTotals(totals *DailyTotals) (*Threshold, error) {
	th, err := Fit(b.cfg, totals)
	if err != nil {
		return nil, err
	}
	b.threshold = th
	return th, nil
}

// NewDailyTotals returns an accumulator bound to this builder's sessions.
func (b *Builder) NewDailyTotals() *DailyTotals {
	return NewDailyTotals(b.sessions, b.cfg.Multiplier)
}

// Threshold returns the fitted state, or nil before Fit.
func (b *Builder) Threshold() *Threshold {
	return b.threshold
}

// Transform aggregates an in-memory tick slice. A nil threshold uses the
// builder's fitted state. Empty input yields no bars and no error.
func (b *Builder) Transform(ticks []Tick, th *Threshold) ([]Bar, error) {
	s, err := b.NewStream(th)
	if err != nil {
		return nil, err
	}
	out, err := s.Push(ticks)
	if err != nil {
		return nil, err
	}
	if last, ok := s.Flush(); ok {
		out = append(out, last)
	}
	return out, nil
}

// NewStream starts a chunked transform.
func (b *Builder) NewStream(th *Threshold) (*Stream, error) {
	if th == nil {
		th = b.threshold
	}
	if th == nil {
		return nil, fmt.Errorf("bars transform: %w", errs.ErrNotFitted)
	}
	if th.Global <= 0 || math.IsNaN(th.Global) {
		return nil, errs.Shape("threshold must be positive, got %v", th.Global)
	}
	return &Stream{
		threshold:  th,
		sessions:   b.sessions,
		multiplier: b.cfg.Multiplier,
		dayCache:   make(map[string]float64),
	}, nil
}

// Bars lazily yields bars from a chunk source. Chunk boundaries are the
// only points where the sequence pauses for I/O; a partially consumed
// sequence leaves nothing behind outside the stream it created.
func (b *Builder) Bars(ctx context.Context, src ChunkSource, th *Threshold) iter.Seq2[Bar, error] {
	return func(yield func(Bar, error) bool) {
		s, err := b.NewStream(th)
		if err != nil {
			yield(Bar{}, err)
			return
		}
		for {
			chunk, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield(Bar{}, fmt.Errorf("failed to read tick chunk: %w", err))
				return
			}
			closed, err := s.Push(chunk)
			if err != nil {
				yield(Bar{}, err)
				return
			}
			for _, bar := range closed {
				if !yield(bar, nil) {
					return
				}
			}
		}
		if last, ok := s.Flush(); ok {
			yield(last, nil)
		}
	}
}

// Stream is the carried state of a chunked transform: the cumulative
// (normalized) amount, the index of the open bar and its accumulators.
type Stream struct {
	threshold  *Threshold
	sessions   *Sessions
	multiplier float64

	cum    float64 // raw cumulative amount (fixed) or cumulative amount/threshold (adaptive)
	barIdx float64 // floor of the level at which the open bar started
	open   bool
	cur    Bar

	seen     int64
	lastTime time.Time

	dayKey   string
	dayTh    float64
	dayCache map[string]float64
}

// Push consumes one chunk and returns the bars it closed. Ticks must be
// non-decreasing in time within and across chunks.
func (s *Stream) Push(ticks []Tick) ([]Bar, error) {
	var out []Bar
	for i, t := range ticks {
		if s.seen > 0 && t.Time.Before(s.lastTime) {
			return out, &errs.OrderingError{Position: int(s.seen), Previous: s.lastTime, Current: t.Time}
		}
		amt, err := tickAmount(t, s.multiplier)
		if err != nil {
			return out, fmt.Errorf("tick %d of chunk: %w", i, err)
		}

		th := s.thresholdFor(t.Time)
		if !s.open {
			s.cur = Bar{
				Open:      t.Open,
				High:      t.High,
				Low:       t.Low,
				Threshold: th,
			}
			s.barIdx = math.Floor(s.level())
			s.open = true
		}
		s.cur.High = math.Max(s.cur.High, t.High)
		s.cur.Low = math.Min(s.cur.Low, t.Low)
		s.cur.Close = t.Close
		s.cur.Volume += t.Volume
		s.cur.Amount += amt
		s.cur.Ticks++
		s.cur.Time = t.Time

		if s.threshold.Mode == ModeAdaptive {
			s.cum += amt / th
		} else {
			s.cum += amt
		}

		s.seen++
		s.lastTime = t.Time

		// The crossing tick belongs to the bar it closes, so a tick spanning
		// several thresholds still closes a single bar.
		if math.Floor(s.level()) > s.barIdx {
			out = append(out, s.cur)
			s.open = false
		}
	}
	return out, nil
}

// Flush returns the trailing partial bar, if any, and ends the stream.
func (s *Stream) Flush() (Bar, bool) {
	if !s.open {
		return Bar{}, false
	}
	s.open = false
	return s.cur, true
}

// Processed returns the number of ticks consumed so far.
func (s *Stream) Processed() int64 {
	return s.seen
}

func (s *Stream) level() float64 {
	if s.threshold.Mode == ModeAdaptive {
		return s.cum
	}
	return s.cum / s.threshold.Global
}

func (s *Stream) thresholdFor(ts time.Time) float64 {
	if s.threshold.Mode != ModeAdaptive {
		return s.threshold.Global
	}
	day := s.sessions.Day(ts)
	if day == s.dayKey {
		return s.dayTh
	}
	th, ok := s.dayCache[day]
	if !ok {
		th = s.threshold.For(day)
		s.dayCache[day] = th
	}
	s.dayKey, s.dayTh = day, th
	return th
}

// SliceSource serves an in-memory tick slice in fixed-size chunks.
type SliceSource struct {
	ticks []Tick
	size  int
	pos   int
}

// NewSliceSource chunks ticks into pieces of at most size ticks.
func NewSliceSource(ticks []Tick, size int) *SliceSource {
	if size <= 0 {
		size = len(ticks)
	}
	return &SliceSource{ticks: ticks, size: size}
}

// Next returns the next chunk or io.EOF.
func (s *SliceSource) Next(ctx context.Context) ([]Tick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.ticks) {
		return nil, io.EOF
	}
	end := s.pos + s.size
	if end > len(s.ticks) {
		end = len(s.ticks)
	}
	chunk := s.ticks[s.pos:end]
	s.pos = end
	return chunk, nil
}
