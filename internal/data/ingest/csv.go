package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/signalrun/internal/domain/bars"
	"github.com/sawpanic/signalrun/internal/domain/errs"
)

// CSVSource streams a CSV file in chunks without loading it whole.
type CSVSource struct {
	closer     io.Closer
	r          *csv.Reader
	opts       Options
	multiplier decimal.Decimal
	header     []string
	layout     layout
	row        int
	guard      orderGuard
	done       bool
}

// OpenCSV opens path and reads its header.
func OpenCSV(path string, opts Options) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	src, err := NewCSVSource(f, opts)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	src.closer = f
	return src, nil
}

// NewCSVSource reads CSV records from r. The first record is the header.
func NewCSVSource(r io.Reader, opts Options) (*CSVSource, error) {
	opts = opts.normalized()
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errs.Shape("empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	header = append([]string(nil), header...)
	l, err := newLayout(header)
	if err != nil {
		return nil, err
	}
	return &CSVSource{
		r:          cr,
		opts:       opts,
		multiplier: decimal.NewFromFloat(opts.Multiplier),
		header:     header,
		layout:     l,
		row:        1,
	}, nil
}

// Columns returns the raw header.
func (s *CSVSource) Columns() []string {
	return s.header
}

// Next implements bars.ChunkSource.
func (s *CSVSource) Next(ctx context.Context) ([]bars.Tick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}

	chunk := make([]bars.Tick, 0, min(s.opts.ChunkSize, 1<<16))
	for len(chunk) < s.opts.ChunkSize {
		rec, err := s.r.Read()
		if errors.Is(err, io.EOF) {
			s.done = true
			break
		}
		s.row++
		if err != nil {
			return nil, rowError(s.row, errs.Shape("%v", err))
		}
		t, err := s.parse(rec)
		if err != nil {
			return nil, rowError(s.row, err)
		}
		if err := s.guard.check(t.Time); err != nil {
			return nil, err
		}
		chunk = append(chunk, t)
	}
	if len(chunk) == 0 {
		return nil, io.EOF
	}
	return chunk, nil
}

func (s *CSVSource) parse(rec []string) (bars.Tick, error) {
	field := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var (
		v   rowValues
		err error
	)
	if v.time, err = ParseTime(field(s.layout.datetime), s.opts.Location); err != nil {
		return bars.Tick{}, err
	}
	for _, p := range []struct {
		dst **decimal.Decimal
		idx int
	}{
		{&v.open, s.layout.open},
		{&v.high, s.layout.high},
		{&v.low, s.layout.low},
		{&v.close, s.layout.close},
		{&v.volume, s.layout.volume},
		{&v.amount, s.layout.amount},
	} {
		if *p.dst, err = parseDecimal(field(p.idx)); err != nil {
			return bars.Tick{}, err
		}
	}
	return v.tick(s.multiplier)
}

// Close releases the underlying file, if any.
func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
