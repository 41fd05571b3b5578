package ingest

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/signalrun/internal/domain/bars"
	"github.com/sawpanic/signalrun/internal/domain/errs"
)

// ParquetSource streams a flat parquet file of ticks or bars.
type ParquetSource struct {
	f          *os.File
	r          *parquet.Reader
	opts       Options
	multiplier decimal.Decimal
	columns    []string
	layout     layout
	buf        []parquet.Row
	row        int
	guard      orderGuard
}

// OpenParquet opens path and maps its top-level columns.
func OpenParquet(path string, opts Options) (*ParquetSource, error) {
	opts = opts.normalized()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	r := parquet.NewReader(f)

	fields := r.Schema().Fields()
	columns := make([]string, len(fields))
	for i, field := range fields {
		columns[i] = field.Name()
	}
	named, err := newLayout(columns)
	if err != nil {
		r.Close()
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	// Row values are addressed by leaf column index, which can differ from
	// the field position in nested schemas.
	leaf := func(i int) int {
		if i < 0 {
			return -1
		}
		col, ok := r.Schema().Lookup(columns[i])
		if !ok {
			return -1
		}
		return col.ColumnIndex
	}
	l := layout{
		datetime: leaf(named.datetime),
		open:     leaf(named.open),
		high:     leaf(named.high),
		low:      leaf(named.low),
		close:    leaf(named.close),
		volume:   leaf(named.volume),
		amount:   leaf(named.amount),
	}

	return &ParquetSource{
		f:          f,
		r:          r,
		opts:       opts,
		multiplier: decimal.NewFromFloat(opts.Multiplier),
		columns:    columns,
		layout:     l,
		buf:        make([]parquet.Row, 1024),
	}, nil
}

// Columns returns the top-level column names.
func (s *ParquetSource) Columns() []string {
	return s.columns
}

// NumRows returns the row count recorded in the file footer.
func (s *ParquetSource) NumRows() int64 {
	return s.r.NumRows()
}

// Next implements bars.ChunkSource.
func (s *ParquetSource) Next(ctx context.Context) ([]bars.Tick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var chunk []bars.Tick
	for len(chunk) < s.opts.ChunkSize {
		want := min(len(s.buf), s.opts.ChunkSize-len(chunk))
		n, err := s.r.ReadRows(s.buf[:want])
		for _, row := range s.buf[:n] {
			s.row++
			t, perr := s.parse(row)
			if perr != nil {
				return nil, rowError(s.row, perr)
			}
			if gerr := s.guard.check(t.Time); gerr != nil {
				return nil, gerr
			}
			chunk = append(chunk, t)
		}
		if err == io.EOF || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	if len(chunk) == 0 {
		return nil, io.EOF
	}
	return chunk, nil
}

func (s *ParquetSource) parse(row parquet.Row) (bars.Tick, error) {
	values := make(map[int]parquet.Value, len(row))
	for _, v := range row {
		values[v.Column()] = v
	}

	var v rowValues
	tv, ok := values[s.layout.datetime]
	if !ok || tv.IsNull() {
		return bars.Tick{}, errs.Shape("missing datetime")
	}
	switch tv.Kind() {
	case parquet.Int64, parquet.Int32:
		v.time = timeFromMillis(tv.Int64())
	case parquet.ByteArray:
		t, err := ParseTime(string(tv.ByteArray()), s.opts.Location)
		if err != nil {
			return bars.Tick{}, err
		}
		v.time = t
	default:
		return bars.Tick{}, errs.Shape("unsupported datetime type %s", tv.Kind())
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
		if p.idx < 0 {
			continue
		}
		val, ok := values[p.idx]
		if !ok || val.IsNull() {
			continue
		}
		f, err := numeric(val)
		if err != nil {
			return bars.Tick{}, err
		}
		*p.dst = fromFloat(f)
	}
	return v.tick(s.multiplier)
}

func numeric(v parquet.Value) (float64, error) {
	switch v.Kind() {
	case parquet.Double:
		return v.Double(), nil
	case parquet.Float:
		return float64(v.Float()), nil
	case parquet.Int64:
		return float64(v.Int64()), nil
	case parquet.Int32:
		return float64(v.Int32()), nil
	case parquet.ByteArray:
		d, err := parseDecimal(string(v.ByteArray()))
		if err != nil || d == nil {
			return 0, errs.Shape("invalid number %q", v.ByteArray())
		}
		return d.InexactFloat64(), nil
	default:
		return 0, errs.Shape("unsupported numeric type %s", v.Kind())
	}
}

// Close releases the reader and file.
func (s *ParquetSource) Close() error {
	rerr := s.r.Close()
	if err := s.f.Close(); err != nil {
		return err
	}
	return rerr
}
