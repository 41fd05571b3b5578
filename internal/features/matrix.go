package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/signalrun/internal/domain/errs"
)

// Matrix is a column-major feature table aligned to bars.
type Matrix struct {
	rows  int
	names []string
	index map[string]int
	cols  [][]float64
}

// NewMatrix returns an empty matrix with a fixed row count.
func NewMatrix(rows int) *Matrix {
	return &Matrix{rows: rows, index: make(map[string]int)}
}

// Add appends a named column. Re-adding a name replaces the column.
func (m *Matrix) Add(name string, col []float64) error {
	if len(col) != m.rows {
		return errs.Shape("column %s has %d rows, want %d", name, len(col), m.rows)
	}
	if j, ok := m.index[name]; ok {
		m.cols[j] = col
		return nil
	}
	m.index[name] = len(m.cols)
	m.names = append(m.names, name)
	m.cols = append(m.cols, col)
	return nil
}

func (m *Matrix) mustAdd(name string, col []float64) {
	if err := m.Add(name, col); err != nil {
		panic(err)
	}
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return len(m.cols) }

// Names returns the column names in insertion order.
func (m *Matrix) Names() []string { return append([]string(nil), m.names...) }

// Col returns the named column.
func (m *Matrix) Col(name string) ([]float64, bool) {
	j, ok := m.index[name]
	if !ok {
		return nil, false
	}
	return m.cols[j], true
}

// At returns the value at row i of column j.
func (m *Matrix) At(i, j int) float64 { return m.cols[j][i] }

// Clone deep-copies the matrix.
func (m *Matrix) Clone() *Matrix {
	out := NewMatrix(m.rows)
	for j, name := range m.names {
		out.mustAdd(name, append([]float64(nil), m.cols[j]...))
	}
	return out
}

// Dense gathers the given rows into a row-major gonum matrix. A nil rows
// slice selects every row.
func (m *Matrix) Dense(rows []int) *mat.Dense {
	if rows == nil {
		rows = make([]int, m.rows)
		for i := range rows {
			rows[i] = i
		}
	}
	if len(rows) == 0 || len(m.cols) == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(len(rows), len(m.cols), nil)
	for r, i := range rows {
		for j, col := range m.cols {
			out.Set(r, j, col[i])
		}
	}
	return out
}

// FillMissing forward-fills NaNs in every column and zero-fills whatever
// is left at the head.
func (m *Matrix) FillMissing() {
	for _, col := range m.cols {
		last := math.NaN()
		for i, v := range col {
			switch {
			case !math.IsNaN(v) && !math.IsInf(v, 0):
				last = v
			case !math.IsNaN(last):
				col[i] = last
			default:
				col[i] = 0
			}
		}
	}
}

// Scaler standardizes columns with stored means and deviations.
type Scaler struct {
	Names []string  `json:"names"`
	Mean  []float64 `json:"mean"`
	Std   []float64 `json:"std"`
}

// FitScaler estimates per-column mean and std over rows (nil = all rows).
// Constant columns get a unit deviation.
func FitScaler(m *Matrix, rows []int) *Scaler {
	s := &Scaler{Names: m.Names(), Mean: make([]float64, m.Cols()), Std: make([]float64, m.Cols())}
	buf := make([]float64, 0, m.rows)
	for j, col := range m.cols {
		buf = buf[:0]
		if rows == nil {
			buf = append(buf, col...)
		} else {
			for _, i := range rows {
				buf = append(buf, col[i])
			}
		}
		mean, std := math.NaN(), math.NaN()
		if len(buf) > 1 {
			mean, std = stat.MeanStdDev(buf, nil)
		} else if len(buf) == 1 {
			mean = buf[0]
		}
		if math.IsNaN(mean) {
			mean = 0
		}
		if math.IsNaN(std) || std < errs.Eps {
			std = 1
		}
		s.Mean[j], s.Std[j] = mean, std
	}
	return s
}

// Transform returns a standardized copy of m.
func (s *Scaler) Transform(m *Matrix) (*Matrix, error) {
	if m.Cols() != len(s.Names) {
		return nil, errs.Shape("scaler fitted on %d columns, matrix has %d", len(s.Names), m.Cols())
	}
	out := NewMatrix(m.rows)
	for j, name := range m.names {
		if s.Names[j] != name {
			return nil, fmt.Errorf("%w: column %d is %s, scaler expects %s", errs.ErrInputShape, j, name, s.Names[j])
		}
		col := make([]float64, m.rows)
		for i, v := range m.cols[j] {
			col[i] = (v - s.Mean[j]) / s.Std[j]
		}
		out.mustAdd(name, col)
	}
	return out, nil
}
