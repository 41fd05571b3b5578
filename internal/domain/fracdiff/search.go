package fracdiff

import (
	"math"
)

// SearchConfig drives the minimum-d search.
type SearchConfig struct {
	MaxD      float64   `yaml:"max_d"`      // upper end of the grid (default 1.0)
	Step      float64   `yaml:"step"`       // grid spacing (default 0.05)
	Alpha     float64   `yaml:"alpha"`      // ADF significance (default 0.05)
	MinLength int       `yaml:"min_length"` // minimum usable points after FFD
	Tau       float64   `yaml:"tau"`        // weight cutoff
	MaxWidth  int       `yaml:"max_width"`  // hard cap on the FFD window
	ADF       ADFConfig `yaml:"adf"`
}

// DefaultSearchConfig returns the grid used by the stationarity diagnostics.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MaxD:      1.0,
		Step:      0.05,
		Alpha:     0.05,
		MinLength: 50,
		Tau:       1e-4,
		MaxWidth:  DefaultMaxWidth,
		ADF:       DefaultADFConfig(),
	}
}

// Point is one evaluated grid position.
type Point struct {
	D      float64 `json:"d"`
	PValue float64 `json:"p_value"`
	Stat   float64 `json:"stat"`
	NObs   int     `json:"n_obs"`
	Width  int     `json:"width"`
	Note   string  `json:"note,omitempty"` // why the test could not run
}

// SearchResult carries the selected order and every evaluated point.
type SearchResult struct {
	D          float64 `json:"d"`
	PValue     float64 `json:"p_value"`
	Stationary bool    `json:"stationary"`
	History    []Point `json:"history"`
}

// PValueAt returns the recorded p-value for d, if the grid visited it.
func (r SearchResult) PValueAt(d float64) (float64, bool) {
	for _, p := range r.History {
		if math.Abs(p.D-d) < 1e-9 {
			return p.PValue, true
		}
	}
	return math.NaN(), false
}

// FindMinD walks d upward from 0 on the configured grid and returns the
// first order whose FFD series rejects a unit root at Alpha. When none
// does, MaxD is returned with Stationary=false. ADF failures count as
// "not stationary at this d" and never stop the walk.
func FindMinD(x []float64, cfg SearchConfig) SearchResult {
	if cfg.Step <= 0 {
		cfg.Step = 0.05
	}
	if cfg.MaxD <= 0 {
		cfg.MaxD = 1.0
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = 0.05
	}

	result := SearchResult{D: cfg.MaxD, PValue: math.NaN()}
	for i := 0; ; i++ {
		d := math.Min(float64(i)*cfg.Step, cfg.MaxD)
		point := evaluate(x, d, cfg)
		result.History = append(result.History, point)

		if point.PValue < cfg.Alpha {
			result.D = d
			result.PValue = point.PValue
			result.Stationary = true
			return result
		}
		if d >= cfg.MaxD {
			result.PValue = point.PValue
			return result
		}
	}
}

func evaluate(x []float64, d float64, cfg SearchConfig) Point {
	w := Weights(d, cfg.Tau, cfg.MaxWidth)
	series, _ := DropUndefined(Transform(x, w))
	point := Point{D: d, PValue: 1, NObs: len(series), Width: len(w)}

	if len(series) < cfg.MinLength {
		point.Note = "too few points after differencing"
		return point
	}

	res, err := ADF(series, cfg.ADF)
	if err != nil {
		point.Note = err.Error()
		return point
	}
	point.PValue = res.PValue
	point.Stat = res.Stat
	return point
}
