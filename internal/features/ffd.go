package features

import (
	"context"
	"fmt"
	"math"

	"github.com/sawpanic/signalrun/internal/domain/fracdiff"
	"github.com/sawpanic/signalrun/internal/domain/stats"
)

// Series the FFD columns are built from.
const (
	SeriesLogClose  = "log_close"
	SeriesLogVolume = "log_volume"
)

// Resolver picks the differencing order for a named series.
type Resolver interface {
	Resolve(ctx context.Context, series string, x []float64, cfg fracdiff.SearchConfig) (fracdiff.SearchResult, error)
}

// SearchResolver runs the grid search directly.
type SearchResolver struct{}

// Resolve implements Resolver.
func (SearchResolver) Resolve(_ context.Context, _ string, x []float64, cfg fracdiff.SearchConfig) (fracdiff.SearchResult, error) {
	return fracdiff.FindMinD(x, cfg), nil
}

func logSeries(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if v <= 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = math.Log(v)
	}
	return out
}

// ffdColumns adds the FFD level for one series plus its rolling mean, std
// and slope per window.
func ffdColumns(m *Matrix, prefix string, x []float64, d float64, cfg FFDConfig, windows []int) {
	level := fracdiff.Apply(x, d, cfg.Threshold, cfg.MaxWidth)
	m.mustAdd(prefix, level)
	for _, w := range windows {
		m.mustAdd(fmt.Sprintf("%s_MEAN%d", prefix, w), stats.Rolling(level, w, stats.Mean))
		m.mustAdd(fmt.Sprintf("%s_STD%d", prefix, w), stats.Rolling(level, w, stats.Std))
		m.mustAdd(fmt.Sprintf("%s_SLOPE%d", prefix, w), stats.Rolling(level, w, stats.Slope))
	}
}
