package features

import (
	"context"
	"fmt"
	"maps"

	"github.com/rs/zerolog"

	"github.com/sawpanic/signalrun/internal/domain/bars"
	"github.com/sawpanic/signalrun/internal/domain/errs"
	"github.com/sawpanic/signalrun/internal/domain/fracdiff"
)

// Engine turns bars into a feature matrix. Fit resolves the FFD order of
// each differenced series; Transform is a pure function of that state.
type Engine struct {
	cfg      Config
	resolver Resolver
	logger   zerolog.Logger

	fitted   bool
	orders   map[string]float64
	searches map[string]fracdiff.SearchResult
}

// Option customizes an Engine.
type Option func(*Engine)

// WithResolver replaces the default in-process stationarity search.
func WithResolver(r Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithLogger attaches a logger for fit diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an unfitted engine.
func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{cfg: cfg, resolver: SearchResolver{}, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func columns(bs []bars.Bar) ohlcv {
	d := ohlcv{
		open:   make([]float64, len(bs)),
		high:   make([]float64, len(bs)),
		low:    make([]float64, len(bs)),
		close:  make([]float64, len(bs)),
		volume: make([]float64, len(bs)),
	}
	for i, b := range bs {
		d.open[i], d.high[i], d.low[i], d.close[i], d.volume[i] = b.Open, b.High, b.Low, b.Close, b.Volume
	}
	return d
}

func (e *Engine) series(d ohlcv) map[string][]float64 {
	return map[string][]float64{
		SeriesLogClose:  logSeries(d.close),
		SeriesLogVolume: logSeries(d.volume),
	}
}

// Fit resolves the differencing order of every FFD series.
func (e *Engine) Fit(ctx context.Context, bs []bars.Bar) error {
	if len(bs) == 0 {
		return errs.Shape("no bars to fit features on")
	}
	orders := map[string]float64{}
	searches := map[string]fracdiff.SearchResult{}
	if e.cfg.FFD.Enabled {
		search := e.cfg.FFD.Search
		search.Tau = e.cfg.FFD.Threshold
		if e.cfg.FFD.MaxWidth > 0 {
			search.MaxWidth = e.cfg.FFD.MaxWidth
		}
		for name, x := range e.series(columns(bs)) {
			if !e.cfg.FFD.CheckStationarity {
				orders[name] = e.cfg.FFD.D
				continue
			}
			res, err := e.resolver.Resolve(ctx, name, x, search)
			if err != nil {
				return fmt.Errorf("failed to resolve differencing order for %s: %w", name, err)
			}
			orders[name] = res.D
			searches[name] = res
			e.logger.Debug().
				Str("series", name).
				Float64("d", res.D).
				Float64("p_value", res.PValue).
				Bool("stationary", res.Stationary).
				Msg("Differencing order resolved")
		}
	}
	e.orders, e.searches, e.fitted = orders, searches, true
	return nil
}

// Orders returns the fitted differencing order per series.
func (e *Engine) Orders() map[string]float64 { return maps.Clone(e.orders) }

// Searches returns the stationarity search results gathered during Fit.
func (e *Engine) Searches() map[string]fracdiff.SearchResult { return maps.Clone(e.searches) }

// Transform builds the raw feature matrix. NaNs mark warm-up rows; call
// FillMissing and a Scaler afterwards for model input.
func (e *Engine) Transform(bs []bars.Bar) (*Matrix, error) {
	if !e.fitted {
		return nil, fmt.Errorf("%w: feature engine", errs.ErrNotFitted)
	}
	d := columns(bs)
	m := NewMatrix(len(bs))

	kbar(m, d)
	for _, w := range e.cfg.Windows {
		rolling(m, d, w)
	}
	if e.cfg.FFD.Enabled {
		series := e.series(d)
		ffdColumns(m, "FFD_CLOSE", series[SeriesLogClose], e.orders[SeriesLogClose], e.cfg.FFD, e.cfg.Windows)
		ffdColumns(m, "FFD_VOLUME", series[SeriesLogVolume], e.orders[SeriesLogVolume], e.cfg.FFD, e.cfg.Windows)
	}
	bins := e.cfg.EntropyBins
	if bins < 2 {
		bins = 10
	}
	regime(m, d.close, e.cfg.RegimeWindows, bins)
	return m, nil
}
