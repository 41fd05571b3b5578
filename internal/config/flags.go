package config

import (
	"github.com/spf13/pflag"

	"github.com/sawpanic/signalrun/internal/domain/bars"
	"github.com/sawpanic/signalrun/internal/domain/weights"
	"github.com/sawpanic/signalrun/internal/features"
)

// Flags holds the CLI knobs that override single configuration values.
// Only flags the user actually set are applied.
type Flags struct {
	fs    *pflag.FlagSet
	apply map[string]func(*Config)
}

// RegisterFlags adds the override flags to fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs, apply: make(map[string]func(*Config))}
	d := Default()

	f.strFlag("log-level", d.LogLevel, "log level (debug|info|warn|error)", func(c *Config, v string) { c.LogLevel = v })
	f.strFlag("input", d.Data.Input, "tick or OHLCV input file (.csv or .parquet)", func(c *Config, v string) { c.Data.Input = v })
	f.strFlag("artifacts", d.Data.ArtifactsDir, "artifact directory", func(c *Config, v string) { c.Data.ArtifactsDir = v })

	f.strFlag("bar-mode", string(d.Bars.Mode), "dollar bar threshold mode (fixed|adaptive)", func(c *Config, v string) { c.Bars.Mode = bars.Mode(v) })
	f.intFlag("daily-target", d.Bars.DailyTarget, "target bars per day", func(c *Config, v int) { c.Bars.DailyTarget = v })
	f.intFlag("ema-span", d.Bars.EMASpan, "EMA span in days for adaptive thresholds", func(c *Config, v int) { c.Bars.EMASpan = v })
	f.floatFlag("multiplier", d.Bars.Multiplier, "contract multiplier for computed amounts", func(c *Config, v float64) { c.Bars.Multiplier = v })
	f.intFlag("chunk-size", d.Bars.ChunkSize, "ticks per streamed chunk", func(c *Config, v int) { c.Bars.ChunkSize = v })

	f.floatsFlag("pt-sl", nil, "profit-taking and stop-loss multipliers, e.g. 1,2", func(c *Config, v []float64) { c.Labels.PTSL = v })
	f.intFlag("vertical-barrier-bars", d.Labels.Barrier.Horizon, "vertical barrier horizon in bars", func(c *Config, v int) { c.Labels.Barrier.Horizon = v })
	f.floatFlag("min-ret", d.Labels.Barrier.MinRet, "drop events with smaller absolute return", func(c *Config, v float64) { c.Labels.Barrier.MinRet = v })
	f.intFlag("volatility-span", d.Labels.Volatility.Span, "EWMA span for volatility", func(c *Config, v int) { c.Labels.Volatility.Span = v })
	f.floatFlag("cusum-k", d.Labels.CUSUMK, "CUSUM threshold in units of volatility", func(c *Config, v float64) { c.Labels.CUSUMK = v })

	f.intsFlag("windows", d.Features.Windows, "rolling feature windows", func(c *Config, v []int) { c.Features.Windows = v })
	f.floatFlag("ffd-d", d.Features.FFD.D, "fixed fractional differencing order", func(c *Config, v float64) { c.Features.FFD.D = v })
	f.boolFlag("check-stationarity", d.Features.FFD.CheckStationarity, "search the minimum stationary d", func(c *Config, v bool) { c.Features.FFD.CheckStationarity = v })
	f.floatFlag("ffd-threshold", d.Features.FFD.Threshold, "FFD weight cutoff", func(c *Config, v float64) { c.Features.FFD.Threshold = v })
	f.strFlag("normalize-scope", string(d.Features.NormalizeScope), "standardization scope (global|fold)", func(c *Config, v string) { c.Features.NormalizeScope = features.Scope(v) })

	f.floatFlag("decay", d.Weights.Decay, "sample weight age decay in (0, 1]", func(c *Config, v float64) { c.Weights.Decay = v })
	f.strFlag("return-aggregator", string(d.Weights.Aggregator), "weight return aggregator (net|gross|attributed)", func(c *Config, v string) { c.Weights.Aggregator = weights.Aggregator(v) })

	f.intFlag("n-splits", d.CV.NSplits, "number of CV folds", func(c *Config, v int) { c.CV.NSplits = v })
	f.floatFlag("embargo", d.CV.Embargo, "embargo as a fraction of the test size", func(c *Config, v float64) { c.CV.Embargo = v })
	f.intFlag("purge", d.CV.Purge, "samples purged before each test block", func(c *Config, v int) { c.CV.Purge = v })

	f.floatFlag("bet-step-size", d.Bet.StepSize, "bet size discretization step", func(c *Config, v float64) { c.Bet.StepSize = v })
	f.boolFlag("average-active", d.Bet.AverageActive, "scale bets by average uniqueness", func(c *Config, v bool) { c.Bet.AverageActive = v })

	f.intsFlag("targets", d.Sweep.Targets, "bars-per-day targets for the sweep", func(c *Config, v []int) { c.Sweep.Targets = v })
	f.strFlag("metrics-out", d.Metrics.TextfilePath, "write prometheus textfile metrics here", func(c *Config, v string) { c.Metrics.TextfilePath = v })
	f.strFlag("metrics-addr", d.Metrics.Addr, "serve /metrics and /healthz on this address", func(c *Config, v string) { c.Metrics.Addr = v })
	return f
}

// Apply copies every changed flag into cfg.
func (f *Flags) Apply(cfg *Config) {
	f.fs.VisitAll(func(fl *pflag.Flag) {
		if !fl.Changed {
			return
		}
		if set, ok := f.apply[fl.Name]; ok {
			set(cfg)
		}
	})
}

func (f *Flags) strFlag(name, def, usage string, set func(*Config, string)) {
	v := f.fs.String(name, def, usage)
	f.apply[name] = func(c *Config) { set(c, *v) }
}

func (f *Flags) intFlag(name string, def int, usage string, set func(*Config, int)) {
	v := f.fs.Int(name, def, usage)
	f.apply[name] = func(c *Config) { set(c, *v) }
}

func (f *Flags) floatFlag(name string, def float64, usage string, set func(*Config, float64)) {
	v := f.fs.Float64(name, def, usage)
	f.apply[name] = func(c *Config) { set(c, *v) }
}

func (f *Flags) boolFlag(name string, def bool, usage string, set func(*Config, bool)) {
	v := f.fs.Bool(name, def, usage)
	f.apply[name] = func(c *Config) { set(c, *v) }
}

func (f *Flags) intsFlag(name string, def []int, usage string, set func(*Config, []int)) {
	v := f.fs.IntSlice(name, def, usage)
	f.apply[name] = func(c *Config) { set(c, append([]int(nil), *v...)) }
}

func (f *Flags) floatsFlag(name string, def []float64, usage string, set func(*Config, []float64)) {
	v := f.fs.Float64Slice(name, def, usage)
	f.apply[name] = func(c *Config) { set(c, append([]float64(nil), *v...)) }
}
