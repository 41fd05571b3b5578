// Package config loads the per-run configuration: defaults, then the
// YAML file, then SIGNALRUN_* environment variables, then CLI flags.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/signalrun/internal/domain/bars"
	"github.com/sawpanic/signalrun/internal/domain/betsize"
	"github.com/sawpanic/signalrun/internal/domain/cv"
	"github.com/sawpanic/signalrun/internal/domain/fracdiff"
	"github.com/sawpanic/signalrun/internal/domain/labeling"
	"github.com/sawpanic/signalrun/internal/domain/weights"
	"github.com/sawpanic/signalrun/internal/features"
	"github.com/sawpanic/signalrun/internal/infrastructure/cache"
	"github.com/sawpanic/signalrun/internal/infrastructure/db"
	"github.com/sawpanic/signalrun/internal/meta"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SIGNALRUN"

// Config is the full run configuration
type Config struct {
	LogLevel     string                `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	Data         DataConfig            `yaml:"data" envconfig:"DATA"`
	Bars         bars.Config           `yaml:"bars" envconfig:"BARS"`
	Labels       LabelsConfig          `yaml:"labels" envconfig:"LABELS"`
	Features     features.Config       `yaml:"features" envconfig:"FEATURES"`
	Stationarity fracdiff.SearchConfig `yaml:"stationarity" envconfig:"STATIONARITY"`
	Weights      weights.Config        `yaml:"weights" envconfig:"WEIGHTS"`
	CV           cv.Config             `yaml:"cv" envconfig:"CV"`
	Meta         MetaConfig            `yaml:"meta" envconfig:"META"`
	Bet          betsize.Config        `yaml:"bet" envconfig:"BET"`
	Sweep        SweepConfig           `yaml:"sweep" envconfig:"SWEEP"`
	Ledger       db.Config             `yaml:"ledger" envconfig:"LEDGER"`
	Cache        cache.Config          `yaml:"cache" envconfig:"CACHE"`
	Metrics      MetricsConfig         `yaml:"metrics" envconfig:"METRICS"`
}

// DataConfig locates the input and the artifact directory
type DataConfig struct {
	Input        string `yaml:"input" envconfig:"INPUT"`
	ArtifactsDir string `yaml:"artifacts_dir" envconfig:"ARTIFACTS_DIR" validate:"required"`
}

// LabelsConfig drives volatility, event sampling and barrier placement
type LabelsConfig struct {
	Volatility labeling.VolatilityConfig `yaml:"volatility"`
	CUSUMK     float64                   `yaml:"cusum_k" envconfig:"CUSUM_K" validate:"gt=0"`
	// PTSL, when set, overrides Barrier.PT and Barrier.SL.
	PTSL    []float64              `yaml:"pt_sl" validate:"omitempty,len=2,dive,gte=0"`
	Barrier labeling.BarrierConfig `yaml:",inline"`
}

// MetaConfig tunes the classifiers of both stages
type MetaConfig struct {
	Logistic meta.LogisticConfig `yaml:"logistic"`
}

// SweepConfig lists the bars-per-day targets compared by the sweep
type SweepConfig struct {
	Targets []int `yaml:"targets" validate:"min=1,dive,gt=0"`
}

// MetricsConfig controls metric export
type MetricsConfig struct {
	// TextfilePath receives node-exporter textfile output at the end of a run.
	TextfilePath string `yaml:"textfile_path" envconfig:"OUT"`
	// Addr serves /metrics and /healthz while the run lasts when set.
	Addr string `yaml:"addr" envconfig:"ADDR"`
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		LogLevel:     "info",
		Data:         DataConfig{ArtifactsDir: "artifacts"},
		Bars:         bars.DefaultConfig(),
		Labels:       LabelsConfig{Volatility: labeling.DefaultVolatilityConfig(), CUSUMK: 1, Barrier: labeling.DefaultBarrierConfig()},
		Features:     features.DefaultConfig(),
		Stationarity: fracdiff.DefaultSearchConfig(),
		Weights:      weights.DefaultConfig(),
		CV:           cv.DefaultConfig(),
		Meta:         MetaConfig{Logistic: meta.DefaultLogisticConfig()},
		Bet:          betsize.Config{},
		Sweep:        SweepConfig{Targets: []int{20, 50, 100}},
		Ledger:       db.DefaultConfig(),
		Cache:        cache.DefaultConfig(),
	}
}

// Load builds a validated configuration. path may be empty; flags may be
// nil.
func Load(path string, flags *Flags) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if flags != nil {
		flags.Apply(&cfg)
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// resolve propagates the knobs that more than one component reads.
func (c *Config) resolve() {
	if len(c.Labels.PTSL) == 2 {
		c.Labels.Barrier.PT = c.Labels.PTSL[0]
		c.Labels.Barrier.SL = c.Labels.PTSL[1]
	}
	c.Features.FFD.Search = c.Stationarity
}

// Validate checks struct tags and the cross-field rules
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, formatFieldError(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	var problems []string
	if c.Ledger.Enabled && c.Ledger.DSN == "" {
		problems = append(problems, "ledger.dsn is required when the ledger is enabled")
	}
	if c.Stationarity.Step <= 0 || c.Stationarity.MaxD <= 0 || c.Stationarity.MaxD > 2 {
		problems = append(problems, "stationarity grid needs step > 0 and 0 < max_d <= 2")
	}
	if c.Stationarity.Alpha <= 0 || c.Stationarity.Alpha >= 1 {
		problems = append(problems, "stationarity.alpha must lie in (0, 1)")
	}
	if c.Labels.Barrier.PT == 0 && c.Labels.Barrier.SL == 0 && c.Labels.Barrier.ZeroOnVertical {
		problems = append(problems, "labels: both horizontal barriers disabled and vertical exits zeroed leaves every label 0")
	}
	if c.Bars.Mode == bars.ModeAdaptive && c.Bars.WarmupThreshold < 0 {
		problems = append(problems, "bars.warmup_threshold must be non-negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func formatFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "gt", "gte", "lt", "lte", "min", "max", "len":
		return fmt.Sprintf("%s fails %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s fails %s", field, fe.Tag())
	}
}

// JSON renders the configuration for the run ledger with credentials
// removed.
func (c *Config) JSON() string {
	redacted := *c
	redacted.Ledger.DSN = ""
	redacted.Cache.Password = ""
	raw, err := json.Marshal(redacted)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
