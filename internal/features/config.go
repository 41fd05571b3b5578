// Package features builds the bar-aligned feature matrix: K-bar shape,
// rolling trend and volume families, FFD memory features and regime
// descriptors, plus the fill and standardization steps.
package features

import (
	"github.com/sawpanic/signalrun/internal/domain/fracdiff"
)

// Scope selects where standardization statistics come from.
type Scope string

const (
	ScopeGlobal Scope = "global" // fit once on every row
	ScopeFold   Scope = "fold"   // fit on each fold's training rows
)

// FFDConfig controls the fractionally differentiated columns.
type FFDConfig struct {
	Enabled bool `yaml:"enabled"`
	// D is used as-is unless CheckStationarity asks for a search.
	D                 float64               `yaml:"ffd_d" validate:"gte=0,lte=1"`
	CheckStationarity bool                  `yaml:"check_stationarity"`
	Threshold         float64               `yaml:"ffd_threshold" validate:"gt=0"`
	MaxWidth          int                   `yaml:"max_width" validate:"gte=0"`
	Search            fracdiff.SearchConfig `yaml:"-"` // set from the stationarity section
}

// Config lists the feature families to build.
type Config struct {
	Windows        []int     `yaml:"windows" validate:"min=1,dive,gt=0"`
	RegimeWindows  []int     `yaml:"regime_windows" validate:"dive,gt=2"`
	EntropyBins    int       `yaml:"entropy_bins" validate:"gte=2"`
	FFD            FFDConfig `yaml:"ffd"`
	NormalizeScope Scope     `yaml:"normalize_scope" validate:"omitempty,oneof=global fold"`
}

// DefaultConfig mirrors the Alpha158 window set.
func DefaultConfig() Config {
	return Config{
		Windows:       []int{5, 10, 20, 30, 60},
		RegimeWindows: []int{20, 60},
		EntropyBins:   10,
		FFD: FFDConfig{
			Enabled:           true,
			D:                 0.4,
			CheckStationarity: true,
			Threshold:         1e-4,
			MaxWidth:          fracdiff.DefaultMaxWidth,
			Search:            fracdiff.DefaultSearchConfig(),
		},
		NormalizeScope: ScopeGlobal,
	}
}
