// Package artifacts persists the intermediate step outputs as parquet
// files. File names and column sets are the contract between steps.
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// Contract file names.
const (
	Thresholds    = "thresholds.parquet"
	DollarBars    = "dollar_bars.parquet"
	Events        = "events.parquet"
	Labeled       = "labeled.parquet"
	Features      = "features.parquet"
	SampleWeights = "sample_weights.parquet"
	CVFolds       = "cv_folds.parquet"
	Stationarity  = "stationarity.parquet"
	Predictions   = "predictions.parquet"
	BetSizes      = "bet_sizes.parquet"
)

// Store reads and writes artifacts below one directory.
type Store struct {
	Dir string
}

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir %s: %w", dir, err)
	}
	return &Store{Dir: dir}, nil
}

// Path returns the location of a named artifact.
func (s *Store) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// Exists reports whether the named artifact is present.
func (s *Store) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && !info.IsDir()
}

// ErrMissing is returned when reading an artifact that was never written.
var ErrMissing = errors.New("artifact missing")

// write replaces the artifact atomically so an interrupted step never
// leaves a truncated file that a later run would skip over.
func write[T any](s *Store, name string, rows []T) error {
	final := s.Path(name)
	tmp := final + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return nil
}

func read[T any](s *Store, name string) ([]T, error) {
	rows, err := parquet.ReadFile[T](s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissing, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return rows, nil
}
