package ingest

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/sawpanic/signalrun/internal/domain/bars"
	"github.com/sawpanic/signalrun/internal/domain/errs"
)

// Source is a closable chunk source over one input file.
type Source interface {
	bars.ChunkSource
	Columns() []string
	Close() error
}

// Open picks the reader from the file extension.
func Open(path string, opts Options) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return OpenCSV(path, opts)
	case ".parquet", ".pq":
		return OpenParquet(path, opts)
	default:
		return nil, errs.Shape("unsupported input format %q", filepath.Ext(path))
	}
}

// ReadAll drains src into memory.
func ReadAll(ctx context.Context, src bars.ChunkSource) ([]bars.Tick, error) {
	var out []bars.Tick
	for {
		chunk, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
}

func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
