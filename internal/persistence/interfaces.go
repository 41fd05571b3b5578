package persistence

import (
	"context"
	"time"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one pipeline invocation.
type Run struct {
	ID         string     `json:"id" db:"id"`
	Command    string     `json:"command" db:"command"`
	Status     string     `json:"status" db:"status"`
	Config     string     `json:"config" db:"config"` // JSON snapshot of the run configuration
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// StepResult records how one dispatcher step went.
type StepResult struct {
	RunID      string    `json:"run_id" db:"run_id"`
	Step       string    `json:"step" db:"step"`
	Status     string    `json:"status" db:"status"`
	Rows       int64     `json:"rows" db:"row_count"`
	DurationMS int64     `json:"duration_ms" db:"duration_ms"`
	Artifact   string    `json:"artifact" db:"artifact"`
	Note       string    `json:"note" db:"note"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// StationarityRecord is the selected differencing order of one series.
type StationarityRecord struct {
	RunID      string    `json:"run_id" db:"run_id"`
	Series     string    `json:"series" db:"series"`
	D          float64   `json:"d" db:"d"`
	PValue     float64   `json:"p_value" db:"p_value"`
	Stationary bool      `json:"stationary" db:"stationary"`
	Points     int       `json:"points" db:"points"` // grid positions evaluated
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// SweepRecord is one bars-per-day candidate of a sweep.
type SweepRecord struct {
	RunID       string  `json:"run_id" db:"run_id"`
	DailyTarget int     `json:"daily_target" db:"daily_target"`
	Bars        int     `json:"bars" db:"bars"`
	JB          float64 `json:"jb" db:"jb"`
	PValue      float64 `json:"p_value" db:"p_value"`
	Winner      bool    `json:"winner" db:"winner"`
}

// RunsRepo stores pipeline runs.
type RunsRepo interface {
	// Create inserts a run, or refreshes it if the id already exists
	Create(ctx context.Context, run Run) error

	// Finish stamps the terminal status
	Finish(ctx context.Context, id, status string, at time.Time) error

	Get(ctx context.Context, id string) (*Run, error)

	// ListRecent returns the newest runs first
	ListRecent(ctx context.Context, limit int) ([]Run, error)
}

// StepsRepo stores per-step outcomes.
type StepsRepo interface {
	Record(ctx context.Context, step StepResult) error
	ListByRun(ctx context.Context, runID string) ([]StepResult, error)
}

// StationarityRepo keeps the history of differencing searches.
type StationarityRepo interface {
	RecordBatch(ctx context.Context, records []StationarityRecord) error

	// ListBySeries returns the newest records for a series first
	ListBySeries(ctx context.Context, series string, limit int) ([]StationarityRecord, error)
}

// SweepRepo stores sweep candidates.
type SweepRepo interface {
	RecordBatch(ctx context.Context, records []SweepRecord) error
	ListByRun(ctx context.Context, runID string) ([]SweepRecord, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Runs         RunsRepo
	Steps        StepsRepo
	Stationarity StationarityRepo
	Sweeps       SweepRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error

	// Stats returns connection pool and query statistics
	Stats(ctx context.Context) map[string]interface{}
}
