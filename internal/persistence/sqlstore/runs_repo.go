package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/signalrun/internal/persistence"
)

// runsRepo implements persistence.RunsRepo
type runsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunsRepo creates a run repository
func NewRunsRepo(db *sqlx.DB, timeout time.Duration) persistence.RunsRepo {
	return &runsRepo{db: db, timeout: timeout}
}

// Create inserts a run, refreshing status and config on id conflict
func (r *runsRepo) Create(ctx context.Context, run persistence.Run) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.Status == "" {
		run.Status = persistence.StatusRunning
	}

	query := r.db.Rebind(`
		INSERT INTO runs (id, command, status, config, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			config = EXCLUDED.config`)

	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.Command, run.Status, run.Config, run.StartedAt.UTC(), run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Finish stamps the terminal status of a run
func (r *runsRepo) Finish(ctx context.Context, id, status string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := r.db.Rebind(`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, status, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// Get retrieves one run, or nil when it does not exist
func (r *runsRepo) Get(ctx context.Context, id string) (*persistence.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := r.db.Rebind(`
		SELECT id, command, status, config, started_at, finished_at
		FROM runs
		WHERE id = ?`)

	var run persistence.Run
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRecent returns the newest runs first
func (r *runsRepo) ListRecent(ctx context.Context, limit int) ([]persistence.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := r.db.Rebind(`
		SELECT id, command, status, config, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`)

	var runs []persistence.Run
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
