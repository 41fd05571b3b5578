package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/signalrun/internal/persistence"
)

type stationarityRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStationarityRepo creates a stationarity history repository
func NewStationarityRepo(db *sqlx.DB, timeout time.Duration) persistence.StationarityRepo {
	return &stationarityRepo{db: db, timeout: timeout}
}

// RecordBatch inserts all records in one transaction
func (r *stationarityRepo) RecordBatch(ctx context.Context, records []persistence.StationarityRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := tx.Rebind(`
		INSERT INTO stationarity_history (run_id, series, d, p_value, stationary, points, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	now := time.Now().UTC()
	for _, rec := range records {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx, query, rec.RunID, rec.Series, rec.D, rec.PValue,
			rec.Stationary, rec.Points, rec.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to insert stationarity record for %s: %w", rec.Series, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stationarity records: %w", err)
	}
	return nil
}

// ListBySeries returns the newest records for a series first
func (r *stationarityRepo) ListBySeries(ctx context.Context, series string, limit int) ([]persistence.StationarityRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := r.db.Rebind(`
		SELECT run_id, series, d, p_value, stationary, points, created_at
		FROM stationarity_history
		WHERE series = ?
		ORDER BY created_at DESC
		LIMIT ?`)

	var out []persistence.StationarityRecord
	if err := r.db.SelectContext(ctx, &out, query, series, limit); err != nil {
		return nil, fmt.Errorf("failed to list stationarity history: %w", err)
	}
	return out, nil
}

type sweepRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSweepRepo creates a sweep result repository
func NewSweepRepo(db *sqlx.DB, timeout time.Duration) persistence.SweepRepo {
	return &sweepRepo{db: db, timeout: timeout}
}

func (r *sweepRepo) RecordBatch(ctx context.Context, records []persistence.SweepRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := tx.Rebind(`
		INSERT INTO sweep_results (run_id, daily_target, bars, jb, p_value, winner)
		VALUES (?, ?, ?, ?, ?, ?)`)
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, query, rec.RunID, rec.DailyTarget, rec.Bars,
			rec.JB, rec.PValue, rec.Winner); err != nil {
			return fmt.Errorf("failed to insert sweep result for target %d: %w", rec.DailyTarget, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sweep results: %w", err)
	}
	return nil
}

func (r *sweepRepo) ListByRun(ctx context.Context, runID string) ([]persistence.SweepRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := r.db.Rebind(`
		SELECT run_id, daily_target, bars, jb, p_value, winner
		FROM sweep_results
		WHERE run_id = ?
		ORDER BY jb ASC`)

	var out []persistence.SweepRecord
	if err := r.db.SelectContext(ctx, &out, query, runID); err != nil {
		return nil, fmt.Errorf("failed to list sweep results: %w", err)
	}
	return out, nil
}
