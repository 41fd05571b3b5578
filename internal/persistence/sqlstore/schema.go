// Package sqlstore implements the run ledger repositories over sqlx. The
// statements are written with '?' placeholders and rebound per driver, so
// the same code serves PostgreSQL and SQLite.
package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		command     TEXT NOT NULL,
		status      TEXT NOT NULL,
		config      TEXT NOT NULL,
		started_at  TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NULL
	)`,
	`CREATE TABLE IF NOT EXISTS step_results (
		run_id      TEXT NOT NULL,
		step        TEXT NOT NULL,
		status      TEXT NOT NULL,
		row_count   BIGINT NOT NULL,
		duration_ms BIGINT NOT NULL,
		artifact    TEXT NOT NULL,
		note        TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS step_results_run_idx ON step_results (run_id)`,
	`CREATE TABLE IF NOT EXISTS stationarity_history (
		run_id     TEXT NOT NULL,
		series     TEXT NOT NULL,
		d          DOUBLE PRECISION NOT NULL,
		p_value    DOUBLE PRECISION NOT NULL,
		stationary BOOLEAN NOT NULL,
		points     INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS stationarity_series_idx ON stationarity_history (series, created_at)`,
	`CREATE TABLE IF NOT EXISTS sweep_results (
		run_id       TEXT NOT NULL,
		daily_target INTEGER NOT NULL,
		bars         INTEGER NOT NULL,
		jb           DOUBLE PRECISION NOT NULL,
		p_value      DOUBLE PRECISION NOT NULL,
		winner       BOOLEAN NOT NULL
	)`,
}

// Migrate creates the ledger tables when they are missing.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
