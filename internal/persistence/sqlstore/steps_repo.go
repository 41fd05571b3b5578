package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/signalrun/internal/persistence"
)

type stepsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStepsRepo creates a step result repository
func NewStepsRepo(db *sqlx.DB, timeout time.Duration) persistence.StepsRepo {
	return &stepsRepo{db: db, timeout: timeout}
}

func (r *stepsRepo) Record(ctx context.Context, step persistence.StepResult) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now()
	}
	query := r.db.Rebind(`
		INSERT INTO step_results (run_id, step, status, row_count, duration_ms, artifact, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		step.RunID, step.Step, step.Status, step.Rows, step.DurationMS,
		step.Artifact, step.Note, step.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record step %s: %w", step.Step, err)
	}
	return nil
}

func (r *stepsRepo) ListByRun(ctx context.Context, runID string) ([]persistence.StepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := r.db.Rebind(`
		SELECT run_id, step, status, row_count, duration_ms, artifact, note, created_at
		FROM step_results
		WHERE run_id = ?
		ORDER BY created_at ASC`)

	rows, err := r.db.QueryxContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []persistence.StepResult
	for rows.Next() {
		var s persistence.StepResult
		if err := rows.Scan(&s.RunID, &s.Step, &s.Status, &s.Rows, &s.DurationMS,
			&s.Artifact, &s.Note, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return steps, nil
}
