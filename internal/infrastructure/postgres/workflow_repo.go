package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reproq/reproq/internal/domain"
)

type WorkflowRunRepository struct {
	pool *pgxpool.Pool
}

func NewWorkflowRunRepository(pool *pgxpool.Pool) *WorkflowRunRepository {
	return &WorkflowRunRepository{pool: pool}
}

func (r *WorkflowRunRepository) Create(ctx context.Context, w *domain.WorkflowRun) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO workflow_runs (workflow_id, expected_count, success_count, failure_count, callback_result_id, status)
		VALUES ($1, $2, 0, 0, $3, 'PENDING')`,
		w.WorkflowID, w.ExpectedCount, w.CallbackResultID,
	)
	return err
}

func scanWorkflowRun(row pgx.Row) (*domain.WorkflowRun, error) {
	var w domain.WorkflowRun
	err := row.Scan(&w.WorkflowID, &w.ExpectedCount, &w.SuccessCount, &w.FailureCount, &w.CallbackResultID, &w.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkflowRunNotFound
		}
		return nil, fmt.Errorf("scan workflow run: %w", err)
	}
	return &w, nil
}

func (r *WorkflowRunRepository) GetByID(ctx context.Context, workflowID string) (*domain.WorkflowRun, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT workflow_id, expected_count, success_count, failure_count, callback_result_id, status
		FROM workflow_runs WHERE workflow_id = $1`, workflowID)
	return scanWorkflowRun(row)
}

// RecordOutcome implements the increment-then-check pattern of spec.md
// §4.7: lock the WorkflowRun row, bump the relevant counter, and return
// the post-update state so the caller can decide whether the callback
// is now releasable. success_count + failure_count <= expected_count
// is enforced by the workflow_runs_counts_check constraint.
func (r *WorkflowRunRepository) RecordOutcome(ctx context.Context, workflowID string, succeeded bool) (*domain.WorkflowRun, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin workflow tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT workflow_id, expected_count, success_count, failure_count, callback_result_id, status
		FROM workflow_runs WHERE workflow_id = $1 FOR UPDATE`, workflowID)
	w, err := scanWorkflowRun(row)
	if err != nil {
		return nil, err
	}

	column := "failure_count"
	if succeeded {
		column = "success_count"
	}
	updateRow := tx.QueryRow(ctx, fmt.Sprintf(`
		UPDATE workflow_runs SET %s = %s + 1
		WHERE workflow_id = $1
		RETURNING workflow_id, expected_count, success_count, failure_count, callback_result_id, status`, column, column),
		workflowID,
	)
	w, err = scanWorkflowRun(updateRow)
	if err != nil {
		return nil, fmt.Errorf("record workflow outcome: %w", err)
	}

	if w.Done() {
		status := string(domain.WorkflowSucceeded)
		if w.FailureCount > 0 {
			status = string(domain.WorkflowPartiallyFailed)
		}
		if _, err := tx.Exec(ctx, `UPDATE workflow_runs SET status = $2 WHERE workflow_id = $1`, workflowID, status); err != nil {
			return nil, fmt.Errorf("finalize workflow status: %w", err)
		}
		if succeeded || w.FailureCount > 0 {
			w.Status = domain.WorkflowStatus(status)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit workflow tx: %w", err)
	}
	return w, nil
}
