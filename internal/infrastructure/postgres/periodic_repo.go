package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reproq/reproq/internal/domain"
)

type PeriodicTaskRepository struct {
	pool *pgxpool.Pool
}

func NewPeriodicTaskRepository(pool *pgxpool.Pool) *PeriodicTaskRepository {
	return &PeriodicTaskRepository{pool: pool}
}

func (r *PeriodicTaskRepository) Upsert(ctx context.Context, t *domain.PeriodicTask) error {
	payload := t.Payload
	if payload == nil {
		payload = []byte(`{}`)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO periodic_tasks (name, cron_expr, task_path, payload, queue_name, priority, max_attempts, next_run_at, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		ON CONFLICT (name) DO UPDATE
		SET cron_expr = EXCLUDED.cron_expr,
		    task_path = EXCLUDED.task_path,
		    payload = EXCLUDED.payload,
		    queue_name = EXCLUDED.queue_name,
		    priority = EXCLUDED.priority,
		    max_attempts = EXCLUDED.max_attempts,
		    enabled = TRUE,
		    updated_at = now()`,
		t.Name, t.CronExpr, t.TaskPath, payload, t.QueueName, t.Priority, t.MaxAttempts, t.NextRunAt,
	)
	return err
}

// Disable marks a removed registry entry disabled rather than deleting
// it (spec.md §3 "PeriodicTask" lifecycle).
func (r *PeriodicTaskRepository) Disable(ctx context.Context, name string) error {
	_, err := r.pool.Exec(ctx, `UPDATE periodic_tasks SET enabled = FALSE, updated_at = now() WHERE name = $1`, name)
	return err
}

func scanPeriodicTask(row pgx.Row) (*domain.PeriodicTask, error) {
	var t domain.PeriodicTask
	var payload []byte
	err := row.Scan(&t.Name, &t.CronExpr, &t.TaskPath, &payload, &t.QueueName, &t.Priority,
		&t.MaxAttempts, &t.LastRunAt, &t.NextRunAt, &t.Enabled, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Payload = payload
	return &t, nil
}

// ClaimDue implements the transaction of spec.md §4.8: lock every due,
// enabled row with SKIP LOCKED so concurrent scheduler replicas never
// double-fire the same tick, invoke fire for each to synthesize and
// dedup-insert its TaskRun, then persist last_run_at/next_run_at.
func (r *PeriodicTaskRepository) ClaimDue(ctx context.Context, now time.Time, limit int, fire func(*domain.PeriodicTask) (time.Time, error)) ([]*domain.PeriodicTask, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin periodic tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT name, cron_expr, task_path, payload, queue_name, priority,
		       max_attempts, last_run_at, next_run_at, enabled, created_at, updated_at
		FROM periodic_tasks
		WHERE enabled = TRUE AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select due periodic tasks: %w", err)
	}

	var due []*domain.PeriodicTask
	for rows.Next() {
		t, err := scanPeriodicTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		due = append(due, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var fired []*domain.PeriodicTask
	for _, t := range due {
		nextRun, err := fire(t)
		if err != nil {
			return nil, fmt.Errorf("fire periodic task %s: %w", t.Name, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE periodic_tasks SET last_run_at = $2, next_run_at = $3, updated_at = $2
			WHERE name = $1`,
			t.Name, now, nextRun,
		); err != nil {
			return nil, fmt.Errorf("advance periodic task %s: %w", t.Name, err)
		}
		t.LastRunAt = &now
		t.NextRunAt = nextRun
		fired = append(fired, t)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit periodic tx: %w", err)
	}
	return fired, nil
}
