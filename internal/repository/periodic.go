package repository

import (
	"context"
	"time"

	"github.com/reproq/reproq/internal/domain"
)

// PeriodicTaskRepository backs the Periodic Scheduler (spec.md §4.8).
type PeriodicTaskRepository interface {
	Upsert(ctx context.Context, t *domain.PeriodicTask) error
	Disable(ctx context.Context, name string) error

	// ClaimDue selects every enabled row with next_run_at <= now under
	// FOR UPDATE SKIP LOCKED so multiple scheduler replicas cooperate
	// without emitting duplicates (spec.md §4.8 step 1), and hands each
	// to fire, which synthesizes and enqueues the TaskRun and returns the
	// row's new next_run_at. ClaimDue persists last_run_at/next_run_at
	// for each row inside the same transaction.
	ClaimDue(ctx context.Context, now time.Time, limit int, fire func(*domain.PeriodicTask) (time.Time, error)) ([]*domain.PeriodicTask, error)
}
