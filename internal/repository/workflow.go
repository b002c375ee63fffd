package repository

import (
	"context"

	"github.com/reproq/reproq/internal/domain"
)

// WorkflowRunRepository maintains chord fan-in counters (spec.md §3,
// §4.7).
type WorkflowRunRepository interface {
	Create(ctx context.Context, w *domain.WorkflowRun) error
	GetByID(ctx context.Context, workflowID string) (*domain.WorkflowRun, error)

	// RecordOutcome atomically increments success_count or
	// failure_count under a row-level lock and returns the post-update
	// state, implementing the "increment-then-check" pattern required
	// by spec.md §4.7 and the invariant of spec.md §8
	// ("success_count + failure_count <= expected_count always").
	RecordOutcome(ctx context.Context, workflowID string, succeeded bool) (*domain.WorkflowRun, error)
}
