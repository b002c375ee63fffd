package producer

import (
	"context"
	"time"

	"github.com/reproq/reproq/internal/domain"
	"github.com/reproq/reproq/internal/repository"
)

// Handle is the opaque deferred-result reference of spec.md §9: an
// id plus a read operation against the store, rather than a future
// object holding the value directly.
type Handle struct {
	ResultID int64
	repo     repository.TaskRunRepository
}

// Get reads the current row.
func (h Handle) Get(ctx context.Context) (*domain.TaskRun, error) {
	return h.repo.GetByID(ctx, h.ResultID)
}

// Wait polls with bounded exponential backoff until the row reaches a
// terminal status or ctx is done (spec.md §9 "Waiting is a bounded-
// backoff poll").
func (h Handle) Wait(ctx context.Context, minInterval, maxInterval time.Duration) (*domain.TaskRun, error) {
	interval := minInterval
	for {
		run, err := h.repo.GetByID(ctx, h.ResultID)
		if err != nil {
			return nil, err
		}
		if run.Status.Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		interval *= 2
		if interval > maxInterval {
			interval = maxInterval
		}
	}
}
