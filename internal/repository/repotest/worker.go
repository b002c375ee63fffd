package repotest

import (
	"context"
	"time"

	"github.com/reproq/reproq/internal/domain"
)

// Worker is a fake repository.WorkerRepository.
type Worker struct {
	UpsertFunc func(ctx context.Context, w *domain.Worker) error
	TouchFunc  func(ctx context.Context, workerID string, now time.Time) error
	PruneFunc  func(ctx context.Context, inactiveSince time.Time) (int, error)
}

func (f *Worker) Upsert(ctx context.Context, w *domain.Worker) error {
	if f.UpsertFunc != nil {
		return f.UpsertFunc(ctx, w)
	}
	return nil
}

func (f *Worker) Touch(ctx context.Context, workerID string, now time.Time) error {
	if f.TouchFunc != nil {
		return f.TouchFunc(ctx, workerID, now)
	}
	return nil
}

func (f *Worker) Prune(ctx context.Context, inactiveSince time.Time) (int, error) {
	if f.PruneFunc != nil {
		return f.PruneFunc(ctx, inactiveSince)
	}
	return 0, nil
}
