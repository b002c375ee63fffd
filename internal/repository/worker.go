package repository

import (
	"context"
	"time"

	"github.com/reproq/reproq/internal/domain"
)

// WorkerRepository maintains the reproq_workers heartbeat table
// (spec.md §3 "Worker").
type WorkerRepository interface {
	Upsert(ctx context.Context, w *domain.Worker) error
	Touch(ctx context.Context, workerID string, now time.Time) error
	Prune(ctx context.Context, inactiveSince time.Time) (int, error)
}
