// Package reclaim implements the Reaper of spec.md §4.5: a ticking
// background loop that requeues or terminally fails RUNNING rows
// whose lease has expired.
package reclaim

import (
	"context"
	"log/slog"
	"time"

	"github.com/reproq/reproq/internal/repository"
)

type Reaper struct {
	repo             repository.TaskRunRepository
	interval         time.Duration
	grace            time.Duration
	includeNullLease bool
	batchSize        int
	logger           *slog.Logger
}

func New(repo repository.TaskRunRepository, interval, grace time.Duration, includeNullLease bool, batchSize int, logger *slog.Logger) *Reaper {
	return &Reaper{
		repo:             repo,
		interval:         interval,
		grace:            grace,
		includeNullLease: includeNullLease,
		batchSize:        batchSize,
		logger:           logger.With("component", "reaper"),
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "grace", r.grace)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *Reaper) reap(ctx context.Context) {
	now := time.Now().UTC()
	cutoff := now.Add(-r.grace)

	requeued, failed, err := r.repo.ReclaimExpired(ctx, cutoff, r.includeNullLease, r.batchSize, now)
	if err != nil {
		r.logger.ErrorContext(ctx, "reclaim expired failed", "error", err)
		return
	}
	if requeued > 0 {
		r.logger.InfoContext(ctx, "requeued expired-lease runs", "count", requeued)
	}
	if failed > 0 {
		r.logger.InfoContext(ctx, "terminally failed expired-lease runs", "count", failed)
	}
}
