// Package lease implements the Lease & Heartbeat Manager of spec.md
// §4.4: a background ticker that extends leased_until on every RUNNING
// row a worker currently holds.
package lease

import (
	"context"
	"log/slog"
	"time"

	"github.com/reproq/reproq/internal/repository"
)

// Manager periodically extends the lease on every row a worker holds.
type Manager struct {
	repo     repository.TaskRunRepository
	workerID string
	interval time.Duration
	duration time.Duration
	logger   *slog.Logger
}

func New(repo repository.TaskRunRepository, workerID string, interval, duration time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		repo:     repo,
		workerID: workerID,
		interval: interval,
		duration: duration,
		logger:   logger.With("component", "lease", "worker_id", workerID),
	}
}

// Run extends leases on a ticker until ctx is done, then calls Release
// once to invite immediate reclaim of whatever is still outstanding
// (spec.md §4.4 "graceful shutdown releases rather than waiting out
// the lease").
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Release(context.Background())
			return
		case <-ticker.C:
			m.extend(ctx)
		}
	}
}

func (m *Manager) extend(ctx context.Context) {
	now := time.Now().UTC()
	n, err := m.repo.Heartbeat(ctx, m.workerID, now.Add(m.duration), now)
	if err != nil {
		m.logger.ErrorContext(ctx, "heartbeat failed", "error", err)
		return
	}
	if n > 0 {
		m.logger.DebugContext(ctx, "extended leases", "count", n)
	}
}

// Release marks every row this worker holds as immediately reclaimable.
func (m *Manager) Release(ctx context.Context) {
	n, err := m.repo.ReleaseLeases(ctx, m.workerID, time.Now().UTC())
	if err != nil {
		m.logger.ErrorContext(ctx, "release leases failed", "error", err)
		return
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "released leases for shutdown", "count", n)
	}
}
