// Package claim implements the Claim Engine of spec.md §4.3: repeated
// polling of TaskRunRepository.Claim with bounded exponential backoff
// on empty polls, in the style of a scheduler's worker poll loop.
package claim

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/reproq/reproq/internal/domain"
	"github.com/reproq/reproq/internal/repository"
)

// Policy bounds the poll interval (spec.md §4.3 "Claim failure modes":
// empty claims back off, successful claims reset to the floor).
type Policy struct {
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	AgingFactor  time.Duration
	LeaseSeconds time.Duration
}

// Engine wraps a TaskRunRepository with the polling and backoff policy
// of spec.md §4.3.
type Engine struct {
	repo     repository.TaskRunRepository
	policy   Policy
	logger   *slog.Logger
	interval time.Duration
}

func New(repo repository.TaskRunRepository, policy Policy, logger *slog.Logger) *Engine {
	return &Engine{
		repo:     repo,
		policy:   policy,
		logger:   logger.With("component", "claim"),
		interval: policy.MinBackoff,
	}
}

// Poll attempts a single claim of up to maxN rows across queues, then
// adjusts the internal backoff interval for the next call to Next.
func (e *Engine) Poll(ctx context.Context, workerID string, queues []string, maxN int) ([]*domain.TaskRun, error) {
	now := time.Now().UTC()
	runs, err := e.repo.Claim(ctx, workerID, queues, maxN, e.policy.AgingFactor, e.policy.LeaseSeconds, now)
	if err != nil {
		e.logger.ErrorContext(ctx, "claim failed", "error", err)
		e.backoff()
		return nil, err
	}

	if len(runs) == 0 {
		e.backoff()
		return nil, nil
	}

	e.interval = e.policy.MinBackoff
	e.logger.DebugContext(ctx, "claimed task runs", "count", len(runs), "worker_id", workerID)
	return runs, nil
}

// Next blocks for the current backoff interval (or until ctx is done),
// returning false if ctx ended first.
func (e *Engine) Next(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(e.jittered()):
		return true
	}
}

func (e *Engine) backoff() {
	next := time.Duration(float64(e.interval) * 2)
	e.interval = time.Duration(math.Min(float64(next), float64(e.policy.MaxBackoff)))
	if e.interval < e.policy.MinBackoff {
		e.interval = e.policy.MinBackoff
	}
}

// jittered returns the current interval +-25%, the same retryDelay
// jitter shape used elsewhere in this module.
func (e *Engine) jittered() time.Duration {
	if e.interval <= 0 {
		return e.policy.MinBackoff
	}
	half := e.interval / 2
	if half <= 0 {
		return e.interval
	}
	jitter := time.Duration(rand.Int63n(int64(half))) - half/2
	d := e.interval + jitter
	if d < 0 {
		d = e.interval
	}
	return d
}
