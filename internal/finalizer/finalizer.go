// Package finalizer implements the Attempt Finalizer of spec.md §4.6:
// it records the outcome of a single attempt, applies the retry
// policy, and hands the result off to the Workflow Coordinator. The
// retry backoff curve is exponential with a cap and +-25% jitter,
// the same shape as a scheduler's retryDelay.
package finalizer

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/reproq/reproq/internal/domain"
	"github.com/reproq/reproq/internal/repository"
	"github.com/reproq/reproq/internal/workflow"
)

type Finalizer struct {
	repo        repository.TaskRunRepository
	coordinator *workflow.Coordinator
	workerID    string
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
}

func New(repo repository.TaskRunRepository, coordinator *workflow.Coordinator, workerID string, baseBackoff, maxBackoff time.Duration, logger *slog.Logger) *Finalizer {
	return &Finalizer{
		repo:        repo,
		coordinator: coordinator,
		workerID:    workerID,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		logger:      logger.With("component", "finalizer", "worker_id", workerID),
	}
}

// Finalize applies one attempt result to its task run (spec.md §4.6),
// then triggers workflow hand-off when the row belongs to a workflow.
func (f *Finalizer) Finalize(ctx context.Context, run *domain.TaskRun, out domain.AttemptResult) error {
	now := time.Now().UTC()
	var ok bool
	var terminal domain.Status
	var err error

	switch out.Outcome {
	case domain.OutcomeOK:
		ok, err = f.repo.MarkSuccessful(ctx, out.ResultID, f.workerID, out.ReturnValue, now)
		terminal = domain.StatusSuccessful
	case domain.OutcomeCancelled:
		ok, err = f.repo.MarkCancelled(ctx, out.ResultID, f.workerID, now)
		terminal = domain.StatusCancelled
	case domain.OutcomeFailed:
		errRecord := domain.ErrorRecord{Kind: domain.ErrorKindExecutionFailed, At: now}
		if out.Error != nil {
			errRecord = *out.Error
			errRecord.At = now
		}
		if run.Attempts < run.MaxAttempts {
			runAfter := now.Add(f.backoff(run.Attempts))
			ok, err = f.repo.MarkRetry(ctx, out.ResultID, f.workerID, errRecord, runAfter, now)
			terminal = domain.StatusReady
		} else {
			ok, err = f.repo.MarkTerminalFailure(ctx, out.ResultID, f.workerID, errRecord, now)
			terminal = domain.StatusFailed
		}
	}
	if err != nil {
		return err
	}
	if !ok {
		// Lease already changed hands or the row left RUNNING under us
		// (spec.md §7 "loser abandons the write"): nothing more to do.
		f.logger.WarnContext(ctx, "finalize skipped: run no longer owned", "result_id", out.ResultID)
		return nil
	}

	if terminal.Terminal() && run.WorkflowID != nil {
		succeeded := terminal == domain.StatusSuccessful
		if err := f.coordinator.OnFinalized(ctx, run, succeeded); err != nil {
			f.logger.ErrorContext(ctx, "workflow hand-off failed", "result_id", out.ResultID, "error", err)
			return err
		}
	}
	return nil
}

// backoff implements the non-decreasing, bounded curve required by
// spec.md §4.6: exponential growth from baseBackoff with +-25% jitter
// to avoid thundering herds, clipped to maxBackoff. Once the
// exponential term reaches maxBackoff the delay is exactly maxBackoff,
// so jitter never makes a later attempt wait less than an earlier one.
func (f *Finalizer) backoff(attempts int32) time.Duration {
	delay := time.Duration(float64(f.baseBackoff) * math.Pow(2, float64(attempts)))
	if delay >= f.maxBackoff || delay <= 0 {
		return f.maxBackoff
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	jitter := time.Duration(rand.Int63n(int64(half))) - half/2
	d := delay + jitter
	if d < 0 {
		d = delay
	}
	if d > f.maxBackoff {
		d = f.maxBackoff
	}
	return d
}
