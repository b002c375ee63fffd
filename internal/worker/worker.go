// Package worker ties the Claim Engine, Lease & Heartbeat Manager,
// Executor, and Attempt Finalizer into the bounded-concurrency attempt
// loop of spec.md §5 ("process model": one process, many concurrent
// attempt slots).
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/reproq/reproq/internal/claim"
	"github.com/reproq/reproq/internal/domain"
	"github.com/reproq/reproq/internal/executor"
	"github.com/reproq/reproq/internal/finalizer"
	"github.com/reproq/reproq/internal/lease"
	"github.com/reproq/reproq/internal/repository"
)

type Worker struct {
	id          string
	queues      []string
	repo        repository.TaskRunRepository
	workerRepo  repository.WorkerRepository
	claimEngine *claim.Engine
	leaseMgr    *lease.Manager
	executor    *executor.Executor
	finalizer   *finalizer.Finalizer
	concurrency int
	logger      *slog.Logger

	slots chan struct{}
}

func New(
	id string,
	queues []string,
	repo repository.TaskRunRepository,
	workerRepo repository.WorkerRepository,
	claimEngine *claim.Engine,
	leaseMgr *lease.Manager,
	exec *executor.Executor,
	final *finalizer.Finalizer,
	concurrency int,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:          id,
		queues:      queues,
		repo:        repo,
		workerRepo:  workerRepo,
		claimEngine: claimEngine,
		leaseMgr:    leaseMgr,
		executor:    exec,
		finalizer:   final,
		concurrency: concurrency,
		logger:      logger.With("component", "worker", "worker_id", id),
		slots:       make(chan struct{}, concurrency),
	}
}

// ID returns the worker's assigned identity, hostname-pid by default
// matching a scheduler's NewWorker convention.
func ID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// Start registers the worker and runs claim/lease concurrently until
// ctx is cancelled, then drains outstanding slots up to
// shutdownTimeout before returning.
func (w *Worker) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	now := time.Now().UTC()
	hostname, _ := os.Hostname()
	if err := w.workerRepo.Upsert(ctx, &domain.Worker{
		WorkerID:    w.id,
		Hostname:    hostname,
		Queues:      w.queues,
		Concurrency: int32(w.concurrency),
		StartedAt:   now,
		LastSeenAt:  now,
	}); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}

	w.logger.Info("worker started", "queues", w.queues, "concurrency", w.concurrency)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.leaseMgr.Run(ctx)
	}()

	var attempts sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			w.drain(&attempts, shutdownTimeout)
			w.logger.Info("worker shut down")
			return nil
		default:
		}

		available := w.availableSlots()
		if available == 0 {
			if !w.claimEngine.Next(ctx) {
				wg.Wait()
				w.drain(&attempts, shutdownTimeout)
				return nil
			}
			continue
		}

		if err := w.workerRepo.Touch(ctx, w.id, time.Now().UTC()); err != nil {
			w.logger.ErrorContext(ctx, "touch worker heartbeat failed", "error", err)
		}

		runs, err := w.claimEngine.Poll(ctx, w.id, w.queues, available)
		if err != nil {
			w.logger.ErrorContext(ctx, "poll failed", "error", err)
		}
		for _, run := range runs {
			w.acquireSlot()
			attempts.Add(1)
			go func(r *domain.TaskRun) {
				defer attempts.Done()
				defer w.releaseSlot()
				w.runAttempt(ctx, r)
			}(run)
		}

		if !w.claimEngine.Next(ctx) {
			wg.Wait()
			w.drain(&attempts, shutdownTimeout)
			return nil
		}
	}
}

func (w *Worker) runAttempt(ctx context.Context, run *domain.TaskRun) {
	w.logger.InfoContext(ctx, "executing attempt", "result_id", run.ResultID, "task_queue", run.QueueName, "attempt", run.Attempts)
	result := w.executor.Run(ctx, run)
	if err := w.finalizer.Finalize(ctx, run, result); err != nil {
		w.logger.ErrorContext(ctx, "finalize failed", "result_id", run.ResultID, "error", err)
	}
}

func (w *Worker) acquireSlot()      { w.slots <- struct{}{} }
func (w *Worker) releaseSlot()      { <-w.slots }
func (w *Worker) availableSlots() int {
	return cap(w.slots) - len(w.slots)
}

// drain waits up to timeout for in-flight attempts to finish, then
// returns regardless — spec.md §4.4's graceful shutdown releases
// leases rather than waiting indefinitely.
func (w *Worker) drain(attempts *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		attempts.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		w.logger.Warn("shutdown timeout elapsed with attempts still in flight")
	}
}
