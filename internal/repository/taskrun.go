package repository

import (
	"context"
	"time"

	"github.com/reproq/reproq/internal/domain"
)

// TaskRunRepository is the sole writer surface for TaskRun state
// transitions (spec.md §3 "Ownership"). Every method here either
// performs, or participates in, one of the short transactions of
// spec.md §5 — nothing here holds a lock across a subprocess call.
type TaskRunRepository interface {
	// FindInFlight returns the row with the given spec hash in
	// {READY, RUNNING}, if one exists — the dedup check of spec.md §4.2
	// step 6.
	FindInFlight(ctx context.Context, specHash string) (*domain.TaskRun, error)

	// Insert creates a new READY (or WAITING, for workflow children) row.
	// It returns domain.ErrEnqueueConflict whenever the partial unique
	// index on spec_hash rejects the insert; retrying after a conflict
	// (spec.md §4.2 step 7) is left to the caller.
	Insert(ctx context.Context, run *domain.TaskRun) (*domain.TaskRun, error)

	// BulkFindInFlight resolves dedup matches for up to len(hashes) hashes
	// in one round trip (spec.md §4.2 "Bulk enqueue", chunked by the
	// caller to <=1000).
	BulkFindInFlight(ctx context.Context, hashes []string) (map[string]int64, error)

	// BulkInsert inserts every run not already matched by
	// BulkFindInFlight, ignoring conflicts on spec_hash. It sets ResultID
	// on each run it inserts; a run skipped by a conflict keeps ResultID 0.
	BulkInsert(ctx context.Context, runs []*domain.TaskRun) error

	GetByID(ctx context.Context, resultID int64) (*domain.TaskRun, error)

	// Claim atomically transitions up to maxN READY rows across queues
	// to RUNNING under the full predicate of spec.md §4.3, in a single
	// SKIP LOCKED transaction that also consumes rate-limit tokens.
	Claim(ctx context.Context, workerID string, queues []string, maxN int, agingFactor time.Duration, leaseSeconds time.Duration, now time.Time) ([]*domain.TaskRun, error)

	// Heartbeat extends the lease on every RUNNING row currently leased
	// by workerID (spec.md §4.4).
	Heartbeat(ctx context.Context, workerID string, leaseUntil time.Time, now time.Time) (int64, error)

	// ReleaseLeases sets leased_until = now for every RUNNING row leased
	// by workerID, inviting reclaim — used on graceful shutdown
	// (spec.md §4.4).
	ReleaseLeases(ctx context.Context, workerID string, now time.Time) (int64, error)

	// MarkSuccessful, MarkRetry, MarkTerminalFailure and MarkCancelled
	// implement the Attempt Finalizer transitions of spec.md §4.6. Each
	// returns (ok=false, nil) without error when the row is no longer
	// owned by workerID (leased_by mismatch or status changed under the
	// caller) — the "loser abandons the write" rule of spec.md §7.
	MarkSuccessful(ctx context.Context, resultID int64, workerID string, returnValue []byte, now time.Time) (bool, error)
	MarkRetry(ctx context.Context, resultID int64, workerID string, errRecord domain.ErrorRecord, runAfter time.Time, now time.Time) (bool, error)
	MarkTerminalFailure(ctx context.Context, resultID int64, workerID string, errRecord domain.ErrorRecord, now time.Time) (bool, error)
	MarkCancelled(ctx context.Context, resultID int64, workerID string, now time.Time) (bool, error)

	// RequestCancel sets cancel_requested = TRUE (operator control,
	// spec.md §5).
	RequestCancel(ctx context.Context, resultID int64) error

	// ReclaimExpired finds RUNNING rows with an expired (or, if
	// includeNullLease, absent) lease and either requeues or
	// terminally fails them, per spec.md §4.5. It returns the number
	// requeued and the number failed.
	ReclaimExpired(ctx context.Context, graceCutoff time.Time, includeNullLease bool, limit int, now time.Time) (requeued int, failed int, err error)

	// ReleaseChildren decrements wait_count for every WAITING row whose
	// parent_id = parentID, transitioning any that reach zero to READY,
	// and returns their result_ids (spec.md §4.7 chain).
	ReleaseChildren(ctx context.Context, parentID int64) ([]int64, error)

	// FailChildren transitions every WAITING row whose parent_id =
	// parentID to FAILED with a parent_failed error record (spec.md §4.7
	// chain, parent failure).
	FailChildren(ctx context.Context, parentID int64, now time.Time) ([]int64, error)

	// ReleaseCallback decrements the wait_count of a chord callback row
	// to zero and transitions it to READY (spec.md §4.7 chord, all
	// predecessors succeeded).
	ReleaseCallback(ctx context.Context, resultID int64) error

	// FailCallback transitions a chord callback to FAILED with a
	// chord_partial_failure error record (spec.md §4.7 chord, any
	// predecessor failed).
	FailCallback(ctx context.Context, resultID int64, now time.Time) error
}
