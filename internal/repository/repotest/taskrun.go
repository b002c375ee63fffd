// Package repotest holds hand-written fakes for the repository
// interfaces, shared across the packages that sit directly on top of
// TaskRunRepository/WorkflowRunRepository (claim, finalizer, reclaim,
// workflow). Each fake exposes its inputs/outputs as plain fields so a
// test configures behavior by assignment rather than by recording
// expectations — func fields the test sets inline, generalized to
// interfaces too wide to comfortably inline per test file.
package repotest

import (
	"context"
	"time"

	"github.com/reproq/reproq/internal/domain"
)

// TaskRun is a fake repository.TaskRunRepository. Every method has a
// func field defaulting to a harmless zero-value response; tests
// override only the fields their scenario exercises.
type TaskRun struct {
	FindInFlightFunc     func(ctx context.Context, specHash string) (*domain.TaskRun, error)
	InsertFunc           func(ctx context.Context, run *domain.TaskRun) (*domain.TaskRun, error)
	BulkFindInFlightFunc func(ctx context.Context, hashes []string) (map[string]int64, error)
	BulkInsertFunc       func(ctx context.Context, runs []*domain.TaskRun) error
	GetByIDFunc          func(ctx context.Context, resultID int64) (*domain.TaskRun, error)
	ClaimFunc            func(ctx context.Context, workerID string, queues []string, maxN int, agingFactor, leaseSeconds time.Duration, now time.Time) ([]*domain.TaskRun, error)
	HeartbeatFunc        func(ctx context.Context, workerID string, leaseUntil, now time.Time) (int64, error)
	ReleaseLeasesFunc    func(ctx context.Context, workerID string, now time.Time) (int64, error)

	MarkSuccessfulFunc     func(ctx context.Context, resultID int64, workerID string, returnValue []byte, now time.Time) (bool, error)
	MarkRetryFunc          func(ctx context.Context, resultID int64, workerID string, errRecord domain.ErrorRecord, runAfter, now time.Time) (bool, error)
	MarkTerminalFailureFunc func(ctx context.Context, resultID int64, workerID string, errRecord domain.ErrorRecord, now time.Time) (bool, error)
	MarkCancelledFunc      func(ctx context.Context, resultID int64, workerID string, now time.Time) (bool, error)
	RequestCancelFunc      func(ctx context.Context, resultID int64) error

	ReclaimExpiredFunc func(ctx context.Context, graceCutoff time.Time, includeNullLease bool, limit int, now time.Time) (int, int, error)

	ReleaseChildrenFunc func(ctx context.Context, parentID int64) ([]int64, error)
	FailChildrenFunc    func(ctx context.Context, parentID int64, now time.Time) ([]int64, error)
	ReleaseCallbackFunc func(ctx context.Context, resultID int64) error
	FailCallbackFunc    func(ctx context.Context, resultID int64, now time.Time) error

	// MarkRetryCalls/MarkSuccessfulCalls etc. record every call for
	// assertions that need call counts, not just the last result.
	MarkRetryCalls          []int64
	MarkSuccessfulCalls     []int64
	MarkTerminalFailureCalls []int64
	MarkCancelledCalls      []int64
}

func (f *TaskRun) FindInFlight(ctx context.Context, specHash string) (*domain.TaskRun, error) {
	if f.FindInFlightFunc != nil {
		return f.FindInFlightFunc(ctx, specHash)
	}
	return nil, nil
}

func (f *TaskRun) Insert(ctx context.Context, run *domain.TaskRun) (*domain.TaskRun, error) {
	if f.InsertFunc != nil {
		return f.InsertFunc(ctx, run)
	}
	return run, nil
}

func (f *TaskRun) BulkFindInFlight(ctx context.Context, hashes []string) (map[string]int64, error) {
	if f.BulkFindInFlightFunc != nil {
		return f.BulkFindInFlightFunc(ctx, hashes)
	}
	return map[string]int64{}, nil
}

func (f *TaskRun) BulkInsert(ctx context.Context, runs []*domain.TaskRun) error {
	if f.BulkInsertFunc != nil {
		return f.BulkInsertFunc(ctx, runs)
	}
	return nil
}

func (f *TaskRun) GetByID(ctx context.Context, resultID int64) (*domain.TaskRun, error) {
	if f.GetByIDFunc != nil {
		return f.GetByIDFunc(ctx, resultID)
	}
	return nil, domain.ErrTaskRunNotFound
}

func (f *TaskRun) Claim(ctx context.Context, workerID string, queues []string, maxN int, agingFactor, leaseSeconds time.Duration, now time.Time) ([]*domain.TaskRun, error) {
	if f.ClaimFunc != nil {
		return f.ClaimFunc(ctx, workerID, queues, maxN, agingFactor, leaseSeconds, now)
	}
	return nil, nil
}

func (f *TaskRun) Heartbeat(ctx context.Context, workerID string, leaseUntil, now time.Time) (int64, error) {
	if f.HeartbeatFunc != nil {
		return f.HeartbeatFunc(ctx, workerID, leaseUntil, now)
	}
	return 0, nil
}

func (f *TaskRun) ReleaseLeases(ctx context.Context, workerID string, now time.Time) (int64, error) {
	if f.ReleaseLeasesFunc != nil {
		return f.ReleaseLeasesFunc(ctx, workerID, now)
	}
	return 0, nil
}

func (f *TaskRun) MarkSuccessful(ctx context.Context, resultID int64, workerID string, returnValue []byte, now time.Time) (bool, error) {
	f.MarkSuccessfulCalls = append(f.MarkSuccessfulCalls, resultID)
	if f.MarkSuccessfulFunc != nil {
		return f.MarkSuccessfulFunc(ctx, resultID, workerID, returnValue, now)
	}
	return true, nil
}

func (f *TaskRun) MarkRetry(ctx context.Context, resultID int64, workerID string, errRecord domain.ErrorRecord, runAfter, now time.Time) (bool, error) {
	f.MarkRetryCalls = append(f.MarkRetryCalls, resultID)
	if f.MarkRetryFunc != nil {
		return f.MarkRetryFunc(ctx, resultID, workerID, errRecord, runAfter, now)
	}
	return true, nil
}

func (f *TaskRun) MarkTerminalFailure(ctx context.Context, resultID int64, workerID string, errRecord domain.ErrorRecord, now time.Time) (bool, error) {
	f.MarkTerminalFailureCalls = append(f.MarkTerminalFailureCalls, resultID)
	if f.MarkTerminalFailureFunc != nil {
		return f.MarkTerminalFailureFunc(ctx, resultID, workerID, errRecord, now)
	}
	return true, nil
}

func (f *TaskRun) MarkCancelled(ctx context.Context, resultID int64, workerID string, now time.Time) (bool, error) {
	f.MarkCancelledCalls = append(f.MarkCancelledCalls, resultID)
	if f.MarkCancelledFunc != nil {
		return f.MarkCancelledFunc(ctx, resultID, workerID, now)
	}
	return true, nil
}

func (f *TaskRun) RequestCancel(ctx context.Context, resultID int64) error {
	if f.RequestCancelFunc != nil {
		return f.RequestCancelFunc(ctx, resultID)
	}
	return nil
}

func (f *TaskRun) ReclaimExpired(ctx context.Context, graceCutoff time.Time, includeNullLease bool, limit int, now time.Time) (int, int, error) {
	if f.ReclaimExpiredFunc != nil {
		return f.ReclaimExpiredFunc(ctx, graceCutoff, includeNullLease, limit, now)
	}
	return 0, 0, nil
}

func (f *TaskRun) ReleaseChildren(ctx context.Context, parentID int64) ([]int64, error) {
	if f.ReleaseChildrenFunc != nil {
		return f.ReleaseChildrenFunc(ctx, parentID)
	}
	return nil, nil
}

func (f *TaskRun) FailChildren(ctx context.Context, parentID int64, now time.Time) ([]int64, error) {
	if f.FailChildrenFunc != nil {
		return f.FailChildrenFunc(ctx, parentID, now)
	}
	return nil, nil
}

func (f *TaskRun) ReleaseCallback(ctx context.Context, resultID int64) error {
	if f.ReleaseCallbackFunc != nil {
		return f.ReleaseCallbackFunc(ctx, resultID)
	}
	return nil
}

func (f *TaskRun) FailCallback(ctx context.Context, resultID int64, now time.Time) error {
	if f.FailCallbackFunc != nil {
		return f.FailCallbackFunc(ctx, resultID, now)
	}
	return nil
}
