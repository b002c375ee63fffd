package domain

import "errors"

var ErrWorkflowRunNotFound = errors.New("workflow run not found")

// WorkflowStatus is the aggregate status of a WorkflowRun fan-in counter.
type WorkflowStatus string

const (
	WorkflowPending           WorkflowStatus = "PENDING"
	WorkflowSucceeded         WorkflowStatus = "SUCCEEDED"
	WorkflowPartiallyFailed   WorkflowStatus = "PARTIALLY_FAILED"
)

// WorkflowRun is the fan-in counter backing a Chord callback (spec.md §3, §4.7).
type WorkflowRun struct {
	WorkflowID       string
	ExpectedCount    int32
	SuccessCount     int32
	FailureCount     int32
	CallbackResultID *int64
	Status           WorkflowStatus
}

// Done reports whether every predecessor has finalized.
func (w *WorkflowRun) Done() bool {
	return w.SuccessCount+w.FailureCount >= w.ExpectedCount
}
