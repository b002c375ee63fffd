package repotest

import (
	"context"

	"github.com/reproq/reproq/internal/domain"
)

// WorkflowRun is a fake repository.WorkflowRunRepository.
type WorkflowRun struct {
	CreateFunc        func(ctx context.Context, w *domain.WorkflowRun) error
	GetByIDFunc       func(ctx context.Context, workflowID string) (*domain.WorkflowRun, error)
	RecordOutcomeFunc func(ctx context.Context, workflowID string, succeeded bool) (*domain.WorkflowRun, error)

	Created []*domain.WorkflowRun
}

func (f *WorkflowRun) Create(ctx context.Context, w *domain.WorkflowRun) error {
	f.Created = append(f.Created, w)
	if f.CreateFunc != nil {
		return f.CreateFunc(ctx, w)
	}
	return nil
}

func (f *WorkflowRun) GetByID(ctx context.Context, workflowID string) (*domain.WorkflowRun, error) {
	if f.GetByIDFunc != nil {
		return f.GetByIDFunc(ctx, workflowID)
	}
	return nil, domain.ErrWorkflowRunNotFound
}

func (f *WorkflowRun) RecordOutcome(ctx context.Context, workflowID string, succeeded bool) (*domain.WorkflowRun, error) {
	if f.RecordOutcomeFunc != nil {
		return f.RecordOutcomeFunc(ctx, workflowID, succeeded)
	}
	return nil, domain.ErrWorkflowRunNotFound
}
