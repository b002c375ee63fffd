package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reproq/reproq/internal/domain"
	"github.com/reproq/reproq/internal/repository"
)

// Coordinator reacts to a finalized task run's membership in a
// workflow (spec.md §4.7), called by the Attempt Finalizer once a run
// reaches a terminal status.
type Coordinator struct {
	taskRepo     repository.TaskRunRepository
	workflowRepo repository.WorkflowRunRepository
	logger       *slog.Logger
}

func NewCoordinator(taskRepo repository.TaskRunRepository, workflowRepo repository.WorkflowRunRepository, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		taskRepo:     taskRepo,
		workflowRepo: workflowRepo,
		logger:       logger.With("component", "workflow_coordinator"),
	}
}

// OnFinalized is called once per terminally-finalized run that
// belongs to a workflow. It releases or fails Chain children, and for
// Chord predecessors it records the outcome against the WorkflowRun
// counter, releasing or failing the callback once every predecessor
// has reported.
func (c *Coordinator) OnFinalized(ctx context.Context, run *domain.TaskRun, succeeded bool) error {
	now := time.Now().UTC()

	if succeeded {
		children, err := c.taskRepo.ReleaseChildren(ctx, run.ResultID)
		if err != nil {
			return fmt.Errorf("release children of %d: %w", run.ResultID, err)
		}
		if len(children) > 0 {
			c.logger.InfoContext(ctx, "released chain children", "parent_id", run.ResultID, "children", children)
		}
	} else {
		children, err := c.taskRepo.FailChildren(ctx, run.ResultID, now)
		if err != nil {
			return fmt.Errorf("fail children of %d: %w", run.ResultID, err)
		}
		if len(children) > 0 {
			c.logger.InfoContext(ctx, "failed chain children", "parent_id", run.ResultID, "children", children)
		}
	}

	if run.WorkflowID == nil {
		return nil
	}

	wr, err := c.workflowRepo.GetByID(ctx, *run.WorkflowID)
	if errors.Is(err, domain.ErrWorkflowRunNotFound) {
		// Chain or Group member: no fan-in counter to update.
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup workflow run %s: %w", *run.WorkflowID, err)
	}
	if wr.CallbackResultID != nil && *wr.CallbackResultID == run.ResultID {
		// The callback itself just finalized; nothing further to do.
		return nil
	}

	updated, err := c.workflowRepo.RecordOutcome(ctx, *run.WorkflowID, succeeded)
	if err != nil {
		return fmt.Errorf("record chord outcome for %s: %w", *run.WorkflowID, err)
	}
	if !updated.Done() {
		return nil
	}

	if updated.CallbackResultID == nil {
		return nil
	}
	if updated.FailureCount == 0 {
		if err := c.taskRepo.ReleaseCallback(ctx, *updated.CallbackResultID); err != nil {
			return fmt.Errorf("release chord callback %d: %w", *updated.CallbackResultID, err)
		}
		c.logger.InfoContext(ctx, "released chord callback", "callback_result_id", *updated.CallbackResultID)
		return nil
	}

	if err := c.taskRepo.FailCallback(ctx, *updated.CallbackResultID, now); err != nil {
		return fmt.Errorf("fail chord callback %d: %w", *updated.CallbackResultID, err)
	}
	c.logger.InfoContext(ctx, "failed chord callback", "callback_result_id", *updated.CallbackResultID)
	return nil
}
