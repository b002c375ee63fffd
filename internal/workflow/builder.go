// Package workflow implements the Workflow Coordinator of spec.md
// §4.7: the Chain/Group/Chord builders that enqueue a set of related
// task runs sharing a workflow_id, and the Coordinator that reacts to
// each member's finalization. Grounded on the original's
// reproq_django/workflows.py Chain/Group/Chord classes, translated
// from Django's per-model .create() calls into repository inserts.
package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/reproq/reproq/internal/canonical"
	"github.com/reproq/reproq/internal/domain"
	"github.com/reproq/reproq/internal/producer"
	"github.com/reproq/reproq/internal/repository"
	"github.com/reproq/reproq/internal/specvalue"
)

// Item is one member of a workflow: an enqueue spec. It mirrors the
// original's (task, args, kwargs) tuple.
type Item struct {
	Spec producer.EnqueueSpec
}

// Builder enqueues workflow members directly against a single
// TaskRunRepository, bypassing Producer.Enqueue's dedup path — the
// original explicitly "bypasses the backend's enqueue to handle the
// complex state" and assigns each row a throwaway unique spec_hash.
type Builder struct {
	repo         repository.TaskRunRepository
	workflowRepo repository.WorkflowRunRepository
}

func NewBuilder(repo repository.TaskRunRepository, workflowRepo repository.WorkflowRunRepository) *Builder {
	return &Builder{repo: repo, workflowRepo: workflowRepo}
}

// Chain enqueues items sequentially: the first is READY, every
// subsequent item is WAITING with wait_count=1 and parent_id set to
// the previous item's result_id (spec.md §4.7 "Chain").
func (b *Builder) Chain(ctx context.Context, items []Item) ([]*domain.TaskRun, error) {
	workflowID := uuid.NewString()
	var lastID *int64
	results := make([]*domain.TaskRun, 0, len(items))

	for i, item := range items {
		status := domain.StatusWaiting
		var waitCount int32 = 1
		if i == 0 {
			status = domain.StatusReady
			waitCount = 0
		}
		run, err := b.buildRun(item.Spec, status, waitCount, lastID, &workflowID)
		if err != nil {
			return nil, fmt.Errorf("build chain item %d: %w", i, err)
		}
		created, err := b.repo.Insert(ctx, run)
		if err != nil {
			return nil, fmt.Errorf("insert chain item %d: %w", i, err)
		}
		lastID = &created.ResultID
		results = append(results, created)
	}
	return results, nil
}

// Group enqueues items in parallel, all READY, sharing a workflow_id
// and no parents (spec.md §4.7 "Group").
func (b *Builder) Group(ctx context.Context, items []Item) ([]*domain.TaskRun, error) {
	workflowID := uuid.NewString()
	results := make([]*domain.TaskRun, 0, len(items))

	for i, item := range items {
		run, err := b.buildRun(item.Spec, domain.StatusReady, 0, nil, &workflowID)
		if err != nil {
			return nil, fmt.Errorf("build group item %d: %w", i, err)
		}
		created, err := b.repo.Insert(ctx, run)
		if err != nil {
			return nil, fmt.Errorf("insert group item %d: %w", i, err)
		}
		results = append(results, created)
	}
	return results, nil
}

// Chord enqueues N predecessor items READY plus one callback WAITING
// with wait_count=N, and records a WorkflowRun counter row (spec.md
// §4.7 "Chord").
func (b *Builder) Chord(ctx context.Context, items []Item, callback Item) ([]*domain.TaskRun, *domain.TaskRun, error) {
	workflowID := uuid.NewString()
	results := make([]*domain.TaskRun, 0, len(items))

	for i, item := range items {
		run, err := b.buildRun(item.Spec, domain.StatusReady, 0, nil, &workflowID)
		if err != nil {
			return nil, nil, fmt.Errorf("build chord predecessor %d: %w", i, err)
		}
		created, err := b.repo.Insert(ctx, run)
		if err != nil {
			return nil, nil, fmt.Errorf("insert chord predecessor %d: %w", i, err)
		}
		results = append(results, created)
	}

	waitCount := int32(len(results))
	cbStatus := domain.StatusWaiting
	workflowStatus := domain.WorkflowPending
	if waitCount == 0 {
		cbStatus = domain.StatusReady
	}

	cbRun, err := b.buildRun(callback.Spec, cbStatus, waitCount, nil, &workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("build chord callback: %w", err)
	}
	createdCB, err := b.repo.Insert(ctx, cbRun)
	if err != nil {
		return nil, nil, fmt.Errorf("insert chord callback: %w", err)
	}

	wr := &domain.WorkflowRun{
		WorkflowID:       workflowID,
		ExpectedCount:    waitCount,
		CallbackResultID: &createdCB.ResultID,
		Status:           workflowStatus,
	}
	if err := b.workflowRepo.Create(ctx, wr); err != nil {
		return nil, nil, fmt.Errorf("create workflow run: %w", err)
	}

	return results, createdCB, nil
}

// buildRun renders an EnqueueSpec into a domain.TaskRun without dedup:
// workflow members use a throwaway spec_hash, matching the original's
// spec_hash=uuid.uuid4().hex ("workflows bypass simple dedupe").
// Unlike producer.Producer, it ignores RunAfter, and the encoded spec
// carries no run_after, lock key, concurrency settings or provenance.
func (b *Builder) buildRun(spec producer.EnqueueSpec, status domain.Status, waitCount int32, parentID *int64, workflowID *string) (*domain.TaskRun, error) {
	kwargs := make(map[string]specvalue.Value, len(spec.Kwargs))
	for k, v := range spec.Kwargs {
		kwargs[k] = v
	}
	value := specvalue.Mapping(map[string]specvalue.Value{
		"v":             specvalue.Int(producer.SchemaVersion),
		"task_path":     specvalue.String(spec.TaskPath),
		"args":          specvalue.Sequence(spec.Args...),
		"kwargs":        specvalue.Mapping(kwargs),
		"takes_context": specvalue.Bool(spec.TakesContext),
		"queue_name":    specvalue.String(spec.QueueName),
		"priority":      specvalue.Int(int64(spec.Priority)),
		"exec": specvalue.Mapping(map[string]specvalue.Value{
			"timeout_seconds": specvalue.Int(int64(spec.TimeoutSeconds)),
			"max_attempts":    specvalue.Int(int64(spec.MaxAttempts)),
		}),
	})
	encoded, err := canonical.Encode(value)
	if err != nil {
		return nil, err
	}

	return &domain.TaskRun{
		QueueName:        spec.QueueName,
		Priority:         spec.Priority,
		LockKey:          spec.LockKey,
		ConcurrencyKey:   spec.ConcurrencyKey,
		ConcurrencyLimit: spec.ConcurrencyLimit,
		Spec:             encoded,
		SpecHash:         uuid.NewString(),
		Status:           status,
		MaxAttempts:      spec.MaxAttempts,
		TimeoutSeconds:   spec.TimeoutSeconds,
		ParentID:         parentID,
		WorkflowID:       workflowID,
		WaitCount:        waitCount,
	}, nil
}
