package workflow_test

import (
	"context"
	"testing"

	"github.com/reproq/reproq/internal/domain"
	"github.com/reproq/reproq/internal/producer"
	"github.com/reproq/reproq/internal/repository/repotest"
	"github.com/reproq/reproq/internal/workflow"
)

func itemSpec(taskPath string) producer.EnqueueSpec {
	return producer.EnqueueSpec{
		TaskPath:    taskPath,
		QueueName:   "default",
		MaxAttempts: 3,
	}
}

// fakeAutoInsert assigns each inserted run a distinct ResultID,
// mimicking Postgres's identity column, so Chain/Chord can wire
// parent_id/wait_count off the prior insert's returned id.
func fakeAutoInsert() (*repotest.TaskRun, func() int64) {
	var next int64
	repo := &repotest.TaskRun{}
	repo.InsertFunc = func(_ context.Context, run *domain.TaskRun) (*domain.TaskRun, error) {
		next++
		run.ResultID = next
		return run, nil
	}
	return repo, func() int64 { return next }
}

func TestChain_FirstReadyRestWaitingWithParent(t *testing.T) {
	repo, _ := fakeAutoInsert()
	b := workflow.NewBuilder(repo, &repotest.WorkflowRun{})

	items := []workflow.Item{{Spec: itemSpec("a")}, {Spec: itemSpec("b")}, {Spec: itemSpec("c")}}
	runs, err := b.Chain(context.Background(), items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	if runs[0].Status != domain.StatusReady {
		t.Errorf("runs[0].Status = %s, want READY", runs[0].Status)
	}
	for i := 1; i < len(runs); i++ {
		if runs[i].Status != domain.StatusWaiting {
			t.Errorf("runs[%d].Status = %s, want WAITING", i, runs[i].Status)
		}
		if runs[i].WaitCount != 1 {
			t.Errorf("runs[%d].WaitCount = %d, want 1", i, runs[i].WaitCount)
		}
		if runs[i].ParentID == nil || *runs[i].ParentID != runs[i-1].ResultID {
			t.Errorf("runs[%d].ParentID = %v, want %d", i, runs[i].ParentID, runs[i-1].ResultID)
		}
	}
	if *runs[0].WorkflowID != *runs[1].WorkflowID {
		t.Error("chain members must share one workflow_id")
	}
}

func TestGroup_AllReadyNoParents(t *testing.T) {
	repo, _ := fakeAutoInsert()
	b := workflow.NewBuilder(repo, &repotest.WorkflowRun{})

	runs, err := b.Group(context.Background(), []workflow.Item{{Spec: itemSpec("a")}, {Spec: itemSpec("b")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range runs {
		if r.Status != domain.StatusReady {
			t.Errorf("status = %s, want READY", r.Status)
		}
		if r.ParentID != nil {
			t.Errorf("group member must have no parent, got %v", r.ParentID)
		}
	}
}

func TestChord_CallbackWaitsForAllPredecessors(t *testing.T) {
	repo, _ := fakeAutoInsert()
	wfRepo := &repotest.WorkflowRun{}
	b := workflow.NewBuilder(repo, wfRepo)

	preds, cb, err := b.Chord(context.Background(), []workflow.Item{{Spec: itemSpec("p1")}, {Spec: itemSpec("p2")}}, workflow.Item{Spec: itemSpec("cb")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(preds) != 2 {
		t.Fatalf("got %d predecessors, want 2", len(preds))
	}
	for _, p := range preds {
		if p.Status != domain.StatusReady {
			t.Errorf("predecessor status = %s, want READY", p.Status)
		}
	}
	if cb.Status != domain.StatusWaiting {
		t.Errorf("callback status = %s, want WAITING", cb.Status)
	}
	if cb.WaitCount != 2 {
		t.Errorf("callback wait_count = %d, want 2", cb.WaitCount)
	}
	if len(wfRepo.Created) != 1 {
		t.Fatalf("expected one WorkflowRun created, got %d", len(wfRepo.Created))
	}
	wr := wfRepo.Created[0]
	if wr.ExpectedCount != 2 {
		t.Errorf("expected_count = %d, want 2", wr.ExpectedCount)
	}
	if wr.CallbackResultID == nil || *wr.CallbackResultID != cb.ResultID {
		t.Errorf("callback_result_id = %v, want %d", wr.CallbackResultID, cb.ResultID)
	}
}

func TestChain_DistinctSpecHashesPerMember(t *testing.T) {
	repo, _ := fakeAutoInsert()
	b := workflow.NewBuilder(repo, &repotest.WorkflowRun{})

	runs, err := b.Chain(context.Background(), []workflow.Item{{Spec: itemSpec("a")}, {Spec: itemSpec("a")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Workflow members bypass the dedup rule entirely (spec.md §4.2 is
	// not consulted here), so two structurally-identical items must
	// still get distinct throwaway hashes rather than colliding.
	if runs[0].SpecHash == runs[1].SpecHash {
		t.Error("expected distinct throwaway spec_hash per workflow member")
	}
}
