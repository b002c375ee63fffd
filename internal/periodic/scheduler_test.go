package periodic_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/reproq/reproq/internal/domain"
	"github.com/reproq/reproq/internal/periodic"
	"github.com/reproq/reproq/internal/producer"
	"github.com/reproq/reproq/internal/repository"
	"github.com/reproq/reproq/internal/repository/repotest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePeriodicRepo implements repository.PeriodicTaskRepository
// directly against an in-memory slice, invoking fire exactly the way
// the Postgres-backed ClaimDue does: once per due row, persisting its
// return value as the new next_run_at.
type fakePeriodicRepo struct {
	tasks      []*domain.PeriodicTask
	claimCalls int
}

func (f *fakePeriodicRepo) Upsert(context.Context, *domain.PeriodicTask) error { return nil }
func (f *fakePeriodicRepo) Disable(context.Context, string) error              { return nil }

func (f *fakePeriodicRepo) ClaimDue(ctx context.Context, now time.Time, limit int, fire func(*domain.PeriodicTask) (time.Time, error)) ([]*domain.PeriodicTask, error) {
	f.claimCalls++
	var fired []*domain.PeriodicTask
	for _, t := range f.tasks {
		if len(fired) >= limit {
			break
		}
		if !t.Enabled || t.NextRunAt.After(now) {
			continue
		}
		next, err := fire(t)
		if err != nil {
			return nil, err
		}
		t.LastRunAt = &now
		t.NextRunAt = next
		fired = append(fired, t)
	}
	return fired, nil
}

var _ repository.PeriodicTaskRepository = (*fakePeriodicRepo)(nil)

func newTestProducer(repo repository.TaskRunRepository) *producer.Producer {
	return producer.New(
		map[string]repository.TaskRunRepository{producer.DefaultQueueAlias: repo},
		[]string{"default"},
		producer.NewRouter(nil),
		testLogger(),
	)
}

// TestScheduler_FiresDueTaskAndAdvancesNextRun covers spec.md §8 end-
// to-end scenario 6: one due PeriodicTask produces exactly one new
// READY row, and next_run_at advances to the first cron occurrence
// strictly after now.
func TestScheduler_FiresDueTaskAndAdvancesNextRun(t *testing.T) {
	now := time.Now().UTC()
	task := &domain.PeriodicTask{
		Name:        "hourly",
		CronExpr:    "0 * * * *",
		TaskPath:    "pkg.hourly",
		QueueName:   "default",
		MaxAttempts: 3,
		NextRunAt:   now.Add(-time.Second),
		Enabled:     true,
	}
	repo := &fakePeriodicRepo{tasks: []*domain.PeriodicTask{task}}

	var insertedQueue string
	taskRepo := &repotest.TaskRun{
		FindInFlightFunc: func(context.Context, string) (*domain.TaskRun, error) { return nil, nil },
		InsertFunc: func(_ context.Context, run *domain.TaskRun) (*domain.TaskRun, error) {
			insertedQueue = run.QueueName
			run.ResultID = 1
			return run, nil
		},
	}
	prod := newTestProducer(taskRepo)
	s := periodic.New(repo, prod, 10*time.Millisecond, 10, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	if repo.claimCalls == 0 {
		t.Fatal("expected at least one ClaimDue tick")
	}
	if insertedQueue != "default" {
		t.Fatalf("expected the periodic task to be enqueued onto its configured queue, got %q", insertedQueue)
	}
	if !task.NextRunAt.After(now) {
		t.Fatalf("next_run_at %v must be strictly after %v", task.NextRunAt, now)
	}
	if task.LastRunAt == nil {
		t.Fatal("expected last_run_at to be set")
	}
}

// TestScheduler_SecondReplicaFindsNothing models spec.md §8 scenario
// 6's cooperation clause: once a row's next_run_at has been advanced
// past now, a second tick must not re-fire it.
func TestScheduler_SecondReplicaFindsNothing(t *testing.T) {
	now := time.Now().UTC()
	task := &domain.PeriodicTask{
		Name:      "hourly",
		CronExpr:  "0 * * * *",
		TaskPath:  "pkg.hourly",
		QueueName: "default",
		NextRunAt: now.Add(time.Hour), // already advanced past now
		Enabled:   true,
	}
	repo := &fakePeriodicRepo{tasks: []*domain.PeriodicTask{task}}
	taskRepo := &repotest.TaskRun{
		InsertFunc: func(context.Context, *domain.TaskRun) (*domain.TaskRun, error) {
			t.Fatal("must not enqueue a task whose next_run_at is in the future")
			return nil, nil
		},
	}
	prod := newTestProducer(taskRepo)
	s := periodic.New(repo, prod, 10*time.Millisecond, 10, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	s.Start(ctx)
}
