// enqueue is a small CLI exercising the Producer Path directly: it
// submits a handful of representative task runs (including a chain,
// a group, and a chord) against a locally running database, useful
// for manual end-to-end verification.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/reproq/reproq/config"
	"github.com/reproq/reproq/internal/infrastructure/postgres"
	"github.com/reproq/reproq/internal/producer"
	"github.com/reproq/reproq/internal/repository"
	"github.com/reproq/reproq/internal/specvalue"
	"github.com/reproq/reproq/internal/workflow"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	taskRepo := postgres.NewTaskRunRepository(pool)
	workflowRepo := postgres.NewWorkflowRunRepository(pool)

	router := producer.NewRouter(cfg.QueueRoutes)
	repos := map[string]repository.TaskRunRepository{producer.DefaultQueueAlias: taskRepo}
	prod := producer.New(repos, cfg.QueueAllowlist(), router, logger)

	queue := "default"
	if len(cfg.QueueAllowlist()) > 0 {
		queue = cfg.QueueAllowlist()[0]
	}

	handle, err := prod.Enqueue(ctx, producer.EnqueueSpec{
		TaskPath:       "reproq.examples.send_notification",
		Args:           []specvalue.Value{specvalue.String("hello from enqueue")},
		Kwargs:         map[string]specvalue.Value{"urgent": specvalue.Bool(false)},
		QueueName:      queue,
		Priority:       5,
		MaxAttempts:    3,
		TimeoutSeconds: 60,
	}, producer.DefaultOptions())
	if err != nil {
		log.Fatalf("enqueue single task: %v", err)
	}
	fmt.Printf("enqueued single task: result_id=%d\n", handle.ResultID)

	builder := workflow.NewBuilder(taskRepo, workflowRepo)

	chainItems := []workflow.Item{
		{Spec: producer.EnqueueSpec{TaskPath: "reproq.examples.step_one", QueueName: queue, MaxAttempts: 3, TimeoutSeconds: 60}},
		{Spec: producer.EnqueueSpec{TaskPath: "reproq.examples.step_two", QueueName: queue, MaxAttempts: 3, TimeoutSeconds: 60}},
	}
	chainRuns, err := builder.Chain(ctx, chainItems)
	if err != nil {
		log.Fatalf("enqueue chain: %v", err)
	}
	fmt.Printf("enqueued chain: %d task runs, first=%d\n", len(chainRuns), chainRuns[0].ResultID)

	groupItems := []workflow.Item{
		{Spec: producer.EnqueueSpec{TaskPath: "reproq.examples.fan_a", QueueName: queue, MaxAttempts: 3, TimeoutSeconds: 60}},
		{Spec: producer.EnqueueSpec{TaskPath: "reproq.examples.fan_b", QueueName: queue, MaxAttempts: 3, TimeoutSeconds: 60}},
	}
	groupRuns, err := builder.Group(ctx, groupItems)
	if err != nil {
		log.Fatalf("enqueue group: %v", err)
	}
	fmt.Printf("enqueued group: %d task runs\n", len(groupRuns))

	predecessors := []workflow.Item{
		{Spec: producer.EnqueueSpec{TaskPath: "reproq.examples.chord_leg", QueueName: queue, MaxAttempts: 3, TimeoutSeconds: 60}},
		{Spec: producer.EnqueueSpec{TaskPath: "reproq.examples.chord_leg", QueueName: queue, MaxAttempts: 3, TimeoutSeconds: 60}},
	}
	callback := workflow.Item{Spec: producer.EnqueueSpec{TaskPath: "reproq.examples.chord_callback", QueueName: queue, MaxAttempts: 3, TimeoutSeconds: 60}}
	_, cbRun, err := builder.Chord(ctx, predecessors, callback)
	if err != nil {
		log.Fatalf("enqueue chord: %v", err)
	}
	fmt.Printf("enqueued chord: callback result_id=%d\n", cbRun.ResultID)

	fmt.Println()
	fmt.Println("Check progress with:")
	fmt.Printf("  SELECT result_id, status, queue_name FROM task_runs ORDER BY result_id DESC LIMIT 10;\n")
}
