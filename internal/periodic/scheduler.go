// Package periodic implements the Periodic Scheduler of spec.md §4.8:
// a ticking loop that claims due cron rows across replicas via FOR
// UPDATE SKIP LOCKED and fires each one into the producer.
package periodic

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reproq/reproq/internal/domain"
	"github.com/reproq/reproq/internal/producer"
	"github.com/reproq/reproq/internal/repository"
	"github.com/reproq/reproq/internal/specvalue"
)

type Scheduler struct {
	repo     repository.PeriodicTaskRepository
	producer *producer.Producer
	logger   *slog.Logger
	interval time.Duration
	batch    int
	parser   cron.Parser
}

func New(repo repository.PeriodicTaskRepository, prod *producer.Producer, interval time.Duration, batch int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		repo:     repo,
		producer: prod,
		logger:   logger.With("component", "periodic_scheduler"),
		interval: interval,
		batch:    batch,
		// Standard five-field cron; unlike robfig/cron's ParseStandard,
		// @-descriptors such as @hourly are not accepted.
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("periodic scheduler started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("periodic scheduler shut down")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	fired, err := s.repo.ClaimDue(ctx, now, s.batch, func(t *domain.PeriodicTask) (time.Time, error) {
		return s.fire(ctx, t, now)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "claim due periodic tasks failed", "error", err)
		return
	}
	if len(fired) > 0 {
		s.logger.InfoContext(ctx, "fired periodic tasks", "count", len(fired))
	}
}

// fire enqueues one periodic task's payload and computes its next
// fire time, skipping any missed runs (spec.md §4.8 step 3), matching
// a dispatcher's computeNext behavior.
func (s *Scheduler) fire(ctx context.Context, t *domain.PeriodicTask, now time.Time) (time.Time, error) {
	kwargs, err := decodePayload(t.Payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "invalid periodic payload", "name", t.Name, "error", err)
	} else {
		spec := producer.EnqueueSpec{
			TaskPath:    t.TaskPath,
			Kwargs:      kwargs,
			QueueName:   t.QueueName,
			Priority:    t.Priority,
			MaxAttempts: t.MaxAttempts,
			Provenance:  map[string]string{"periodic_task": t.Name},
		}
		if _, err := s.producer.Enqueue(ctx, spec, producer.DefaultOptions()); err != nil {
			s.logger.ErrorContext(ctx, "enqueue periodic task failed", "name", t.Name, "error", err)
		}
	}

	schedule, err := s.parser.Parse(t.CronExpr)
	if err != nil {
		// Upsert stores cron_expr without parsing it, so an invalid
		// expression surfaces here; the task is retried an hour later.
		s.logger.ErrorContext(ctx, "invalid cron expression in periodic task", "name", t.Name, "cron_expr", t.CronExpr, "error", err)
		return now.Add(time.Hour), nil
	}

	next := schedule.Next(t.NextRunAt)
	for !next.After(now) {
		next = schedule.Next(next)
	}
	return next, nil
}

func decodePayload(raw []byte) (map[string]specvalue.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var asInterface map[string]any
	if err := json.Unmarshal(raw, &asInterface); err != nil {
		return nil, err
	}
	kwargs := make(map[string]specvalue.Value, len(asInterface))
	for k, v := range asInterface {
		value, err := specvalue.FromInterface(v)
		if err != nil {
			return nil, err
		}
		kwargs[k] = value
	}
	return kwargs, nil
}
