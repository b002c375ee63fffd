package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reproq/reproq/internal/domain"
)

type WorkerRepository struct {
	pool *pgxpool.Pool
}

func NewWorkerRepository(pool *pgxpool.Pool) *WorkerRepository {
	return &WorkerRepository{pool: pool}
}

func (r *WorkerRepository) Upsert(ctx context.Context, w *domain.Worker) error {
	queuesJSON, err := json.Marshal(w.Queues)
	if err != nil {
		return fmt.Errorf("marshal queues: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO reproq_workers (worker_id, hostname, concurrency, queues, started_at, last_seen_at, version)
		VALUES ($1, $2, $3, $4, $5, $5, $6)
		ON CONFLICT (worker_id) DO UPDATE
		SET hostname = EXCLUDED.hostname,
		    concurrency = EXCLUDED.concurrency,
		    queues = EXCLUDED.queues,
		    last_seen_at = EXCLUDED.last_seen_at,
		    version = EXCLUDED.version`,
		w.WorkerID, w.Hostname, w.Concurrency, queuesJSON, w.StartedAt, w.Version,
	)
	return err
}

func (r *WorkerRepository) Touch(ctx context.Context, workerID string, now time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE reproq_workers SET last_seen_at = $2 WHERE worker_id = $1`, workerID, now)
	return err
}

func (r *WorkerRepository) Prune(ctx context.Context, inactiveSince time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM reproq_workers WHERE last_seen_at < $1`, inactiveSince)
	if err != nil {
		return 0, fmt.Errorf("prune workers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
