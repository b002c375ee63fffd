package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type QueueControlRepository struct {
	pool *pgxpool.Pool
}

func NewQueueControlRepository(pool *pgxpool.Pool) *QueueControlRepository {
	return &QueueControlRepository{pool: pool}
}

func (r *QueueControlRepository) SetPaused(ctx context.Context, queueName string, paused bool, reason string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO queue_controls (queue_name, paused, reason, paused_at, updated_at)
		VALUES ($1, $2, $3, CASE WHEN $2 THEN now() ELSE NULL END, now())
		ON CONFLICT (queue_name) DO UPDATE
		SET paused = EXCLUDED.paused, reason = EXCLUDED.reason,
		    paused_at = EXCLUDED.paused_at, updated_at = EXCLUDED.updated_at`,
		queueName, paused, reason,
	)
	return err
}

func (r *QueueControlRepository) IsPaused(ctx context.Context, queueName string) (bool, error) {
	var paused bool
	err := r.pool.QueryRow(ctx, `SELECT paused FROM queue_controls WHERE queue_name = $1`, queueName).Scan(&paused)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return paused, err
}
