package repository

import "context"

// QueueControlRepository manages per-queue pause state (spec.md §3, §6).
type QueueControlRepository interface {
	SetPaused(ctx context.Context, queueName string, paused bool, reason string) error
	IsPaused(ctx context.Context, queueName string) (bool, error)
}
