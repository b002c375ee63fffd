package domain

import (
	"errors"
	"time"
)

var ErrWorkerNotFound = errors.New("worker not found")

// Worker is a heartbeat record for one live worker process (spec.md §3).
type Worker struct {
	WorkerID    string
	Hostname    string
	Concurrency int32
	Queues      []string
	StartedAt   time.Time
	LastSeenAt  time.Time
	Version     string
}
