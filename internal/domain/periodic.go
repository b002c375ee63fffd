package domain

import (
	"errors"
	"time"
)

var (
	ErrPeriodicTaskNotFound  = errors.New("periodic task not found")
	ErrInvalidCronExpression = errors.New("invalid cron expression")
)

// PeriodicTask is a cron-driven schedule registry entry (spec.md §3, §4.8).
type PeriodicTask struct {
	Name        string
	CronExpr    string
	TaskPath    string
	Payload     []byte
	QueueName   string
	Priority    int32
	MaxAttempts int32
	LastRunAt   *time.Time
	NextRunAt   time.Time
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
