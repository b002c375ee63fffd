package domain

import "time"

// QueueControl is the per-queue pause switch (spec.md §3).
type QueueControl struct {
	QueueName string
	Paused    bool
	Reason    string
	PausedAt  *time.Time
	UpdatedAt time.Time
}

// RateLimit is the token-bucket state for a logical key (spec.md §3).
// TokensPerSecond <= 0 means the bucket is disabled (spec.md §9 open
// question 3): the claim engine skips the predicate entirely.
type RateLimit struct {
	Key             string
	TokensPerSecond float64
	BurstSize       int32
	CurrentTokens   float64
	LastRefilledAt  time.Time
}

// Disabled reports whether this bucket imposes no limit.
func (r *RateLimit) Disabled() bool {
	return r == nil || r.TokensPerSecond <= 0
}
