// Package producer implements the Producer Path of spec.md §4.2:
// validating an enqueue specification, normalizing its scheduling
// fields, fingerprinting it, and inserting it under the in-flight
// dedup rule.
package producer

import (
	"time"

	"github.com/reproq/reproq/internal/specvalue"
)

// EnqueueSpec is the Go-native shape of the enqueue specification of
// spec.md §6. Reserved routing fields (Priority, LockKey,
// ConcurrencyKey, ConcurrencyLimit, RunAfter) are already separated
// from Args/Kwargs by virtue of being distinct struct fields — the
// step of spec.md §4.2.3 ("extract reserved fields from user-facing
// kwargs") is enforced by this API shape rather than by a runtime
// strip, since Go has no equivalent of passing routing options as
// **kwargs.
type EnqueueSpec struct {
	TaskPath     string
	Args         []specvalue.Value
	Kwargs       map[string]specvalue.Value
	TakesContext bool

	QueueName string
	Priority  int32
	RunAfter  *RunAfter

	LockKey          *string
	ConcurrencyKey   *string
	ConcurrencyLimit int32

	TimeoutSeconds int32
	MaxAttempts    int32

	Provenance map[string]string
}

// RunAfter is either a duration relative to enqueue time or an
// absolute point in time (spec.md §4.2 step 2). Exactly one of the two
// fields should be set; Resolve treats a zero value as "unset".
type RunAfter struct {
	Relative time.Duration
	Absolute *time.Time
}

// Resolve computes the concrete run_after timestamp relative to now,
// or nil if neither field was set (spec.md §4.2 step 2: "Missing ->
// NULL").
func (ra *RunAfter) Resolve(now time.Time) *time.Time {
	if ra == nil {
		return nil
	}
	if ra.Absolute != nil {
		t := ra.Absolute.UTC()
		return &t
	}
	if ra.Relative != 0 {
		t := now.Add(ra.Relative).UTC()
		return &t
	}
	return nil
}

const SchemaVersion = 1

const DefaultQueueAlias = "default"
