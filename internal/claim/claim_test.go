package claim_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/reproq/reproq/internal/claim"
	"github.com/reproq/reproq/internal/domain"
	"github.com/reproq/reproq/internal/repository/repotest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy() claim.Policy {
	return claim.Policy{
		MinBackoff:   10 * time.Millisecond,
		MaxBackoff:   80 * time.Millisecond,
		AgingFactor:  0,
		LeaseSeconds: 30 * time.Second,
	}
}

func TestPoll_ReturnsClaimedRuns(t *testing.T) {
	repo := &repotest.TaskRun{
		ClaimFunc: func(_ context.Context, workerID string, queues []string, maxN int, _, _ time.Duration, _ time.Time) ([]*domain.TaskRun, error) {
			if workerID != "w1" {
				t.Fatalf("unexpected worker id %q", workerID)
			}
			return []*domain.TaskRun{{ResultID: 1}, {ResultID: 2}}, nil
		},
	}
	e := claim.New(repo, testPolicy(), testLogger())

	runs, err := e.Poll(context.Background(), "w1", []string{"default"}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
}

func TestPoll_PropagatesRepoError(t *testing.T) {
	wantErr := errors.New("db down")
	repo := &repotest.TaskRun{
		ClaimFunc: func(context.Context, string, []string, int, time.Duration, time.Duration, time.Time) ([]*domain.TaskRun, error) {
			return nil, wantErr
		},
	}
	e := claim.New(repo, testPolicy(), testLogger())

	_, err := e.Poll(context.Background(), "w1", []string{"default"}, 5)
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

// TestNext_BlocksForBackoffWindow exercises spec.md §4.3's "caller
// backs off (bounded exponential ... with jitter)": after an empty
// poll, Next must return true once the jittered backoff has elapsed,
// well before the context deadline and within a small multiple of
// MaxBackoff.
func TestNext_BlocksForBackoffWindow(t *testing.T) {
	repo := &repotest.TaskRun{
		ClaimFunc: func(context.Context, string, []string, int, time.Duration, time.Duration, time.Time) ([]*domain.TaskRun, error) {
			return nil, nil
		},
	}
	e := claim.New(repo, testPolicy(), testLogger())

	if _, err := e.Poll(context.Background(), "w1", []string{"default"}, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if !e.Next(ctx) {
		t.Fatal("expected Next to return true before the context deadline")
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Fatalf("Next blocked for %v, expected at most 150ms", time.Since(start))
	}
}

func TestNext_ReturnsFalseWhenContextDone(t *testing.T) {
	repo := &repotest.TaskRun{}
	e := claim.New(repo, testPolicy(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if e.Next(ctx) {
		t.Fatal("expected Next to return false for an already-cancelled context")
	}
}
