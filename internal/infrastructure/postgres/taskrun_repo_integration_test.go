//go:build integration

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reproq/reproq/internal/domain"
	"github.com/reproq/reproq/internal/infrastructure/postgres"
)

// These exercise TaskRunRepository against a live Postgres instance,
// the way the retrieved pack's test/integration packages run their
// repository layers against a real database rather than fakes. Run
// with: go test -tags=integration ./internal/infrastructure/postgres/...
// against REPROQ_TEST_DATABASE_URL.
func requireTestPool(t *testing.T) *postgres.TaskRunRepository {
	t.Helper()
	url := os.Getenv("REPROQ_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("REPROQ_TEST_DATABASE_URL not set")
	}
	require.NoError(t, postgres.Migrate(url))
	pool, err := postgres.NewPool(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return postgres.NewTaskRunRepository(pool)
}

func TestTaskRunRepository_InsertThenClaim(t *testing.T) {
	repo := requireTestPool(t)
	ctx := context.Background()

	inserted, err := repo.Insert(ctx, &domain.TaskRun{
		QueueName:   "default",
		Spec:        []byte(`{"task_path":"pkg.task"}`),
		SpecHash:    randomHash(),
		Status:      domain.StatusReady,
		MaxAttempts: 3,
	})
	require.NoError(t, err)
	assert.NotZero(t, inserted.ResultID)

	claimed, err := repo.Claim(ctx, "worker-1", []string{"default"}, 10, 0, 5*time.Minute, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, inserted.ResultID, claimed[0].ResultID)
	assert.Equal(t, domain.StatusRunning, claimed[0].Status)
}

func TestTaskRunRepository_InsertConflict_DuplicateSpecHash(t *testing.T) {
	repo := requireTestPool(t)
	ctx := context.Background()

	hash := randomHash()
	first := &domain.TaskRun{QueueName: "default", Spec: []byte(`{}`), SpecHash: hash, Status: domain.StatusReady, MaxAttempts: 1}
	_, err := repo.Insert(ctx, first)
	require.NoError(t, err)

	second := &domain.TaskRun{QueueName: "default", Spec: []byte(`{}`), SpecHash: hash, Status: domain.StatusReady, MaxAttempts: 1}
	_, err = repo.Insert(ctx, second)
	assert.ErrorIs(t, err, domain.ErrEnqueueConflict)
}

func randomHash() string {
	return time.Now().Format("20060102150405.000000000")
}
