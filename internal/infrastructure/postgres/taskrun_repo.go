package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reproq/reproq/internal/domain"
)

type TaskRunRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRunRepository(pool *pgxpool.Pool) *TaskRunRepository {
	return &TaskRunRepository{pool: pool}
}

const taskRunColumns = `
	result_id, queue_name, priority, lock_key, concurrency_key, concurrency_limit,
	spec, spec_hash, run_after, enqueued_at, expires_at, status,
	attempts, max_attempts, timeout_seconds, started_at, last_attempted_at,
	finished_at, errors, return_value, worker_ids, leased_until, leased_by,
	cancel_requested, parent_id, workflow_id, wait_count, logs_uri,
	artifacts_uri, metadata, created_at, updated_at`

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskRun(row rowScanner) (*domain.TaskRun, error) {
	var t domain.TaskRun
	var errorsRaw, workerIDsRaw []byte

	err := row.Scan(
		&t.ResultID, &t.QueueName, &t.Priority, &t.LockKey, &t.ConcurrencyKey, &t.ConcurrencyLimit,
		&t.Spec, &t.SpecHash, &t.RunAfter, &t.EnqueuedAt, &t.ExpiresAt, &t.Status,
		&t.Attempts, &t.MaxAttempts, &t.TimeoutSeconds, &t.StartedAt, &t.LastAttemptedAt,
		&t.FinishedAt, &errorsRaw, &t.ReturnValue, &workerIDsRaw, &t.LeasedUntil, &t.LeasedBy,
		&t.CancelRequested, &t.ParentID, &t.WorkflowID, &t.WaitCount, &t.LogsURI,
		&t.ArtifactsURI, &t.Metadata, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskRunNotFound
		}
		return nil, fmt.Errorf("scan task run: %w", err)
	}

	if len(errorsRaw) > 0 {
		if err := json.Unmarshal(errorsRaw, &t.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal errors: %w", err)
		}
	}
	if len(workerIDsRaw) > 0 {
		if err := json.Unmarshal(workerIDsRaw, &t.WorkerIDs); err != nil {
			return nil, fmt.Errorf("unmarshal worker_ids: %w", err)
		}
	}
	return &t, nil
}

func (r *TaskRunRepository) FindInFlight(ctx context.Context, specHash string) (*domain.TaskRun, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+taskRunColumns+`
		FROM task_runs
		WHERE spec_hash = $1 AND status IN ('READY', 'RUNNING')`,
		specHash)
	run, err := scanTaskRun(row)
	if errors.Is(err, domain.ErrTaskRunNotFound) {
		return nil, nil
	}
	return run, err
}

func (r *TaskRunRepository) Insert(ctx context.Context, run *domain.TaskRun) (*domain.TaskRun, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO task_runs (
			queue_name, priority, lock_key, concurrency_key, concurrency_limit,
			spec, spec_hash, run_after, expires_at, status,
			max_attempts, timeout_seconds, parent_id, workflow_id, wait_count, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING `+taskRunColumns,
		run.QueueName, run.Priority, run.LockKey, run.ConcurrencyKey, run.ConcurrencyLimit,
		run.Spec, run.SpecHash, run.RunAfter, run.ExpiresAt, run.Status,
		run.MaxAttempts, run.TimeoutSeconds, run.ParentID, run.WorkflowID, run.WaitCount, run.Metadata,
	)
	created, err := scanTaskRun(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrEnqueueConflict
		}
		return nil, err
	}
	return created, nil
}

func (r *TaskRunRepository) GetByID(ctx context.Context, resultID int64) (*domain.TaskRun, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskRunColumns+` FROM task_runs WHERE result_id = $1`, resultID)
	return scanTaskRun(row)
}

func (r *TaskRunRepository) BulkFindInFlight(ctx context.Context, hashes []string) (map[string]int64, error) {
	out := make(map[string]int64, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT spec_hash, result_id FROM task_runs
		WHERE spec_hash = ANY($1) AND status IN ('READY', 'RUNNING')`,
		hashes)
	if err != nil {
		return nil, fmt.Errorf("bulk find in flight: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var hash string
		var id int64
		if err := rows.Scan(&hash, &id); err != nil {
			return nil, err
		}
		out[hash] = id
	}
	return out, rows.Err()
}

func (r *TaskRunRepository) BulkInsert(ctx context.Context, runs []*domain.TaskRun) error {
	if len(runs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, run := range runs {
		batch.Queue(`
			INSERT INTO task_runs (
				queue_name, priority, lock_key, concurrency_key, concurrency_limit,
				spec, spec_hash, run_after, expires_at, status,
				max_attempts, timeout_seconds, parent_id, workflow_id, wait_count, metadata
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			ON CONFLICT (spec_hash) WHERE status IN ('READY', 'RUNNING') DO NOTHING
			RETURNING result_id`,
			run.QueueName, run.Priority, run.LockKey, run.ConcurrencyKey, run.ConcurrencyLimit,
			run.Spec, run.SpecHash, run.RunAfter, run.ExpiresAt, run.Status,
			run.MaxAttempts, run.TimeoutSeconds, run.ParentID, run.WorkflowID, run.WaitCount, run.Metadata,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i, run := range runs {
		var id int64
		err := results.QueryRow().Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Conflict-skipped: a concurrent enqueue or a previous
				// chunk already owns this hash; the caller reloads it.
				continue
			}
			return fmt.Errorf("bulk insert run %d: %w", i, err)
		}
		run.ResultID = id
	}
	return nil
}

// Claim performs the single atomic SKIP LOCKED transaction of
// spec.md §4.3: select candidates under the full predicate and
// ordering, transition them to RUNNING, and consume rate-limit tokens
// for any queue that has a bucket configured.
func (r *TaskRunRepository) Claim(ctx context.Context, workerID string, queues []string, maxN int, agingFactor time.Duration, leaseSeconds time.Duration, now time.Time) ([]*domain.TaskRun, error) {
	if maxN <= 0 || len(queues) == 0 {
		return nil, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	agingSeconds := agingFactor.Seconds()
	if agingSeconds <= 0 {
		agingSeconds = 1e18 // effectively disables aging without a branch in the query
	}

	rows, err := tx.Query(ctx, `
		WITH candidates AS (
			SELECT t.result_id,
			       t.priority + floor(extract(epoch FROM ($3 - t.enqueued_at)) / $4) AS effective_priority
			FROM task_runs t
			LEFT JOIN queue_controls qc ON qc.queue_name = t.queue_name
			WHERE t.status = 'READY'
			  AND t.queue_name = ANY($1)
			  AND (t.run_after IS NULL OR t.run_after <= $3)
			  AND COALESCE(qc.paused, FALSE) = FALSE
			  AND (t.lock_key IS NULL OR NOT EXISTS (
			        SELECT 1 FROM task_runs o
			        WHERE o.lock_key = t.lock_key AND o.status = 'RUNNING'
			  ))
			  AND (t.concurrency_key IS NULL OR t.concurrency_limit <= 0 OR (
			        SELECT count(*) FROM task_runs o
			        WHERE o.concurrency_key = t.concurrency_key AND o.status = 'RUNNING'
			  ) < t.concurrency_limit)
			  AND (
			        NOT EXISTS (SELECT 1 FROM rate_limits rl WHERE rl.key = t.queue_name)
			        OR EXISTS (
			              SELECT 1 FROM rate_limits rl
			              WHERE rl.key = t.queue_name
			                AND rl.tokens_per_second > 0
			                AND LEAST(rl.burst_size, rl.current_tokens +
			                    extract(epoch FROM ($3 - rl.last_refilled_at)) * rl.tokens_per_second) >= 1
			        )
			        OR EXISTS (SELECT 1 FROM rate_limits rl WHERE rl.key = t.queue_name AND rl.tokens_per_second <= 0)
			  )
			ORDER BY effective_priority DESC, COALESCE(t.run_after, t.enqueued_at) ASC, t.enqueued_at ASC, t.result_id ASC
			LIMIT $2
			FOR UPDATE OF t SKIP LOCKED
		)
		UPDATE task_runs
		SET status = 'RUNNING',
		    attempts = attempts + 1,
		    started_at = COALESCE(started_at, $3),
		    last_attempted_at = $3,
		    leased_by = $5,
		    leased_until = $3 + ($6 || ' seconds')::interval,
		    worker_ids = worker_ids || jsonb_build_array($5::text),
		    updated_at = $3
		FROM candidates
		WHERE task_runs.result_id = candidates.result_id
		RETURNING `+taskRunColumns,
		queues, maxN, now, agingSeconds, workerID, int(leaseSeconds.Seconds()),
	)
	if err != nil {
		return nil, fmt.Errorf("claim select: %w", err)
	}

	var claimed []*domain.TaskRun
	var queueSet = make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}
	for rows.Next() {
		t, err := scanTaskRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(claimed) > 0 {
		seen := make(map[string]struct{})
		for _, t := range claimed {
			seen[t.QueueName] = struct{}{}
		}
		for q := range seen {
			if _, err := tx.Exec(ctx, `
				UPDATE rate_limits
				SET current_tokens = LEAST(burst_size, current_tokens +
				        extract(epoch FROM ($2 - last_refilled_at)) * tokens_per_second) - 1,
				    last_refilled_at = $2
				WHERE key = $1 AND tokens_per_second > 0`,
				q, now,
			); err != nil {
				return nil, fmt.Errorf("consume rate limit token for %s: %w", q, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return claimed, nil
}

func (r *TaskRunRepository) Heartbeat(ctx context.Context, workerID string, leaseUntil time.Time, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE task_runs
		SET leased_until = $2, updated_at = $3
		WHERE leased_by = $1 AND status = 'RUNNING'`,
		workerID, leaseUntil, now,
	)
	if err != nil {
		return 0, fmt.Errorf("heartbeat: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *TaskRunRepository) ReleaseLeases(ctx context.Context, workerID string, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE task_runs
		SET leased_until = $2, updated_at = $2
		WHERE leased_by = $1 AND status = 'RUNNING'`,
		workerID, now,
	)
	if err != nil {
		return 0, fmt.Errorf("release leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *TaskRunRepository) MarkSuccessful(ctx context.Context, resultID int64, workerID string, returnValue []byte, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE task_runs
		SET status = 'SUCCESSFUL', return_value = $4, finished_at = $3, updated_at = $3,
		    leased_until = NULL, leased_by = NULL
		WHERE result_id = $1 AND leased_by = $2 AND status = 'RUNNING'`,
		resultID, workerID, now, returnValue,
	)
	if err != nil {
		return false, fmt.Errorf("mark successful: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRunRepository) MarkRetry(ctx context.Context, resultID int64, workerID string, errRecord domain.ErrorRecord, runAfter time.Time, now time.Time) (bool, error) {
	errJSON, err := json.Marshal([]domain.ErrorRecord{errRecord})
	if err != nil {
		return false, fmt.Errorf("marshal error record: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE task_runs
		SET status = 'READY', run_after = $4, errors = errors || $5::jsonb,
		    updated_at = $3, leased_until = NULL, leased_by = NULL
		WHERE result_id = $1 AND leased_by = $2 AND status = 'RUNNING'`,
		resultID, workerID, now, runAfter, errJSON,
	)
	if err != nil {
		return false, fmt.Errorf("mark retry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRunRepository) MarkTerminalFailure(ctx context.Context, resultID int64, workerID string, errRecord domain.ErrorRecord, now time.Time) (bool, error) {
	errJSON, err := json.Marshal([]domain.ErrorRecord{errRecord})
	if err != nil {
		return false, fmt.Errorf("marshal error record: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE task_runs
		SET status = 'FAILED', finished_at = $3, errors = errors || $4::jsonb,
		    updated_at = $3, leased_until = NULL, leased_by = NULL
		WHERE result_id = $1 AND leased_by = $2 AND status = 'RUNNING'`,
		resultID, workerID, now, errJSON,
	)
	if err != nil {
		return false, fmt.Errorf("mark terminal failure: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRunRepository) MarkCancelled(ctx context.Context, resultID int64, workerID string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE task_runs
		SET status = 'CANCELLED', finished_at = $3, updated_at = $3,
		    leased_until = NULL, leased_by = NULL
		WHERE result_id = $1 AND leased_by = $2 AND status = 'RUNNING'`,
		resultID, workerID, now,
	)
	if err != nil {
		return false, fmt.Errorf("mark cancelled: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRunRepository) RequestCancel(ctx context.Context, resultID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE task_runs SET cancel_requested = TRUE, updated_at = now() WHERE result_id = $1`, resultID)
	return err
}

// ReclaimExpired implements spec.md §4.5: rows whose lease has expired
// (or, if includeNullLease, never had one) are requeued when attempts
// remain, otherwise terminally failed.
func (r *TaskRunRepository) ReclaimExpired(ctx context.Context, graceCutoff time.Time, includeNullLease bool, limit int, now time.Time) (int, int, error) {
	nullClause := ""
	if includeNullLease {
		nullClause = "OR leased_until IS NULL"
	}

	requeueErr, err := json.Marshal([]domain.ErrorRecord{{Kind: domain.ErrorKindLeaseExpired, At: now}})
	if err != nil {
		return 0, 0, fmt.Errorf("marshal lease_expired error: %w", err)
	}

	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE task_runs
		SET status = 'READY', run_after = $3, errors = errors || $4::jsonb,
		    leased_until = NULL, leased_by = NULL, started_at = NULL, finished_at = NULL,
		    updated_at = $3
		WHERE result_id IN (
			SELECT result_id FROM task_runs
			WHERE status = 'RUNNING' AND cancel_requested = FALSE
			  AND attempts < max_attempts
			  AND (leased_until < $1 %s)
			ORDER BY leased_until ASC NULLS FIRST
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, nullClause),
		graceCutoff, limit, now, requeueErr,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("reclaim requeue: %w", err)
	}
	requeued := int(tag.RowsAffected())

	failErr, err := json.Marshal([]domain.ErrorRecord{{Kind: domain.ErrorKindLeaseExpired, At: now}})
	if err != nil {
		return requeued, 0, fmt.Errorf("marshal lease_expired error: %w", err)
	}

	tag, err = r.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE task_runs
		SET status = 'FAILED', finished_at = $3, last_attempted_at = $3,
		    errors = errors || $4::jsonb, leased_until = NULL, leased_by = NULL,
		    updated_at = $3
		WHERE result_id IN (
			SELECT result_id FROM task_runs
			WHERE status = 'RUNNING' AND cancel_requested = FALSE
			  AND attempts >= max_attempts
			  AND (leased_until < $1 %s)
			ORDER BY leased_until ASC NULLS FIRST
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, nullClause),
		graceCutoff, limit, now, failErr,
	)
	if err != nil {
		return requeued, 0, fmt.Errorf("reclaim fail: %w", err)
	}
	return requeued, int(tag.RowsAffected()), nil
}

func (r *TaskRunRepository) ReleaseChildren(ctx context.Context, parentID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE task_runs
		SET wait_count = GREATEST(wait_count - 1, 0),
		    status = CASE WHEN wait_count - 1 <= 0 THEN 'READY' ELSE status END,
		    updated_at = now()
		WHERE parent_id = $1 AND status = 'WAITING'
		RETURNING result_id`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("release children: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *TaskRunRepository) FailChildren(ctx context.Context, parentID int64, now time.Time) ([]int64, error) {
	errJSON, err := json.Marshal([]domain.ErrorRecord{{Kind: domain.ErrorKindParentFailed, At: now}})
	if err != nil {
		return nil, fmt.Errorf("marshal parent_failed error: %w", err)
	}
	rows, err := r.pool.Query(ctx, `
		UPDATE task_runs
		SET status = 'FAILED', finished_at = $2, errors = errors || $3::jsonb, updated_at = $2
		WHERE parent_id = $1 AND status = 'WAITING'
		RETURNING result_id`,
		parentID, now, errJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("fail children: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *TaskRunRepository) ReleaseCallback(ctx context.Context, resultID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE task_runs SET wait_count = 0, status = 'READY', updated_at = now()
		WHERE result_id = $1 AND status = 'WAITING'`,
		resultID,
	)
	return err
}

func (r *TaskRunRepository) FailCallback(ctx context.Context, resultID int64, now time.Time) error {
	errJSON, err := json.Marshal([]domain.ErrorRecord{{Kind: domain.ErrorKindChordPartial, At: now}})
	if err != nil {
		return fmt.Errorf("marshal chord_partial_failure error: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE task_runs
		SET status = 'FAILED', finished_at = $2, errors = errors || $3::jsonb, updated_at = $2
		WHERE result_id = $1 AND status = 'WAITING'`,
		resultID, now, errJSON,
	)
	return err
}
