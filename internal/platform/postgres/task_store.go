package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/recapd/recapd/internal/platform/logger"
	"github.com/recapd/recapd/internal/store"
	"github.com/recapd/recapd/internal/task"
)

// taskColumns is the column list shared by every query that loads a full
// task row. Keep in sync with scanTask.
const taskColumns = `id, kind, meeting_id, status, depends_on, priority, input, output,
	retry_count, max_retries, next_retry_at, owner_id, claimed_at, heartbeat_at,
	created_at, completed_at, error_message`

// TaskStore implements the task.Store interface using PostgreSQL.
// Claiming uses FOR UPDATE SKIP LOCKED so concurrent workers neither
// block each other nor double-claim; finalization locks the row and
// applies the full read-modify-write inside one transaction.
type TaskStore struct {
	db store.DBTX
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db store.DBTX) *TaskStore {
	return &TaskStore{db: db}
}

// WithTx returns a TaskStore bound to the provided transaction.
func (s *TaskStore) WithTx(tx *sql.Tx) task.Store {
	return &TaskStore{db: tx}
}

// runInTx executes fn inside a transaction. When the store already wraps
// a transaction, fn runs inline so nested units of work compose.
func (s *TaskStore) runInTx(ctx context.Context, fn func(q store.DBTX) error) error {
	if db, ok := s.db.(*sql.DB); ok {
		return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			return fn(tx)
		})
	}
	return fn(s.db)
}

// Create persists a new task.
func (s *TaskStore) Create(ctx context.Context, t *task.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (id, kind, meeting_id, status, depends_on, priority, input,
			retry_count, max_retries, next_retry_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	var dependsOn uuid.NullUUID
	if t.DependsOn != nil {
		dependsOn = uuid.NullUUID{UUID: *t.DependsOn, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		t.ID,
		t.Kind,
		t.MeetingID,
		t.Status,
		dependsOn,
		t.Priority,
		nullableJSON(t.Input),
		t.RetryCount,
		t.MaxRetries,
		nullableTime(t.NextRetryAt),
		t.CreatedAt,
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to save task",
			"task_id", t.ID,
			"task_kind", t.Kind,
			"error", err)
		return fmt.Errorf("failed to save task: %w", MapError(err))
	}

	return nil
}

// GetByID returns the task with the given ID.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}

	return t, nil
}

// ClaimNext atomically claims the next runnable task for the given worker.
// The subselect locks the chosen row with FOR UPDATE SKIP LOCKED, so
// concurrent claimers skip rows another transaction is claiming instead
// of blocking or double-claiming.
func (s *TaskStore) ClaimNext(ctx context.Context, workerID string) (*task.Task, error) {
	query := `
		UPDATE tasks
		SET status = 'running', owner_id = $1, claimed_at = now(), heartbeat_at = now()
		WHERE id = (
			SELECT t.id
			FROM tasks t
			LEFT JOIN tasks parent ON t.depends_on = parent.id
			WHERE t.status IN ('pending', 'retrying')
				AND (t.next_retry_at IS NULL OR t.next_retry_at <= now())
				AND (t.depends_on IS NULL OR parent.status = 'completed')
			ORDER BY t.priority DESC, t.created_at ASC
			LIMIT 1
			FOR UPDATE OF t SKIP LOCKED
		)
		RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query, workerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Nothing runnable; the caller backs off and polls again.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim task: %w", MapError(err))
	}

	logger.FromContext(ctx).Debug("claimed task",
		"task_id", t.ID,
		"task_kind", t.Kind,
		"worker_id", workerID,
		"retry_count", t.RetryCount)

	return t, nil
}

// Heartbeat updates heartbeat_at if the caller still owns the running task.
func (s *TaskStore) Heartbeat(ctx context.Context, taskID uuid.UUID, workerID string) (bool, error) {
	query := `
		UPDATE tasks
		SET heartbeat_at = now()
		WHERE id = $1 AND owner_id = $2 AND status = 'running'
	`

	result, err := s.db.ExecContext(ctx, query, taskID, workerID)
	if err != nil {
		return false, fmt.Errorf("failed to update heartbeat: %w", MapError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// Complete marks the task completed and creates its successor in the same
// transaction, keeping each stage's result durably coupled to the next
// stage's existence.
func (s *TaskStore) Complete(ctx context.Context, taskID uuid.UUID, workerID string, output json.RawMessage) (*task.Task, error) {
	var completed *task.Task

	err := s.runInTx(ctx, func(q store.DBTX) error {
		t, err := lockTask(ctx, q, taskID)
		if err != nil {
			return err
		}

		if t.Status != task.StatusRunning || t.OwnerID != workerID {
			return fmt.Errorf("%w: task %s owned by %q", store.ErrNotOwner, taskID, t.OwnerID)
		}

		now := time.Now().UTC()
		_, err = q.ExecContext(ctx, `
			UPDATE tasks
			SET status = 'completed', output = $2, completed_at = $3,
				owner_id = NULL, error_message = NULL
			WHERE id = $1
		`, taskID, nullableJSON(output), now)
		if err != nil {
			return fmt.Errorf("failed to complete task: %w", MapError(err))
		}

		t.Status = task.StatusCompleted
		t.Output = output
		t.CompletedAt = &now
		t.OwnerID = ""
		t.ErrorMessage = ""

		if succ, ok := task.NewSuccessor(t); ok {
			inner := &TaskStore{db: q}
			if err := inner.Create(ctx, succ); err != nil {
				return fmt.Errorf("failed to create successor task: %w", err)
			}
			logger.FromContext(ctx).Debug("created successor task",
				"task_id", t.ID,
				"successor_id", succ.ID,
				"successor_kind", succ.Kind)
		}

		completed = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	return completed, nil
}

// Fail records a failure, scheduling a retry per the kind's backoff
// strategy when the failure is retryable and budget remains, and failing
// permanently otherwise. A permanent failure also marks the owning
// meeting failed, in the same transaction.
func (s *TaskStore) Fail(ctx context.Context, taskID uuid.UUID, workerID, reason string, retryable bool) (*task.Task, error) {
	var failed *task.Task

	err := s.runInTx(ctx, func(q store.DBTX) error {
		t, err := lockTask(ctx, q, taskID)
		if err != nil {
			return err
		}

		if t.Status != task.StatusRunning || t.OwnerID != workerID {
			return fmt.Errorf("%w: task %s owned by %q", store.ErrNotOwner, taskID, t.OwnerID)
		}

		if err := applyFailure(ctx, q, t, reason, retryable); err != nil {
			return err
		}

		failed = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	return failed, nil
}

// applyFailure computes and persists the failure transition for a locked
// running task, mutating t to reflect the stored state.
func applyFailure(ctx context.Context, q store.DBTX, t *task.Task, reason string, retryable bool) error {
	log := logger.FromContext(ctx)
	now := time.Now().UTC()

	if retryable && t.RetryCount < t.MaxRetries {
		t.RetryCount++
		nextRetry := task.StrategyFor(t.Kind).NextRetryAt(now, t.RetryCount)

		_, err := q.ExecContext(ctx, `
			UPDATE tasks
			SET status = 'retrying', retry_count = $2, next_retry_at = $3,
				owner_id = NULL, error_message = $4
			WHERE id = $1
		`, t.ID, t.RetryCount, nextRetry, reason)
		if err != nil {
			return fmt.Errorf("failed to schedule retry: %w", MapError(err))
		}

		t.Status = task.StatusRetrying
		t.NextRetryAt = &nextRetry
		t.OwnerID = ""
		t.ErrorMessage = reason

		log.Warn("task failed, retry scheduled",
			"task_id", t.ID,
			"task_kind", t.Kind,
			"retry_count", t.RetryCount,
			"max_retries", t.MaxRetries,
			"next_retry_at", nextRetry,
			"reason", reason)
		return nil
	}

	// Terminal failure. Distinguish an exhausted retry budget from a
	// refusal so operators can tell "gave up" from "refused".
	message := reason
	if retryable {
		message = fmt.Sprintf("max retries exceeded: %s", reason)
	}

	_, err := q.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'failed', completed_at = $2, owner_id = NULL, error_message = $3
		WHERE id = $1
	`, t.ID, now, message)
	if err != nil {
		return fmt.Errorf("failed to fail task: %w", MapError(err))
	}

	_, err = q.ExecContext(ctx, `
		UPDATE meetings
		SET status = 'failed', error_message = $2, updated_at = $3
		WHERE id = $1
	`, t.MeetingID, message, now)
	if err != nil {
		return fmt.Errorf("failed to mark meeting failed: %w", MapError(err))
	}

	t.Status = task.StatusFailed
	t.CompletedAt = &now
	t.OwnerID = ""
	t.ErrorMessage = message

	log.Error("task permanently failed",
		"task_id", t.ID,
		"task_kind", t.Kind,
		"retry_count", t.RetryCount,
		"reason", message)
	return nil
}

// ReclaimStale sweeps running tasks whose heartbeat is older than
// staleAfter. Each is treated as abandoned by a crashed worker: its
// retry counter is charged and it moves back to retrying, or to failed
// when the budget is spent. Locked rows still being finalized by a live
// worker are skipped.
func (s *TaskStore) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	log := logger.FromContext(ctx)
	cutoff := time.Now().UTC().Add(-staleAfter)
	swept := 0

	err := s.runInTx(ctx, func(q store.DBTX) error {
		rows, err := q.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			WHERE status = 'running' AND heartbeat_at < $1
			FOR UPDATE SKIP LOCKED
		`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to query stale tasks: %w", MapError(err))
		}

		stale, err := collectTasks(rows)
		if err != nil {
			return err
		}

		for _, t := range stale {
			reason := fmt.Sprintf("worker %s stopped heartbeating", t.OwnerID)
			if err := applyFailure(ctx, q, t, reason, true); err != nil {
				return err
			}
			log.Warn("reclaimed stale task",
				"task_id", t.ID,
				"task_kind", t.Kind,
				"new_status", t.Status)
			swept++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return swept, nil
}

// FailOrphans fails pending tasks whose dependency permanently failed.
// Such tasks can never become runnable; leaving them pending would be a
// silent hang.
func (s *TaskStore) FailOrphans(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'failed', completed_at = now(), owner_id = NULL,
			error_message = 'dependency ' || depends_on::text || ' permanently failed'
		WHERE status = 'pending'
			AND depends_on IN (SELECT id FROM tasks WHERE status = 'failed')
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to fail orphaned tasks: %w", MapError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 {
		logger.FromContext(ctx).Warn("failed orphaned tasks", "count", rows)
	}

	return int(rows), nil
}

// Stats returns queue counters for monitoring.
func (s *TaskStore) Stats(ctx context.Context) (*task.Stats, error) {
	stats := &task.Stats{
		ByStatus: make(map[task.Status]int),
		ByKind:   make(map[task.Kind]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by status: %w", MapError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var status task.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	kindRows, err := s.db.QueryContext(ctx, `SELECT kind, count(*) FROM tasks GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by kind: %w", MapError(err))
	}
	defer kindRows.Close()

	for kindRows.Next() {
		var kind task.Kind
		var count int
		if err := kindRows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan kind count: %w", err)
		}
		stats.ByKind[kind] = count
	}
	if err := kindRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kind counts: %w", err)
	}

	var oldest sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		SELECT min(created_at) FROM tasks WHERE status IN ('pending', 'retrying')
	`).Scan(&oldest)
	if err != nil {
		return nil, fmt.Errorf("failed to find oldest runnable task: %w", MapError(err))
	}
	if oldest.Valid {
		t := oldest.Time
		stats.OldestRunnable = &t
	}

	return stats, nil
}

// lockTask loads a task row with FOR UPDATE so the caller's transaction
// holds it for the duration of a read-modify-write.
func lockTask(ctx context.Context, q store.DBTX, taskID uuid.UUID) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 FOR UPDATE`

	t, err := scanTask(q.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to lock task: %w", MapError(err))
	}

	return t, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row in taskColumns order.
func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t           task.Task
		dependsOn   uuid.NullUUID
		input       []byte
		output      []byte
		nextRetryAt sql.NullTime
		ownerID     sql.NullString
		claimedAt   sql.NullTime
		heartbeatAt sql.NullTime
		completedAt sql.NullTime
		errMessage  sql.NullString
	)

	err := row.Scan(
		&t.ID, &t.Kind, &t.MeetingID, &t.Status, &dependsOn, &t.Priority,
		&input, &output, &t.RetryCount, &t.MaxRetries, &nextRetryAt,
		&ownerID, &claimedAt, &heartbeatAt, &t.CreatedAt, &completedAt,
		&errMessage,
	)
	if err != nil {
		return nil, err
	}

	if dependsOn.Valid {
		dep := dependsOn.UUID
		t.DependsOn = &dep
	}
	t.Input = input
	t.Output = output
	if nextRetryAt.Valid {
		v := nextRetryAt.Time
		t.NextRetryAt = &v
	}
	t.OwnerID = ownerID.String
	if claimedAt.Valid {
		v := claimedAt.Time
		t.ClaimedAt = &v
	}
	if heartbeatAt.Valid {
		v := heartbeatAt.Time
		t.HeartbeatAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	t.ErrorMessage = errMessage.String

	return &t, nil
}

// collectTasks drains rows into task structs, closing the result set.
func collectTasks(rows *sql.Rows) ([]*task.Task, error) {
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// nullableJSON converts empty JSON payloads to NULL.
func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

// nullableTime converts a nil time pointer to NULL.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// compile-time interface check
var _ task.Store = (*TaskStore)(nil)
