package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Store defines the persistence operations the pipeline needs for tasks.
// Every mutation is atomic at the store level: concurrent workers and the
// reaper coordinate exclusively through these operations, never through
// read-then-write sequences in application code.
// Version: 1.0
type Store interface {
	// Create persists a new task.
	Create(ctx context.Context, t *Task) error

	// GetByID returns the task with the given ID, or store.ErrTaskNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*Task, error)

	// ClaimNext atomically claims the next runnable task for the given
	// worker and returns it with status running, owner set, and claim and
	// heartbeat timestamps set. A task is runnable when its status is
	// pending or retrying, its next_retry_at is unset or in the past, and
	// its dependency (if any) is completed. Among runnable tasks the
	// highest priority wins, ties broken by earliest creation time.
	// Returns (nil, nil) when no task is runnable; callers should back
	// off before polling again. Two concurrent calls never return the
	// same task.
	ClaimNext(ctx context.Context, workerID string) (*Task, error)

	// Heartbeat updates the task's heartbeat timestamp and reports whether
	// the caller still owns the task. A false return means the task was
	// reclaimed; the caller must abort execution and must not finalize.
	Heartbeat(ctx context.Context, taskID uuid.UUID, workerID string) (bool, error)

	// Complete marks the task completed with the given output, clears
	// ownership, and creates the successor task (if the kind has one) in
	// the same unit of work, with the successor depending on the completed
	// task. Returns store.ErrNotOwner if the caller no longer owns the
	// task. The updated task is returned.
	Complete(ctx context.Context, taskID uuid.UUID, workerID string, output json.RawMessage) (*Task, error)

	// Fail records a failure. With retryable true and budget remaining the
	// task moves to retrying with next_retry_at set per the kind's backoff
	// strategy; otherwise it fails permanently and the owning meeting is
	// marked failed. Returns store.ErrNotOwner if the caller no longer
	// owns the task. The updated task is returned.
	Fail(ctx context.Context, taskID uuid.UUID, workerID, reason string, retryable bool) (*Task, error)

	// ReclaimStale transitions running tasks whose heartbeat is older than
	// staleAfter back to retrying (or failed when the budget is spent),
	// incrementing retry_count and clearing ownership. Returns the number
	// of tasks swept.
	ReclaimStale(ctx context.Context, staleAfter time.Duration) (int, error)

	// FailOrphans fails pending tasks whose dependency has permanently
	// failed, recording the broken dependency as the reason. Returns the
	// number of tasks failed.
	FailOrphans(ctx context.Context) (int, error)

	// Stats returns queue counters for monitoring.
	Stats(ctx context.Context) (*Stats, error)

	// WithTx returns a Store bound to the provided transaction, allowing
	// task creation to participate in a caller-managed unit of work.
	WithTx(tx *sql.Tx) Store
}

// Stats holds queue counters for monitoring and the health endpoint.
type Stats struct {
	ByStatus       map[Status]int `json:"by_status"`
	ByKind         map[Kind]int   `json:"by_kind"`
	OldestRunnable *time.Time     `json:"oldest_runnable,omitempty"`
}
