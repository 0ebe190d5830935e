package postgres_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recapd/recapd/internal/domain"
	"github.com/recapd/recapd/internal/platform/postgres"
	"github.com/recapd/recapd/internal/store"
	"github.com/recapd/recapd/internal/task"
	"github.com/recapd/recapd/internal/testdb"
)

func createTestMeeting(t *testing.T, db *sql.DB) *domain.Meeting {
	t.Helper()

	m, err := domain.NewMeeting(uuid.New().String(), "Planning", "organizer@example.com")
	require.NoError(t, err)

	meetings := postgres.NewMeetingStore(db)
	require.NoError(t, meetings.Create(context.Background(), m))
	return m
}

func createTestTask(t *testing.T, db *sql.DB, kind task.Kind, priority int) *task.Task {
	t.Helper()

	m := createTestMeeting(t, db)
	tk, err := task.New(kind, m.ID, json.RawMessage(`{"n":1}`), priority)
	require.NoError(t, err)

	tasks := postgres.NewTaskStore(db)
	require.NoError(t, tasks.Create(context.Background(), tk))
	return tk
}

func TestTaskStore_CreateAndGet(t *testing.T) {
	db := testdb.New(t)
	tasks := postgres.NewTaskStore(db)
	ctx := context.Background()

	created := createTestTask(t, db, task.KindFetchTranscript, 2)

	got, err := tasks.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, task.KindFetchTranscript, got.Kind)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, 2, got.Priority)
	assert.JSONEq(t, `{"n":1}`, string(got.Input))
	assert.Equal(t, 5, got.MaxRetries)

	_, err = tasks.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_ClaimNext(t *testing.T) {
	db := testdb.New(t)
	tasks := postgres.NewTaskStore(db)
	ctx := context.Background()

	created := createTestTask(t, db, task.KindFetchTranscript, 0)

	claimed, err := tasks.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, created.ID, claimed.ID)
	assert.Equal(t, task.StatusRunning, claimed.Status)
	assert.Equal(t, "worker-1", claimed.OwnerID)
	require.NotNil(t, claimed.ClaimedAt)
	require.NotNil(t, claimed.HeartbeatAt)

	// Nothing else runnable.
	second, err := tasks.ClaimNext(ctx, "worker-2")
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestTaskStore_ClaimNext_SkipsFutureRetriesAndBlockedDeps(t *testing.T) {
	db := testdb.New(t)
	tasks := postgres.NewTaskStore(db)
	ctx := context.Background()

	// A retrying task whose next attempt is in the future.
	m := createTestMeeting(t, db)
	future, err := task.New(task.KindFetchTranscript, m.ID, nil, 9)
	require.NoError(t, err)
	future.Status = task.StatusRetrying
	future.RetryCount = 1
	at := time.Now().Add(time.Hour)
	future.NextRetryAt = &at
	require.NoError(t, tasks.Create(ctx, future))

	// A pending task blocked on an incomplete dependency.
	parent := createTestTask(t, db, task.KindFetchTranscript, 0)
	child, err := task.New(task.KindGenerateSummary, parent.MeetingID, nil, 9)
	require.NoError(t, err)
	dep := parent.ID
	child.DependsOn = &dep
	require.NoError(t, tasks.Create(ctx, child))

	// Only the unblocked parent is claimable, despite its lower priority.
	claimed, err := tasks.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, parent.ID, claimed.ID)

	next, err := tasks.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestTaskStore_ClaimNext_NoDoubleClaimUnderContention(t *testing.T) {
	db := testdb.New(t)
	tasks := postgres.NewTaskStore(db)
	ctx := context.Background()

	const taskCount = 10
	for i := 0; i < taskCount; i++ {
		createTestTask(t, db, task.KindFetchTranscript, 0)
	}

	const workers = 4
	var mu sync.Mutex
	seen := make(map[uuid.UUID]string)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			workerID := fmt.Sprintf("worker-%d", w)
			for {
				tk, err := tasks.ClaimNext(ctx, workerID)
				require.NoError(t, err)
				if tk == nil {
					return
				}

				mu.Lock()
				prev, dup := seen[tk.ID]
				seen[tk.ID] = workerID
				mu.Unlock()
				require.False(t, dup, "task %s claimed by both %s and %s", tk.ID, prev, workerID)
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, seen, taskCount)
}

func TestTaskStore_Heartbeat(t *testing.T) {
	db := testdb.New(t)
	tasks := postgres.NewTaskStore(db)
	ctx := context.Background()

	createTestTask(t, db, task.KindFetchTranscript, 0)
	claimed, err := tasks.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	alive, err := tasks.Heartbeat(ctx, claimed.ID, "worker-1")
	require.NoError(t, err)
	assert.True(t, alive)

	// The wrong worker gets false, not an error.
	alive, err = tasks.Heartbeat(ctx, claimed.ID, "worker-2")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestTaskStore_CompleteCreatesSuccessor(t *testing.T) {
	db := testdb.New(t)
	tasks := postgres.NewTaskStore(db)
	ctx := context.Background()

	createTestTask(t, db, task.KindFetchTranscript, 3)
	claimed, err := tasks.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	output := json.RawMessage(`{"transcript":"hello"}`)
	done, err := tasks.Complete(ctx, claimed.ID, "worker-1", output)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	// The successor exists, depends on the completed task, and inherits
	// its output as input.
	succ, err := tasks.ClaimNext(ctx, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, succ)
	assert.Equal(t, task.KindGenerateSummary, succ.Kind)
	require.NotNil(t, succ.DependsOn)
	assert.Equal(t, claimed.ID, *succ.DependsOn)
	assert.JSONEq(t, string(output), string(succ.Input))
	assert.Equal(t, 3, succ.Priority)
}

func TestTaskStore_CompleteRejectsNonOwner(t *testing.T) {
	db := testdb.New(t)
	tasks := postgres.NewTaskStore(db)
	ctx := context.Background()

	createTestTask(t, db, task.KindFetchTranscript, 0)
	claimed, err := tasks.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	_, err = tasks.Complete(ctx, claimed.ID, "worker-2", nil)
	assert.ErrorIs(t, err, store.ErrNotOwner)

	got, err := tasks.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, got.Status)
	assert.Equal(t, "worker-1", got.OwnerID)
}

func TestTaskStore_FailSchedulesRetryThenFailsPermanently(t *testing.T) {
	db := testdb.New(t)
	tasks := postgres.NewTaskStore(db)
	meetings := postgres.NewMeetingStore(db)
	ctx := context.Background()

	created := createTestTask(t, db, task.KindGenerateSummary, 0) // 2 retries

	for attempt := 1; attempt <= 2; attempt++ {
		// Make any scheduled retry due immediately.
		_, err := db.ExecContext(ctx,
			`UPDATE tasks SET next_retry_at = now() - interval '1 second' WHERE id = $1`,
			created.ID)
		require.NoError(t, err)

		claimed, err := tasks.ClaimNext(ctx, "worker-1")
		require.NoError(t, err)
		require.NotNil(t, claimed)

		failed, err := tasks.Fail(ctx, claimed.ID, "worker-1", "rate limited", true)
		require.NoError(t, err)
		assert.Equal(t, task.StatusRetrying, failed.Status)
		assert.Equal(t, attempt, failed.RetryCount)
		require.NotNil(t, failed.NextRetryAt)
	}

	// Third attempt exhausts the budget.
	_, err := db.ExecContext(ctx,
		`UPDATE tasks SET next_retry_at = now() - interval '1 second' WHERE id = $1`,
		created.ID)
	require.NoError(t, err)

	claimed, err := tasks.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	failed, err := tasks.Fail(ctx, claimed.ID, "worker-1", "rate limited", true)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, failed.Status)
	assert.Equal(t, "max retries exceeded: rate limited", failed.ErrorMessage)

	// The terminal failure propagated to the meeting.
	m, err := meetings.GetByExternalID(ctx, meetingExternalID(t, db, created.MeetingID))
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingStatusFailed, m.Status)
	assert.Equal(t, "max retries exceeded: rate limited", m.ErrorMessage)
}

func TestTaskStore_ReclaimStale(t *testing.T) {
	db := testdb.New(t)
	tasks := postgres.NewTaskStore(db)
	ctx := context.Background()

	created := createTestTask(t, db, task.KindFetchTranscript, 0)
	_, err := tasks.ClaimNext(ctx, "crashed-worker")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx,
		`UPDATE tasks SET heartbeat_at = now() - interval '30 minutes' WHERE id = $1`,
		created.ID)
	require.NoError(t, err)

	swept, err := tasks.ReclaimStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := tasks.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRetrying, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.OwnerID)
}

func TestTaskStore_FailOrphans(t *testing.T) {
	db := testdb.New(t)
	tasks := postgres.NewTaskStore(db)
	ctx := context.Background()

	parent := createTestTask(t, db, task.KindFetchTranscript, 0)
	claimed, err := tasks.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	_, err = tasks.Fail(ctx, claimed.ID, "worker-1", "transcript deleted upstream", false)
	require.NoError(t, err)

	child, err := task.New(task.KindGenerateSummary, parent.MeetingID, nil, 0)
	require.NoError(t, err)
	dep := parent.ID
	child.DependsOn = &dep
	require.NoError(t, tasks.Create(ctx, child))

	orphaned, err := tasks.FailOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, orphaned)

	got, err := tasks.GetByID(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, parent.ID.String())
}

func TestTaskStore_Stats(t *testing.T) {
	db := testdb.New(t)
	tasks := postgres.NewTaskStore(db)
	ctx := context.Background()

	createTestTask(t, db, task.KindFetchTranscript, 0)
	createTestTask(t, db, task.KindFetchTranscript, 0)
	_, err := tasks.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	stats, err := tasks.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByStatus[task.StatusPending])
	assert.Equal(t, 1, stats.ByStatus[task.StatusRunning])
	assert.Equal(t, 2, stats.ByKind[task.KindFetchTranscript])
	require.NotNil(t, stats.OldestRunnable)
}

// meetingExternalID looks up a meeting's external ID by primary key.
func meetingExternalID(t *testing.T, db *sql.DB, id uuid.UUID) string {
	t.Helper()

	var externalID string
	err := db.QueryRowContext(context.Background(),
		`SELECT external_id FROM meetings WHERE id = $1`, id).Scan(&externalID)
	require.NoError(t, err)
	return externalID
}
