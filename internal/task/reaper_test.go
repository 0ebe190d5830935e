package task_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recapd/recapd/internal/store/storetest"
	"github.com/recapd/recapd/internal/task"
)

// ageHeartbeat rewrites a running task's heartbeat into the past.
func ageHeartbeat(t *testing.T, s *storetest.MemTaskStore, id uuid.UUID, age time.Duration) {
	t.Helper()

	tk, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	old := time.Now().UTC().Add(-age)
	tk.HeartbeatAt = &old
	s.Update(tk)
}

func TestReclaimStale_ChargesRetryAndRequeues(t *testing.T) {
	t.Parallel()

	s := storetest.NewMemTaskStore()
	ctx := context.Background()

	tk := createTask(t, s, task.KindFetchTranscript)
	claimed, err := s.ClaimNext(ctx, "crashed-worker")
	require.NoError(t, err)
	require.Equal(t, tk.ID, claimed.ID)

	ageHeartbeat(t, s, tk.ID, 20*time.Minute)

	swept, err := s.ReclaimStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := s.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRetrying, got.Status)
	assert.Equal(t, 1, got.RetryCount, "a crashed attempt still charges the budget")
	assert.Empty(t, got.OwnerID)
	assert.Contains(t, got.ErrorMessage, "stopped heartbeating")
}

func TestReclaimStale_LeavesHealthyWorkersAlone(t *testing.T) {
	t.Parallel()

	s := storetest.NewMemTaskStore()
	ctx := context.Background()

	tk := createTask(t, s, task.KindFetchTranscript)
	_, err := s.ClaimNext(ctx, "healthy-worker")
	require.NoError(t, err)

	swept, err := s.ReclaimStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	got, err := s.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, got.Status)
	assert.Equal(t, "healthy-worker", got.OwnerID)
}

func TestReclaimStale_ExhaustedBudgetFailsPermanently(t *testing.T) {
	t.Parallel()

	meetings := storetest.NewMemMeetingStore()
	s := storetest.NewMemTaskStore()
	s.Meetings = meetings

	ctx := context.Background()

	tk := createTask(t, s, task.KindGenerateSummary)
	claimed, err := s.ClaimNext(ctx, "crashed-worker")
	require.NoError(t, err)

	// Burn the whole retry budget.
	burned, err := s.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	burned.RetryCount = burned.MaxRetries
	s.Update(burned)

	ageHeartbeat(t, s, tk.ID, time.Hour)

	swept, err := s.ReclaimStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := s.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "max retries exceeded")
}

func TestFailOrphans(t *testing.T) {
	t.Parallel()

	s := storetest.NewMemTaskStore()
	ctx := context.Background()

	parent := createTask(t, s, task.KindFetchTranscript)
	claimed, err := s.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	_, err = s.Fail(ctx, claimed.ID, "worker-1", "transcript gone", false)
	require.NoError(t, err)

	child, err := task.New(task.KindGenerateSummary, parent.MeetingID, nil, 0)
	require.NoError(t, err)
	dep := parent.ID
	child.DependsOn = &dep
	require.NoError(t, s.Create(ctx, child))

	orphaned, err := s.FailOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, orphaned)

	got, err := s.GetByID(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, parent.ID.String())
}

func TestFailOrphans_CompletedDependencyIsNotOrphaned(t *testing.T) {
	t.Parallel()

	s := storetest.NewMemTaskStore()
	ctx := context.Background()

	parent := createTask(t, s, task.KindFetchTranscript)
	claimed, err := s.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	_, err = s.Complete(ctx, claimed.ID, "worker-1", json.RawMessage(`{"transcript":"t"}`))
	require.NoError(t, err)

	orphaned, err := s.FailOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, orphaned)

	succs := s.ByKind(task.KindGenerateSummary)
	require.Len(t, succs, 1)
	assert.Equal(t, task.StatusPending, succs[0].Status)
	_ = parent
}

// TestCrashRecovery_EndToEnd walks the crash scenario: worker one claims
// and dies, the reaper requeues the task, worker two claims it, and
// worker one's late completion is rejected.
func TestCrashRecovery_EndToEnd(t *testing.T) {
	t.Parallel()

	s := storetest.NewMemTaskStore()
	ctx := context.Background()

	tk := createTask(t, s, task.KindFetchTranscript)

	claimed, err := s.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, tk.ID, claimed.ID)

	// worker-1 crashes; its heartbeat goes stale.
	ageHeartbeat(t, s, tk.ID, time.Hour)

	reaper := task.NewReaper(s, task.ReaperConfig{
		Interval:       time.Hour, // only the immediate startup sweep runs
		StaleThreshold: 15 * time.Minute,
	}, testLogger())
	reaper.Start()
	defer reaper.Stop()

	require.Eventually(t, func() bool {
		got, err := s.GetByID(ctx, tk.ID)
		return err == nil && got.Status == task.StatusRetrying
	}, 3*time.Second, 5*time.Millisecond)

	// Make the retry due and let worker-2 pick it up.
	requeued, err := s.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	past := time.Now().Add(-time.Second)
	requeued.NextRetryAt = &past
	s.Update(requeued)

	reclaimed, err := s.ClaimNext(ctx, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	require.Equal(t, tk.ID, reclaimed.ID)

	// worker-1 wakes up and tries to finalize: rejected.
	_, err = s.Complete(ctx, tk.ID, "worker-1", json.RawMessage(`{}`))
	assert.Error(t, err)

	// worker-2 finishes normally.
	done, err := s.Complete(ctx, tk.ID, "worker-2", json.RawMessage(`{"transcript":"t"}`))
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, done.Status)
}

func TestClaimNext_NoDoubleClaimUnderContention(t *testing.T) {
	t.Parallel()

	s := storetest.NewMemTaskStore()
	ctx := context.Background()

	const taskCount = 20
	for i := 0; i < taskCount; i++ {
		createTask(t, s, task.KindFetchTranscript)
	}

	const workers = 8
	claims := make(chan uuid.UUID, taskCount*2)
	done := make(chan struct{})

	for w := 0; w < workers; w++ {
		go func(w int) {
			workerID := uuid.New().String()
			for {
				tk, err := s.ClaimNext(ctx, workerID)
				if err != nil || tk == nil {
					done <- struct{}{}
					return
				}
				claims <- tk.ID
			}
		}(w)
	}

	for w := 0; w < workers; w++ {
		<-done
	}
	close(claims)

	seen := make(map[uuid.UUID]bool)
	for id := range claims {
		assert.False(t, seen[id], "task %s claimed twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, taskCount)
}

func TestClaimNext_RespectsDependencyAndOrder(t *testing.T) {
	t.Parallel()

	s := storetest.NewMemTaskStore()
	ctx := context.Background()

	low, err := task.New(task.KindFetchTranscript, uuid.New(), nil, 0)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, low))

	high, err := task.New(task.KindFetchTranscript, uuid.New(), nil, 5)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, high))

	blocked, err := task.New(task.KindGenerateSummary, low.MeetingID, nil, 9)
	require.NoError(t, err)
	dep := low.ID
	blocked.DependsOn = &dep
	require.NoError(t, s.Create(ctx, blocked))

	// Highest priority among runnable tasks wins; the blocked task's
	// higher priority does not matter while its dependency is incomplete.
	first, err := s.ClaimNext(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, high.ID, first.ID)

	second, err := s.ClaimNext(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, low.ID, second.ID)

	third, err := s.ClaimNext(ctx, "w")
	require.NoError(t, err)
	assert.Nil(t, third, "dependent task must wait for its prerequisite")

	_, err = s.Complete(ctx, low.ID, "w", nil)
	require.NoError(t, err)

	fourth, err := s.ClaimNext(ctx, "w")
	require.NoError(t, err)
	require.NotNil(t, fourth)
	assert.Equal(t, blocked.ID, fourth.ID)
}
