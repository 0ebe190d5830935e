// Package storetest provides in-memory implementations of the store
// interfaces with full claim, dependency, and retry semantics. They back
// the concurrency and lifecycle tests that must run without a database;
// the SQL-backed equivalents are exercised by the DB-gated tests in the
// postgres package.
package storetest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/recapd/recapd/internal/store"
	"github.com/recapd/recapd/internal/task"
)

// MemTaskStore is an in-memory task.Store. All operations take the
// store's single mutex, which gives them the same atomicity the real
// store gets from row locking.
type MemTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*task.Task

	// Meetings, when set, receives failure propagation the way the
	// Postgres store updates the meetings table.
	Meetings *MemMeetingStore
}

// NewMemTaskStore creates an empty in-memory task store.
func NewMemTaskStore() *MemTaskStore {
	return &MemTaskStore{
		tasks: make(map[uuid.UUID]*task.Task),
	}
}

// WithTx returns the store itself; the fake is not transactional.
func (s *MemTaskStore) WithTx(tx *sql.Tx) task.Store {
	return s
}

// Create persists a new task.
func (s *MemTaskStore) Create(ctx context.Context, t *task.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("%w: task %s", store.ErrDuplicate, t.ID)
	}

	s.tasks[t.ID] = clone(t)
	return nil
}

// GetByID returns a copy of the task with the given ID.
func (s *MemTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return clone(t), nil
}

// ClaimNext claims the next runnable task, highest priority first, ties
// broken by earliest creation.
func (s *MemTaskStore) ClaimNext(ctx context.Context, workerID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var runnable []*task.Task
	for _, t := range s.tasks {
		if t.Status != task.StatusPending && t.Status != task.StatusRetrying {
			continue
		}
		if t.NextRetryAt != nil && t.NextRetryAt.After(now) {
			continue
		}
		if t.DependsOn != nil {
			parent, ok := s.tasks[*t.DependsOn]
			if !ok || parent.Status != task.StatusCompleted {
				continue
			}
		}
		runnable = append(runnable, t)
	}

	if len(runnable) == 0 {
		return nil, nil
	}

	sort.Slice(runnable, func(i, j int) bool {
		if runnable[i].Priority != runnable[j].Priority {
			return runnable[i].Priority > runnable[j].Priority
		}
		return runnable[i].CreatedAt.Before(runnable[j].CreatedAt)
	})

	t := runnable[0]
	t.Status = task.StatusRunning
	t.OwnerID = workerID
	t.ClaimedAt = &now
	hb := now
	t.HeartbeatAt = &hb

	return clone(t), nil
}

// Heartbeat refreshes the heartbeat if the caller still owns the task.
func (s *MemTaskStore) Heartbeat(ctx context.Context, taskID uuid.UUID, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok || t.Status != task.StatusRunning || t.OwnerID != workerID {
		return false, nil
	}

	now := time.Now().UTC()
	t.HeartbeatAt = &now
	return true, nil
}

// Complete marks the task completed and creates its successor.
func (s *MemTaskStore) Complete(ctx context.Context, taskID uuid.UUID, workerID string, output json.RawMessage) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.Status != task.StatusRunning || t.OwnerID != workerID {
		return nil, fmt.Errorf("%w: task %s owned by %q", store.ErrNotOwner, taskID, t.OwnerID)
	}

	now := time.Now().UTC()
	t.Status = task.StatusCompleted
	t.Output = output
	t.CompletedAt = &now
	t.OwnerID = ""
	t.ErrorMessage = ""

	if succ, ok := task.NewSuccessor(t); ok {
		s.tasks[succ.ID] = succ
	}

	return clone(t), nil
}

// Fail records a failure, scheduling a retry or failing permanently per
// the kind's strategy and remaining budget.
func (s *MemTaskStore) Fail(ctx context.Context, taskID uuid.UUID, workerID, reason string, retryable bool) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.Status != task.StatusRunning || t.OwnerID != workerID {
		return nil, fmt.Errorf("%w: task %s owned by %q", store.ErrNotOwner, taskID, t.OwnerID)
	}

	s.applyFailure(t, reason, retryable)
	return clone(t), nil
}

// applyFailure mirrors the Postgres store's failure transition. Callers
// must hold the mutex.
func (s *MemTaskStore) applyFailure(t *task.Task, reason string, retryable bool) {
	now := time.Now().UTC()

	if retryable && t.RetryCount < t.MaxRetries {
		t.RetryCount++
		next := task.StrategyFor(t.Kind).NextRetryAt(now, t.RetryCount)
		t.Status = task.StatusRetrying
		t.NextRetryAt = &next
		t.OwnerID = ""
		t.ErrorMessage = reason
		return
	}

	message := reason
	if retryable {
		message = fmt.Sprintf("max retries exceeded: %s", reason)
	}

	t.Status = task.StatusFailed
	t.CompletedAt = &now
	t.OwnerID = ""
	t.ErrorMessage = message

	if s.Meetings != nil {
		s.Meetings.markFailed(t.MeetingID, message)
	}
}

// ReclaimStale sweeps running tasks with heartbeats older than staleAfter.
func (s *MemTaskStore) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-staleAfter)
	swept := 0

	for _, t := range s.tasks {
		if t.Status != task.StatusRunning {
			continue
		}
		if t.HeartbeatAt != nil && !t.HeartbeatAt.Before(cutoff) {
			continue
		}
		s.applyFailure(t, fmt.Sprintf("worker %s stopped heartbeating", t.OwnerID), true)
		swept++
	}

	return swept, nil
}

// FailOrphans fails pending tasks whose dependency permanently failed.
func (s *MemTaskStore) FailOrphans(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	orphaned := 0

	for _, t := range s.tasks {
		if t.Status != task.StatusPending || t.DependsOn == nil {
			continue
		}
		parent, ok := s.tasks[*t.DependsOn]
		if !ok || parent.Status != task.StatusFailed {
			continue
		}
		t.Status = task.StatusFailed
		t.CompletedAt = &now
		t.OwnerID = ""
		t.ErrorMessage = fmt.Sprintf("dependency %s permanently failed", *t.DependsOn)
		orphaned++
	}

	return orphaned, nil
}

// Stats returns queue counters.
func (s *MemTaskStore) Stats(ctx context.Context) (*task.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &task.Stats{
		ByStatus: make(map[task.Status]int),
		ByKind:   make(map[task.Kind]int),
	}

	for _, t := range s.tasks {
		stats.ByStatus[t.Status]++
		stats.ByKind[t.Kind]++

		if t.Status == task.StatusPending || t.Status == task.StatusRetrying {
			if stats.OldestRunnable == nil || t.CreatedAt.Before(*stats.OldestRunnable) {
				created := t.CreatedAt
				stats.OldestRunnable = &created
			}
		}
	}

	return stats, nil
}

// Update replaces the stored task, for tests that need to rewrite
// timestamps or statuses directly.
func (s *MemTaskStore) Update(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = clone(t)
}

// All returns copies of every stored task.
func (s *MemTaskStore) All() []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, clone(t))
	}
	return out
}

// ByKind returns copies of every stored task of the given kind.
func (s *MemTaskStore) ByKind(kind task.Kind) []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*task.Task
	for _, t := range s.tasks {
		if t.Kind == kind {
			out = append(out, clone(t))
		}
	}
	return out
}

func clone(t *task.Task) *task.Task {
	c := *t
	if t.DependsOn != nil {
		dep := *t.DependsOn
		c.DependsOn = &dep
	}
	if t.NextRetryAt != nil {
		v := *t.NextRetryAt
		c.NextRetryAt = &v
	}
	if t.ClaimedAt != nil {
		v := *t.ClaimedAt
		c.ClaimedAt = &v
	}
	if t.HeartbeatAt != nil {
		v := *t.HeartbeatAt
		c.HeartbeatAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// compile-time interface check
var _ task.Store = (*MemTaskStore)(nil)
