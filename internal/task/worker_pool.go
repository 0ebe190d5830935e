package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/recapd/recapd/internal/platform/logger"
	"github.com/recapd/recapd/internal/store"
)

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// PollInterval is how long an idle worker sleeps before asking the
	// store for work again
	PollInterval time.Duration

	// TaskTimeout is the wall-clock budget for one executor invocation.
	// A timed-out execution is reported as a transient failure so the
	// task retries on another attempt.
	TaskTimeout time.Duration

	// HeartbeatInterval is how often a worker refreshes its claim on the
	// task it is running. Must be well below the reaper's stale threshold.
	HeartbeatInterval time.Duration
}

// finalizeTimeout bounds the store write that records a task's outcome.
// Finalize calls run on a context detached from pool shutdown, so a
// stopping pool can still record its in-flight results; this keeps that
// write from hanging a shutdown on a stalled database.
const finalizeTimeout = 10 * time.Second

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:       5,
		PollInterval:      time.Second,
		TaskTimeout:       10 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
	}
}

// WorkerPool runs up to WorkerCount tasks concurrently. Each worker slot
// independently polls the store's atomic claim operation; workers never
// communicate with each other. While a task runs its worker heartbeats
// on a fixed interval, and a rejected heartbeat aborts execution without
// finalizing, since the reaper has reassigned the task.
type WorkerPool struct {
	store    Store
	registry *Registry
	config   WorkerPoolConfig
	logger   *slog.Logger

	// poolID prefixes each slot's worker identifier so restarted
	// processes never collide on ownership.
	poolID string

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(s Store, registry *Registry, config WorkerPoolConfig, log *slog.Logger) *WorkerPool {
	if config.WorkerCount <= 0 {
		log.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = 10 * time.Minute
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		store:    s,
		registry: registry,
		config:   config,
		logger:   log,
		poolID:   fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start() {
	p.logger.Info("starting worker pool",
		"pool_id", p.poolID,
		"worker_count", p.config.WorkerCount,
		"task_timeout", p.config.TaskTimeout,
		"heartbeat_interval", p.config.HeartbeatInterval)

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop signals all workers to stop and waits for in-flight tasks to
// finish. Cancelled executions are reported as transient failures, so a
// graceful restart never loses work.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped", "pool_id", p.poolID)
}

// worker is the claim-execute-finalize loop for one slot.
func (p *WorkerPool) worker(slot int) {
	defer p.wg.Done()

	workerID := fmt.Sprintf("%s-%d", p.poolID, slot)
	log := p.logger.With("worker_id", workerID)
	log.Debug("starting worker")

	for {
		select {
		case <-p.ctx.Done():
			log.Debug("stopping worker")
			return
		default:
		}

		ctx := logger.WithContext(p.ctx, log)
		t, err := p.store.ClaimNext(ctx, workerID)
		if err != nil {
			log.Error("failed to claim task", "error", err)
			p.sleep()
			continue
		}

		if t == nil {
			p.sleep()
			continue
		}

		p.runTask(t, workerID, log)
	}
}

// sleep waits one poll interval or until shutdown, whichever comes first.
func (p *WorkerPool) sleep() {
	select {
	case <-p.ctx.Done():
	case <-time.After(p.config.PollInterval):
	}
}

// runTask executes one claimed task and finalizes it. Ownership is
// checked on every heartbeat; once lost, execution is cancelled and no
// finalize call is made, because the store would reject it anyway.
func (p *WorkerPool) runTask(t *Task, workerID string, log *slog.Logger) {
	log = log.With(
		"task_id", t.ID,
		"task_kind", t.Kind,
		"meeting_id", t.MeetingID,
		"retry_count", t.RetryCount,
	)
	ctx := logger.WithContext(p.ctx, log)

	executor, ok := p.registry.Get(t.Kind)
	if !ok {
		// A kind with no executor can never succeed, on this worker or
		// any other.
		p.finalizeFailure(ctx, t, workerID, fmt.Sprintf("no executor registered for kind %q", t.Kind), false, log)
		return
	}

	execCtx, cancelExec := context.WithTimeout(ctx, p.config.TaskTimeout)
	defer cancelExec()

	var ownershipLost atomic.Bool
	hbDone := p.startHeartbeat(ctx, t, workerID, &ownershipLost, cancelExec, log)

	log.Info("processing task")
	output, execErr := p.execute(execCtx, executor, t)

	// Tear down the heartbeat before finalizing so a finalize-vs-heartbeat
	// race cannot touch the row after ownership is released.
	hbDone()

	if ownershipLost.Load() {
		// Expected under crash/reclaim scenarios; informational only.
		log.Info("lost task ownership mid-execution, abandoning result")
		return
	}

	if execErr == nil {
		finCtx, cancelFin := p.finalizeContext(ctx)
		defer cancelFin()

		completed, err := p.store.Complete(finCtx, t.ID, workerID, output)
		if err != nil {
			if store.IsNotOwnerError(err) {
				log.Info("task reassigned before completion could be recorded")
				return
			}
			log.Error("failed to record task completion", "error", err)
			return
		}
		log.Info("task completed successfully",
			"completed_at", completed.CompletedAt)
		return
	}

	reason := execErr.Error()
	retryable := !IsPermanent(execErr)
	if errors.Is(execErr, context.DeadlineExceeded) {
		reason = fmt.Sprintf("task timed out after %s", p.config.TaskTimeout)
		retryable = true
	} else if errors.Is(execErr, context.Canceled) {
		// Ownership loss is handled above, so cancellation here means the
		// pool is shutting down.
		reason = "execution cancelled by worker shutdown"
		retryable = true
	}

	p.finalizeFailure(ctx, t, workerID, reason, retryable, log)
}

// finalizeContext detaches the outcome-recording write from execution
// cancellation, so a graceful shutdown can still record its in-flight
// tasks instead of leaving them running until the reaper sweeps them.
// Context values (the request logger) are preserved.
func (p *WorkerPool) finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

type execResult struct {
	output []byte
	err    error
}

// execute invokes the executor in its own goroutine and waits for either
// its result or context expiry, so an executor that ignores cancellation
// cannot hold the worker slot past the task timeout. An abandoned call's
// late result is dropped; the store's owner checks keep the abandoned
// attempt from ever touching the row. Panics become transient errors so
// a buggy executor cannot take down the slot.
func (p *WorkerPool) execute(ctx context.Context, executor Executor, t *Task) ([]byte, error) {
	results := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- execResult{err: fmt.Errorf("executor panicked: %v", r)}
			}
		}()

		output, err := executor.Execute(ctx, t)
		results <- execResult{output: output, err: err}
	}()

	select {
	case res := <-results:
		return res.output, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finalizeFailure records a failure, tolerating lost ownership.
func (p *WorkerPool) finalizeFailure(ctx context.Context, t *Task, workerID, reason string, retryable bool, log *slog.Logger) {
	ctx, cancel := p.finalizeContext(ctx)
	defer cancel()

	failed, err := p.store.Fail(ctx, t.ID, workerID, reason, retryable)
	if err != nil {
		if store.IsNotOwnerError(err) {
			log.Info("task reassigned before failure could be recorded")
			return
		}
		log.Error("failed to record task failure", "error", err)
		return
	}

	if failed.Status == StatusFailed {
		log.Error("task permanently failed", "reason", failed.ErrorMessage)
	} else {
		log.Warn("task failed, will retry",
			"next_retry_at", failed.NextRetryAt,
			"new_retry_count", failed.RetryCount)
	}
}

// startHeartbeat launches the per-task heartbeat loop and returns its
// teardown function. The teardown is idempotent and waits for the loop
// to exit, so it is safe on every exit path.
func (p *WorkerPool) startHeartbeat(ctx context.Context, t *Task, workerID string, lost *atomic.Bool, cancelExec context.CancelFunc, log *slog.Logger) func() {
	hbCtx, hbCancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(p.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				alive, err := p.store.Heartbeat(ctx, t.ID, workerID)
				if err != nil {
					// Transient store errors are not loss of ownership;
					// the next tick retries.
					log.Warn("heartbeat update failed", "error", err)
					continue
				}
				if !alive {
					lost.Store(true)
					cancelExec()
					return
				}
				log.Debug("heartbeat updated")
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			hbCancel()
			<-done
		})
	}
}
