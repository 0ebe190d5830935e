package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/recapd/recapd/internal/platform/logger"
)

// ReaperConfig holds configuration for the reaper.
type ReaperConfig struct {
	// Interval is how often the sweeps run.
	Interval time.Duration

	// StaleThreshold is how old a running task's heartbeat may be before
	// the task is treated as abandoned. Must exceed the worker heartbeat
	// interval by a wide margin so a slow-but-alive worker is never
	// reclaimed.
	StaleThreshold time.Duration
}

// DefaultReaperConfig returns a ReaperConfig with reasonable defaults
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:       time.Minute,
		StaleThreshold: 15 * time.Minute,
	}
}

// Reaper periodically reclaims tasks abandoned by crashed workers and
// fails tasks whose dependency permanently failed. It runs on its own
// timer, independent of the worker pool, which is what makes the system
// self-healing without external supervision.
type Reaper struct {
	store  Store
	config ReaperConfig
	logger *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewReaper creates a new Reaper.
func NewReaper(s Store, config ReaperConfig, log *slog.Logger) *Reaper {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = 15 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Reaper{
		store:  s,
		config: config,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs one sweep immediately, then sweeps on the configured
// interval until Stop is called. The immediate sweep recovers tasks
// orphaned by a previous process crash without waiting a full interval.
func (r *Reaper) Start() {
	r.logger.Info("starting reaper",
		"interval", r.config.Interval,
		"stale_threshold", r.config.StaleThreshold)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		r.sweep()

		ticker := time.NewTicker(r.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

// Stop shuts the reaper down and waits for an in-progress sweep.
func (r *Reaper) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("reaper stopped")
}

// sweep runs the stale-running and orphan sweeps once.
func (r *Reaper) sweep() {
	ctx := logger.WithContext(r.ctx, r.logger)

	reclaimed, err := r.store.ReclaimStale(ctx, r.config.StaleThreshold)
	if err != nil {
		r.logger.Error("stale task sweep failed", "error", err)
	} else if reclaimed > 0 {
		r.logger.Info("reclaimed stale tasks", "count", reclaimed)
	}

	orphaned, err := r.store.FailOrphans(ctx)
	if err != nil {
		r.logger.Error("orphan sweep failed", "error", err)
	} else if orphaned > 0 {
		r.logger.Info("failed orphaned tasks", "count", orphaned)
	}
}
