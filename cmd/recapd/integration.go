package main

import (
	"log/slog"

	"github.com/recapd/recapd/internal/ingest"
	"github.com/recapd/recapd/internal/task"
)

// pipelineExecutors returns the executor for each pipeline stage this
// build ships. The transcript fetcher, summarizer, and distributor are
// deployment integrations: this build wires none, so the daemon runs its
// orchestration surfaces (webhook, scanner, reaper, queue) and workers
// reject pipeline tasks until a deployment adds its executors here.
func pipelineExecutors(logger *slog.Logger) map[task.Kind]task.Executor {
	return map[task.Kind]task.Executor{}
}

// registerExecutors fills the registry from the deployment's executor
// set, warning once per stage left without one.
func registerExecutors(registry *task.Registry, executors map[task.Kind]task.Executor, logger *slog.Logger) {
	for _, kind := range []task.Kind{
		task.KindFetchTranscript,
		task.KindGenerateSummary,
		task.KindDistribute,
	} {
		executor, ok := executors[kind]
		if !ok {
			logger.Warn("no executor registered for task kind", "task_kind", kind)
			continue
		}
		registry.Register(kind, executor)
	}
}

// newEventFilter decides which discovered meetings get processed. A nil
// filter processes everything; a deployment running a pilot rollout
// replaces this with its opt-in lookup.
func newEventFilter(logger *slog.Logger) ingest.EventFilter {
	return nil
}

// newEventSource returns the pull-side client the reconciliation
// scanner lists events from. Returning nil disables the scanner; the
// webhook path still ingests pushed notifications.
func newEventSource(logger *slog.Logger) ingest.EventSource {
	return nil
}
