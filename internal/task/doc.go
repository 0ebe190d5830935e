// Package task implements the durable job orchestration core: the task
// model and its state machine, per-kind retry strategies, the worker
// pool that claims and executes tasks, and the reaper that recovers
// abandoned and orphaned work.
//
// Tasks form self-extending chains. Ingestion creates only the first
// fetch_transcript task; completing it creates the generate_summary
// task in the same transaction, and completing that creates the
// distribute task. Dependencies are explicit rows, and the store's
// claim operation only ever hands out tasks whose dependency has
// durably completed.
package task
