// Package postgres provides PostgreSQL implementations of the store
// interfaces. The task store relies on FOR UPDATE SKIP LOCKED for atomic
// claiming and on row locks for every finalize transition, so the
// database is the single coordination substrate for concurrent workers
// and the reaper.
package postgres
