package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/recapd/recapd/internal/domain"
)

// EventStore persists processed-event dedup records.
// Version: 1.0
type EventStore interface {
	// Insert records that an external event has been ingested. Returns
	// ErrEventAlreadyProcessed if a record with the same external ID
	// exists; that uniqueness violation is the dedup gate.
	Insert(ctx context.Context, ev *domain.ProcessedEvent) error

	// Delete removes a dedup record. This is the admin override that
	// allows an operator to force re-ingestion of an event whose task
	// chain failed terminally.
	Delete(ctx context.Context, externalID string) error

	// LatestProcessedAt returns the processed_at of the most recently
	// recorded event, or the zero time when none exist. The reconciliation
	// scanner uses this as an advisory resume checkpoint.
	LatestProcessedAt(ctx context.Context) (time.Time, error)

	// WithTx returns an EventStore bound to the provided transaction.
	WithTx(tx *sql.Tx) EventStore
}
