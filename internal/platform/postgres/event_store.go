package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/recapd/recapd/internal/domain"
	"github.com/recapd/recapd/internal/platform/logger"
	"github.com/recapd/recapd/internal/store"
)

// EventStore implements the store.EventStore interface using PostgreSQL.
// The unique index on external_id is the dedup gate for the whole
// ingestion layer.
type EventStore struct {
	db store.DBTX
}

// NewEventStore creates a new EventStore.
func NewEventStore(db store.DBTX) *EventStore {
	return &EventStore{db: db}
}

// WithTx returns an EventStore bound to the provided transaction.
func (s *EventStore) WithTx(tx *sql.Tx) store.EventStore {
	return &EventStore{db: tx}
}

// Insert records a processed event. A unique violation maps to
// store.ErrEventAlreadyProcessed.
func (s *EventStore) Insert(ctx context.Context, ev *domain.ProcessedEvent) error {
	query := `
		INSERT INTO processed_events (external_id, source, processed_at)
		VALUES ($1, $2, $3)
	`

	_, err := s.db.ExecContext(ctx, query, ev.ExternalID, ev.Source, ev.ProcessedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrEventAlreadyProcessed, ev.ExternalID)
		}
		logger.FromContext(ctx).Error("failed to insert processed event",
			"external_id", ev.ExternalID,
			"source", ev.Source,
			"error", err)
		return fmt.Errorf("failed to insert processed event: %w", MapError(err))
	}

	return nil
}

// Delete removes a dedup record so the event can be re-ingested. Used by
// the operator override path only; normal ingestion never deletes.
func (s *EventStore) Delete(ctx context.Context, externalID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE external_id = $1`, externalID)
	if err != nil {
		return fmt.Errorf("failed to delete processed event: %w", MapError(err))
	}

	return CheckRowsAffected(result, "processed event")
}

// LatestProcessedAt returns the most recent processed_at, or the zero
// time when no events have been recorded.
func (s *EventStore) LatestProcessedAt(ctx context.Context) (time.Time, error) {
	var latest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT max(processed_at) FROM processed_events`).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest processed event: %w", MapError(err))
	}

	if !latest.Valid {
		return time.Time{}, nil
	}

	return latest.Time, nil
}

// compile-time interface check
var _ store.EventStore = (*EventStore)(nil)
