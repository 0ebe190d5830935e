package storetest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/recapd/recapd/internal/domain"
	"github.com/recapd/recapd/internal/store"
)

// MemEventStore is an in-memory store.EventStore.
type MemEventStore struct {
	mu     sync.Mutex
	events map[string]*domain.ProcessedEvent
}

// NewMemEventStore creates an empty in-memory event store.
func NewMemEventStore() *MemEventStore {
	return &MemEventStore{
		events: make(map[string]*domain.ProcessedEvent),
	}
}

// WithTx returns the store itself; the fake is not transactional.
func (s *MemEventStore) WithTx(tx *sql.Tx) store.EventStore {
	return s
}

// Insert records a processed event, enforcing external ID uniqueness.
func (s *MemEventStore) Insert(ctx context.Context, ev *domain.ProcessedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[ev.ExternalID]; exists {
		return fmt.Errorf("%w: %s", store.ErrEventAlreadyProcessed, ev.ExternalID)
	}

	copied := *ev
	s.events[ev.ExternalID] = &copied
	return nil
}

// Delete removes a dedup record.
func (s *MemEventStore) Delete(ctx context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[externalID]; !exists {
		return fmt.Errorf("%w: processed event not found", store.ErrNotFound)
	}

	delete(s.events, externalID)
	return nil
}

// LatestProcessedAt returns the most recent processed_at, or the zero time.
func (s *MemEventStore) LatestProcessedAt(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest time.Time
	for _, ev := range s.events {
		if ev.ProcessedAt.After(latest) {
			latest = ev.ProcessedAt
		}
	}
	return latest, nil
}

// Count returns the number of recorded events.
func (s *MemEventStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// compile-time interface check
var _ store.EventStore = (*MemEventStore)(nil)
