package storetest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/recapd/recapd/internal/domain"
	"github.com/recapd/recapd/internal/store"
)

// MemMeetingStore is an in-memory store.MeetingStore.
type MemMeetingStore struct {
	mu       sync.Mutex
	meetings map[uuid.UUID]*domain.Meeting
}

// NewMemMeetingStore creates an empty in-memory meeting store.
func NewMemMeetingStore() *MemMeetingStore {
	return &MemMeetingStore{
		meetings: make(map[uuid.UUID]*domain.Meeting),
	}
}

// WithTx returns the store itself; the fake is not transactional.
func (s *MemMeetingStore) WithTx(tx *sql.Tx) store.MeetingStore {
	return s
}

// Create persists a new meeting, enforcing external ID uniqueness.
func (s *MemMeetingStore) Create(ctx context.Context, m *domain.Meeting) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.meetings {
		if existing.ExternalID == m.ExternalID {
			return fmt.Errorf("%w: meeting %s", store.ErrDuplicate, m.ExternalID)
		}
	}

	copied := *m
	s.meetings[m.ID] = &copied
	return nil
}

// GetByExternalID returns the meeting with the given external ID.
func (s *MemMeetingStore) GetByExternalID(ctx context.Context, externalID string) (*domain.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.meetings {
		if m.ExternalID == externalID {
			copied := *m
			return &copied, nil
		}
	}
	return nil, store.ErrMeetingNotFound
}

// UpdateStatus sets the meeting's status and reason.
func (s *MemMeetingStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.MeetingStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return store.ErrMeetingNotFound
	}

	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	switch status {
	case domain.MeetingStatusFailed:
		m.ErrorMessage = reason
	case domain.MeetingStatusSkipped:
		m.SkipReason = reason
	}
	return nil
}

// markFailed is the failure propagation hook used by MemTaskStore.
func (s *MemMeetingStore) markFailed(id uuid.UUID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.meetings[id]; ok {
		m.Status = domain.MeetingStatusFailed
		m.ErrorMessage = reason
		m.UpdatedAt = time.Now().UTC()
	}
}

// Get returns a copy of the meeting with the given ID.
func (s *MemMeetingStore) Get(id uuid.UUID) (*domain.Meeting, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return nil, false
	}
	copied := *m
	return &copied, true
}

// compile-time interface check
var _ store.MeetingStore = (*MemMeetingStore)(nil)
