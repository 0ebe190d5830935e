package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/recapd/recapd/internal/domain"
)

// MeetingStore persists the business entities the task chains operate on.
// Version: 1.0
type MeetingStore interface {
	// Create persists a new meeting. Returns ErrDuplicate if a meeting
	// with the same external ID already exists.
	Create(ctx context.Context, m *domain.Meeting) error

	// GetByExternalID returns the meeting with the given external ID,
	// or ErrMeetingNotFound.
	GetByExternalID(ctx context.Context, externalID string) (*domain.Meeting, error)

	// UpdateStatus sets the meeting's status and, for failures and skips,
	// the accompanying reason.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.MeetingStatus, reason string) error

	// WithTx returns a MeetingStore bound to the provided transaction.
	WithTx(tx *sql.Tx) MeetingStore
}
