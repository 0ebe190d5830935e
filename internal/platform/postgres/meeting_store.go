package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/recapd/recapd/internal/domain"
	"github.com/recapd/recapd/internal/platform/logger"
	"github.com/recapd/recapd/internal/store"
)

// MeetingStore implements the store.MeetingStore interface using PostgreSQL.
type MeetingStore struct {
	db store.DBTX
}

// NewMeetingStore creates a new MeetingStore.
func NewMeetingStore(db store.DBTX) *MeetingStore {
	return &MeetingStore{db: db}
}

// WithTx returns a MeetingStore bound to the provided transaction.
func (s *MeetingStore) WithTx(tx *sql.Tx) store.MeetingStore {
	return &MeetingStore{db: tx}
}

// Create persists a new meeting.
func (s *MeetingStore) Create(ctx context.Context, m *domain.Meeting) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO meetings (id, external_id, subject, organizer_email, start_time,
			end_time, status, skip_reason, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.ExternalID,
		m.Subject,
		m.OrganizerEmail,
		nullableTime(m.StartTime),
		nullableTime(m.EndTime),
		m.Status,
		m.SkipReason,
		m.ErrorMessage,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: meeting %s", store.ErrDuplicate, m.ExternalID)
		}
		logger.FromContext(ctx).Error("failed to save meeting",
			"meeting_id", m.ID,
			"external_id", m.ExternalID,
			"error", err)
		return fmt.Errorf("failed to save meeting: %w", MapError(err))
	}

	return nil
}

// GetByExternalID returns the meeting with the given external ID.
func (s *MeetingStore) GetByExternalID(ctx context.Context, externalID string) (*domain.Meeting, error) {
	query := `
		SELECT id, external_id, subject, organizer_email, start_time, end_time,
			status, skip_reason, error_message, created_at, updated_at
		FROM meetings
		WHERE external_id = $1
	`

	var (
		m          domain.Meeting
		startTime  sql.NullTime
		endTime    sql.NullTime
		skipReason sql.NullString
		errMessage sql.NullString
	)

	err := s.db.QueryRowContext(ctx, query, externalID).Scan(
		&m.ID, &m.ExternalID, &m.Subject, &m.OrganizerEmail,
		&startTime, &endTime, &m.Status, &skipReason, &errMessage,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrMeetingNotFound
		}
		return nil, fmt.Errorf("failed to get meeting: %w", MapError(err))
	}

	if startTime.Valid {
		v := startTime.Time
		m.StartTime = &v
	}
	if endTime.Valid {
		v := endTime.Time
		m.EndTime = &v
	}
	m.SkipReason = skipReason.String
	m.ErrorMessage = errMessage.String

	return &m, nil
}

// UpdateStatus sets the meeting's status and reason.
func (s *MeetingStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.MeetingStatus, reason string) error {
	var query string
	switch status {
	case domain.MeetingStatusFailed:
		query = `UPDATE meetings SET status = $2, error_message = $3, updated_at = $4 WHERE id = $1`
	case domain.MeetingStatusSkipped:
		query = `UPDATE meetings SET status = $2, skip_reason = $3, updated_at = $4 WHERE id = $1`
	default:
		query = `UPDATE meetings SET status = $2, error_message = $3, updated_at = $4 WHERE id = $1`
		reason = ""
	}

	result, err := s.db.ExecContext(ctx, query, id, status, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update meeting status: %w", MapError(err))
	}

	return CheckRowsAffected(result, "meeting")
}

// compile-time interface check
var _ store.MeetingStore = (*MeetingStore)(nil)
