package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MeetingStatus represents the processing state of a meeting
type MeetingStatus string

// Possible meeting status values
const (
	MeetingStatusDiscovered MeetingStatus = "discovered"
	MeetingStatusQueued     MeetingStatus = "queued"
	MeetingStatusCompleted  MeetingStatus = "completed"
	MeetingStatusFailed     MeetingStatus = "failed"
	MeetingStatusSkipped    MeetingStatus = "skipped"
)

// Common validation errors for Meeting
var (
	ErrEmptyMeetingID         = errors.New("meeting ID cannot be empty")
	ErrEmptyMeetingExternalID = errors.New("meeting external ID cannot be empty")
	ErrInvalidMeetingStatus   = errors.New("invalid meeting status")
)

// Meeting is the business entity the pipeline operates on: one recorded
// meeting discovered via webhook or reconciliation scan. The pipeline
// advances its status as the task chain progresses; everything else is
// metadata carried for the executors.
type Meeting struct {
	ID             uuid.UUID     `json:"id"`
	ExternalID     string        `json:"external_id"`
	Subject        string        `json:"subject"`
	OrganizerEmail string        `json:"organizer_email"`
	StartTime      *time.Time    `json:"start_time,omitempty"`
	EndTime        *time.Time    `json:"end_time,omitempty"`
	Status         MeetingStatus `json:"status"`
	SkipReason     string        `json:"skip_reason,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewMeeting creates a new Meeting in the discovered state.
// Returns an error if validation fails.
func NewMeeting(externalID, subject, organizerEmail string) (*Meeting, error) {
	now := time.Now().UTC()
	m := &Meeting{
		ID:             uuid.New(),
		ExternalID:     externalID,
		Subject:        subject,
		OrganizerEmail: organizerEmail,
		Status:         MeetingStatusDiscovered,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

// Validate checks if the Meeting has valid data.
func (m *Meeting) Validate() error {
	if m.ID == uuid.Nil {
		return ErrEmptyMeetingID
	}

	if m.ExternalID == "" {
		return ErrEmptyMeetingExternalID
	}

	if !isValidMeetingStatus(m.Status) {
		return ErrInvalidMeetingStatus
	}

	return nil
}

// UpdateStatus updates the meeting's status and updates the UpdatedAt timestamp.
func (m *Meeting) UpdateStatus(status MeetingStatus) error {
	if !isValidMeetingStatus(status) {
		return ErrInvalidMeetingStatus
	}

	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func isValidMeetingStatus(s MeetingStatus) bool {
	switch s {
	case MeetingStatusDiscovered, MeetingStatusQueued, MeetingStatusCompleted,
		MeetingStatusFailed, MeetingStatusSkipped:
		return true
	}
	return false
}
