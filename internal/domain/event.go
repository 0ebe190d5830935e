package domain

import (
	"errors"
	"time"
)

// EventSource identifies which ingestion path observed an event.
type EventSource string

// Ingestion paths. Both feed the same dedup gate, so an event delivered
// by webhook and later re-discovered by a reconciliation scan is
// processed exactly once.
const (
	EventSourceWebhook EventSource = "webhook"
	EventSourceScan    EventSource = "scan"
)

// ErrEmptyExternalID is returned when a processed event lacks its
// external identifier.
var ErrEmptyExternalID = errors.New("event external ID cannot be empty")

// ProcessedEvent records that an externally observed event has already
// been ingested. The unique external_id insert is the dedup gate: a
// uniqueness violation means duplicate delivery.
type ProcessedEvent struct {
	ExternalID  string      `json:"external_id"`
	Source      EventSource `json:"source"`
	ProcessedAt time.Time   `json:"processed_at"`
}

// NewProcessedEvent creates a dedup record for the given external event.
func NewProcessedEvent(externalID string, source EventSource) (*ProcessedEvent, error) {
	if externalID == "" {
		return nil, ErrEmptyExternalID
	}

	return &ProcessedEvent{
		ExternalID:  externalID,
		Source:      source,
		ProcessedAt: time.Now().UTC(),
	}, nil
}
