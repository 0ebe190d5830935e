package ingest

import (
	"context"
	"time"
)

// EventPayload carries the meeting details observed alongside an
// external event. The core passes it through opaquely except for the
// fields the graph builder needs to create the meeting record.
type EventPayload struct {
	MeetingExternalID string     `json:"meeting_external_id"`
	Subject           string     `json:"subject"`
	OrganizerEmail    string     `json:"organizer_email"`
	StartTime         *time.Time `json:"start_time,omitempty"`
	EndTime           *time.Time `json:"end_time,omitempty"`
}

// SourceEvent is one event returned by the external event source.
type SourceEvent struct {
	ExternalID string
	Payload    EventPayload
	Timestamp  time.Time
}

// EventSource is the pull side of the external event feed, implemented
// by the caller (a Graph API client in production). Results are
// paginated; an empty next-page token ends the scan.
type EventSource interface {
	ListEventsSince(ctx context.Context, since time.Time, pageToken string) (events []SourceEvent, nextPage string, err error)
}

// EventFilter decides whether a discovered event warrants processing,
// for example whether any meeting participant has opted in. A negative
// decision records the event as skipped so it is never re-evaluated.
type EventFilter interface {
	ShouldProcess(ctx context.Context, payload EventPayload) (bool, string, error)
}

// FilterFunc adapts a function to the EventFilter interface.
type FilterFunc func(ctx context.Context, payload EventPayload) (bool, string, error)

// ShouldProcess implements EventFilter.
func (f FilterFunc) ShouldProcess(ctx context.Context, payload EventPayload) (bool, string, error) {
	return f(ctx, payload)
}

// AllowAll is an EventFilter that processes every event.
var AllowAll = FilterFunc(func(ctx context.Context, payload EventPayload) (bool, string, error) {
	return true, "", nil
})
