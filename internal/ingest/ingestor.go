package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/recapd/recapd/internal/domain"
	"github.com/recapd/recapd/internal/store"
	"github.com/recapd/recapd/internal/task"
)

// Decision is the outcome of ingesting one external event.
type Decision string

// Possible ingestion decisions
const (
	// DecisionCreated means the event was new and a task graph was built.
	DecisionCreated Decision = "created"

	// DecisionDuplicate means the event was already ingested, via either
	// delivery path; nothing was changed.
	DecisionDuplicate Decision = "duplicate"

	// DecisionSkipped means the event was new but filtered out; the dedup
	// record was still written so the event is never re-evaluated.
	DecisionSkipped Decision = "skipped"
)

// TxRunner executes a function within a unit of work. In production it
// is store.RunInTransaction bound to the application database; tests
// substitute an inline runner.
type TxRunner func(ctx context.Context, fn store.TxFn) error

// InlineTxRunner runs the function without a transaction, for use with
// the in-memory store fakes.
func InlineTxRunner(ctx context.Context, fn store.TxFn) error {
	return fn(ctx, nil)
}

// Ingestor is the dedup gate and task graph builder. Both delivery
// paths (webhook push and reconciliation scan) feed every observed
// event through IngestEvent; inserting the processed-event record is
// the sole idempotency mechanism, so redelivery and push/scan overlap
// are absorbed here.
type Ingestor struct {
	txRunner TxRunner
	events   store.EventStore
	meetings store.MeetingStore
	tasks    task.Store
	filter   EventFilter
	priority int
	logger   *slog.Logger
}

// NewIngestor creates an Ingestor. Tasks created for ingested events get
// the given priority.
func NewIngestor(
	txRunner TxRunner,
	events store.EventStore,
	meetings store.MeetingStore,
	tasks task.Store,
	filter EventFilter,
	priority int,
	log *slog.Logger,
) *Ingestor {
	if filter == nil {
		filter = AllowAll
	}

	return &Ingestor{
		txRunner: txRunner,
		events:   events,
		meetings: meetings,
		tasks:    tasks,
		filter:   filter,
		priority: priority,
		logger:   log,
	}
}

// fetchInput is the input payload of the initial fetch_transcript task.
type fetchInput struct {
	MeetingID         uuid.UUID `json:"meeting_id"`
	MeetingExternalID string    `json:"meeting_external_id"`
	OrganizerEmail    string    `json:"organizer_email,omitempty"`
}

// IngestEvent processes one externally observed event. The dedup
// record, the meeting entity, and the initial fetch task are written in
// a single unit of work, so a crash mid-ingest leaves no half-built
// graph behind the dedup gate.
func (i *Ingestor) IngestEvent(ctx context.Context, externalID string, payload EventPayload, source domain.EventSource) (Decision, error) {
	log := i.logger.With(
		"external_id", externalID,
		"source", source,
	)

	decision := DecisionCreated
	err := i.txRunner(ctx, func(ctx context.Context, tx *sql.Tx) error {
		events, meetings, tasks := i.stores(tx)

		ev, err := domain.NewProcessedEvent(externalID, source)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}

		if err := events.Insert(ctx, ev); err != nil {
			return err
		}

		process, reason, err := i.filter.ShouldProcess(ctx, payload)
		if err != nil {
			return fmt.Errorf("event filter failed: %w", err)
		}

		if !process {
			decision = DecisionSkipped
			// Record the meeting as skipped so the dashboard of the
			// embedding application can show why nothing happened.
			if err := i.ensureSkippedMeeting(ctx, meetings, payload, reason); err != nil {
				return err
			}
			log.Info("event skipped", "reason", reason)
			return nil
		}

		m, err := i.ensureQueuedMeeting(ctx, meetings, payload)
		if err != nil {
			return err
		}

		input, err := json.Marshal(fetchInput{
			MeetingID:         m.ID,
			MeetingExternalID: m.ExternalID,
			OrganizerEmail:    m.OrganizerEmail,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal task input: %w", err)
		}

		fetch, err := task.New(task.KindFetchTranscript, m.ID, input, i.priority)
		if err != nil {
			return fmt.Errorf("failed to build fetch task: %w", err)
		}

		if err := tasks.Create(ctx, fetch); err != nil {
			return err
		}

		log.Info("event ingested, task graph created",
			"meeting_id", m.ID,
			"task_id", fetch.ID)
		return nil
	})
	if err != nil {
		if store.IsDuplicateError(err) {
			log.Debug("duplicate event delivery absorbed")
			return DecisionDuplicate, nil
		}
		return "", err
	}

	return decision, nil
}

// Forget removes the dedup record for an event so the next delivery is
// ingested again. This is the operator override for re-running a
// pipeline that failed terminally; normal ingestion never forgets.
func (i *Ingestor) Forget(ctx context.Context, externalID string) error {
	if err := i.events.Delete(ctx, externalID); err != nil {
		return fmt.Errorf("failed to forget event %s: %w", externalID, err)
	}

	i.logger.Info("event dedup record removed by operator override",
		"external_id", externalID)
	return nil
}

// stores returns the three stores bound to the transaction, or unbound
// when running without one.
func (i *Ingestor) stores(tx *sql.Tx) (store.EventStore, store.MeetingStore, task.Store) {
	if tx == nil {
		return i.events, i.meetings, i.tasks
	}
	return i.events.WithTx(tx), i.meetings.WithTx(tx), i.tasks.WithTx(tx)
}

// ensureQueuedMeeting returns the meeting for the payload, creating it
// if it does not exist, and marks it queued.
func (i *Ingestor) ensureQueuedMeeting(ctx context.Context, meetings store.MeetingStore, payload EventPayload) (*domain.Meeting, error) {
	m, err := meetings.GetByExternalID(ctx, payload.MeetingExternalID)
	if err == nil {
		if updateErr := meetings.UpdateStatus(ctx, m.ID, domain.MeetingStatusQueued, ""); updateErr != nil {
			return nil, updateErr
		}
		return m, nil
	}
	if !store.IsNotFoundError(err) {
		return nil, err
	}

	m, err = domain.NewMeeting(payload.MeetingExternalID, payload.Subject, payload.OrganizerEmail)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	m.StartTime = payload.StartTime
	m.EndTime = payload.EndTime
	m.Status = domain.MeetingStatusQueued

	if err := meetings.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ensureSkippedMeeting records a skipped meeting unless one already exists.
func (i *Ingestor) ensureSkippedMeeting(ctx context.Context, meetings store.MeetingStore, payload EventPayload, reason string) error {
	if payload.MeetingExternalID == "" {
		return nil
	}

	_, err := meetings.GetByExternalID(ctx, payload.MeetingExternalID)
	if err == nil {
		return nil
	}
	if !store.IsNotFoundError(err) {
		return err
	}

	m, err := domain.NewMeeting(payload.MeetingExternalID, payload.Subject, payload.OrganizerEmail)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	m.StartTime = payload.StartTime
	m.EndTime = payload.EndTime
	m.Status = domain.MeetingStatusSkipped
	m.SkipReason = reason

	return meetings.Create(ctx, m)
}
