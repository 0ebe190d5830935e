package task

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a task
type Status string

// Possible task status values
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// isValidStatus checks whether the status is one of the known values.
func isValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusRunning, StatusRetrying, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Kind identifies which executor handles a task. The pipeline uses a
// closed set of kinds; dispatch is a lookup table, never reflection.
type Kind string

// Task kinds, in pipeline order.
const (
	KindFetchTranscript Kind = "fetch_transcript"
	KindGenerateSummary Kind = "generate_summary"
	KindDistribute      Kind = "distribute"
)

// successors maps each kind to the next link in the pipeline chain.
// Chains are self-extending: completing a task creates its successor
// in the same transaction, so the graph never needs building upfront.
var successors = map[Kind]Kind{
	KindFetchTranscript: KindGenerateSummary,
	KindGenerateSummary: KindDistribute,
}

// Successor returns the kind of the task created when a task of this
// kind completes, and whether such a successor exists.
func (k Kind) Successor() (Kind, bool) {
	next, ok := successors[k]
	return next, ok
}

// isValidKind checks whether the kind is one of the known values.
func isValidKind(k Kind) bool {
	switch k {
	case KindFetchTranscript, KindGenerateSummary, KindDistribute:
		return true
	}
	return false
}

// Common validation errors for Task
var (
	ErrEmptyTaskID      = errors.New("task ID cannot be empty")
	ErrEmptyMeetingID   = errors.New("task meeting ID cannot be empty")
	ErrInvalidTaskKind  = errors.New("invalid task kind")
	ErrInvalidStatus    = errors.New("invalid task status")
	ErrNegativeRetries  = errors.New("retry counts cannot be negative")
	ErrRetryBudgetOrder = errors.New("retry count cannot exceed max retries")
)

// Task represents one unit of work in the meeting pipeline. Rows are
// mutated only through the store's atomic claim/heartbeat/finalize
// operations; application code never does a read-then-write.
type Task struct {
	ID           uuid.UUID       `json:"id"`
	Kind         Kind            `json:"kind"`
	MeetingID    uuid.UUID       `json:"meeting_id"`
	Status       Status          `json:"status"`
	DependsOn    *uuid.UUID      `json:"depends_on,omitempty"`
	Priority     int             `json:"priority"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	OwnerID      string          `json:"owner_id,omitempty"`
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty"`
	HeartbeatAt  *time.Time      `json:"heartbeat_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// New creates a pending task of the given kind for a meeting. The retry
// budget comes from the kind's retry strategy.
func New(kind Kind, meetingID uuid.UUID, input json.RawMessage, priority int) (*Task, error) {
	t := &Task{
		ID:         uuid.New(),
		Kind:       kind,
		MeetingID:  meetingID,
		Status:     StatusPending,
		Priority:   priority,
		Input:      input,
		MaxRetries: StrategyFor(kind).MaxRetries,
		CreatedAt:  time.Now().UTC(),
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// NewSuccessor creates the next task in the chain for a completed task,
// depending on it. The predecessor's output becomes the successor's
// input so downstream stages see upstream results without re-reading
// them. Returns false if the chain ends at the given task.
func NewSuccessor(prev *Task) (*Task, bool) {
	nextKind, ok := prev.Kind.Successor()
	if !ok {
		return nil, false
	}

	next, err := New(nextKind, prev.MeetingID, prev.Output, prev.Priority)
	if err != nil {
		// New only fails on invalid kind/meeting, both copied from a
		// task that already validated.
		return nil, false
	}

	dep := prev.ID
	next.DependsOn = &dep
	return next, true
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.MeetingID == uuid.Nil {
		return ErrEmptyMeetingID
	}

	if !isValidKind(t.Kind) {
		return ErrInvalidTaskKind
	}

	if !isValidStatus(t.Status) {
		return ErrInvalidStatus
	}

	if t.RetryCount < 0 || t.MaxRetries < 0 {
		return ErrNegativeRetries
	}

	if t.RetryCount > t.MaxRetries {
		return ErrRetryBudgetOrder
	}

	return nil
}
