package task

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	meetingID := uuid.New()
	input := json.RawMessage(`{"meeting_external_id":"abc"}`)

	tk, err := New(KindFetchTranscript, meetingID, input, 3)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, tk.ID)
	assert.Equal(t, KindFetchTranscript, tk.Kind)
	assert.Equal(t, meetingID, tk.MeetingID)
	assert.Equal(t, StatusPending, tk.Status)
	assert.Equal(t, 3, tk.Priority)
	assert.Equal(t, input, tk.Input)
	assert.Equal(t, 0, tk.RetryCount)
	assert.Equal(t, 5, tk.MaxRetries, "fetch budget comes from the kind's strategy")
	assert.Nil(t, tk.DependsOn)
	assert.False(t, tk.CreatedAt.IsZero())
}

func TestNew_InvalidKind(t *testing.T) {
	t.Parallel()

	_, err := New(Kind("publish_podcast"), uuid.New(), nil, 0)
	assert.ErrorIs(t, err, ErrInvalidTaskKind)
}

func TestNew_NilMeetingID(t *testing.T) {
	t.Parallel()

	_, err := New(KindFetchTranscript, uuid.Nil, nil, 0)
	assert.ErrorIs(t, err, ErrEmptyMeetingID)
}

func TestKindSuccessor(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		kind    Kind
		next    Kind
		hasNext bool
	}{
		{KindFetchTranscript, KindGenerateSummary, true},
		{KindGenerateSummary, KindDistribute, true},
		{KindDistribute, "", false},
	}

	for _, tc := range testCases {
		next, ok := tc.kind.Successor()
		assert.Equal(t, tc.hasNext, ok, "kind %s", tc.kind)
		if tc.hasNext {
			assert.Equal(t, tc.next, next)
		}
	}
}

func TestNewSuccessor(t *testing.T) {
	t.Parallel()

	prev, err := New(KindFetchTranscript, uuid.New(), nil, 7)
	require.NoError(t, err)
	prev.Output = json.RawMessage(`{"transcript":"..."}`)

	succ, ok := NewSuccessor(prev)
	require.True(t, ok)

	assert.Equal(t, KindGenerateSummary, succ.Kind)
	assert.Equal(t, prev.MeetingID, succ.MeetingID)
	assert.Equal(t, prev.Priority, succ.Priority)
	require.NotNil(t, succ.DependsOn)
	assert.Equal(t, prev.ID, *succ.DependsOn)
	assert.Equal(t, prev.Output, succ.Input, "predecessor output feeds successor input")
	assert.Equal(t, StatusPending, succ.Status)
	assert.Equal(t, 2, succ.MaxRetries, "successor budget comes from its own kind")
}

func TestNewSuccessor_ChainEnds(t *testing.T) {
	t.Parallel()

	last, err := New(KindDistribute, uuid.New(), nil, 0)
	require.NoError(t, err)

	_, ok := NewSuccessor(last)
	assert.False(t, ok)
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.False(t, StatusRetrying.IsTerminal())
}

func TestTaskValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Task {
		return &Task{
			ID:         uuid.New(),
			Kind:       KindGenerateSummary,
			MeetingID:  uuid.New(),
			Status:     StatusPending,
			MaxRetries: 2,
		}
	}

	testCases := []struct {
		name    string
		mutate  func(*Task)
		wantErr error
	}{
		{"valid", func(t *Task) {}, nil},
		{"nil ID", func(t *Task) { t.ID = uuid.Nil }, ErrEmptyTaskID},
		{"nil meeting", func(t *Task) { t.MeetingID = uuid.Nil }, ErrEmptyMeetingID},
		{"bad kind", func(t *Task) { t.Kind = "nope" }, ErrInvalidTaskKind},
		{"bad status", func(t *Task) { t.Status = "paused" }, ErrInvalidStatus},
		{"negative retries", func(t *Task) { t.RetryCount = -1 }, ErrNegativeRetries},
		{"retry count over budget", func(t *Task) { t.RetryCount = 3 }, ErrRetryBudgetOrder},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tk := valid()
			tc.mutate(tk)

			err := tk.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}
