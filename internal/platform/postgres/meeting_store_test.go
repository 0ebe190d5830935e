package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recapd/recapd/internal/domain"
	"github.com/recapd/recapd/internal/platform/postgres"
	"github.com/recapd/recapd/internal/store"
	"github.com/recapd/recapd/internal/testdb"
)

func TestMeetingStore_CreateAndGet(t *testing.T) {
	db := testdb.New(t)
	meetings := postgres.NewMeetingStore(db)
	ctx := context.Background()

	m, err := domain.NewMeeting("ext-1", "Quarterly review", "organizer@example.com")
	require.NoError(t, err)
	require.NoError(t, meetings.Create(ctx, m))

	got, err := meetings.GetByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, "Quarterly review", got.Subject)
	assert.Equal(t, domain.MeetingStatusDiscovered, got.Status)

	_, err = meetings.GetByExternalID(ctx, "ext-unknown")
	assert.ErrorIs(t, err, store.ErrMeetingNotFound)

	// External IDs are unique.
	dup, err := domain.NewMeeting("ext-1", "Other", "other@example.com")
	require.NoError(t, err)
	err = meetings.Create(ctx, dup)
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestMeetingStore_UpdateStatus(t *testing.T) {
	db := testdb.New(t)
	meetings := postgres.NewMeetingStore(db)
	ctx := context.Background()

	m, err := domain.NewMeeting("ext-1", "Standup", "organizer@example.com")
	require.NoError(t, err)
	require.NoError(t, meetings.Create(ctx, m))

	require.NoError(t, meetings.UpdateStatus(ctx, m.ID, domain.MeetingStatusQueued, ""))
	got, err := meetings.GetByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingStatusQueued, got.Status)

	require.NoError(t, meetings.UpdateStatus(ctx, m.ID, domain.MeetingStatusFailed, "pipeline gave up"))
	got, err = meetings.GetByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingStatusFailed, got.Status)
	assert.Equal(t, "pipeline gave up", got.ErrorMessage)

	require.NoError(t, meetings.UpdateStatus(ctx, m.ID, domain.MeetingStatusSkipped, "no opt-in"))
	got, err = meetings.GetByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingStatusSkipped, got.Status)
	assert.Equal(t, "no opt-in", got.SkipReason)
}
