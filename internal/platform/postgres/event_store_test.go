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

func TestEventStore_InsertDeduplicates(t *testing.T) {
	db := testdb.New(t)
	events := postgres.NewEventStore(db)
	ctx := context.Background()

	ev, err := domain.NewProcessedEvent("evt-1", domain.EventSourceWebhook)
	require.NoError(t, err)
	require.NoError(t, events.Insert(ctx, ev))

	// The same event arriving again, via either path, hits the unique
	// index and maps to the sentinel.
	dup, err := domain.NewProcessedEvent("evt-1", domain.EventSourceScan)
	require.NoError(t, err)
	err = events.Insert(ctx, dup)
	assert.ErrorIs(t, err, store.ErrEventAlreadyProcessed)
	assert.True(t, store.IsDuplicateError(err))
}

func TestEventStore_Delete(t *testing.T) {
	db := testdb.New(t)
	events := postgres.NewEventStore(db)
	ctx := context.Background()

	ev, err := domain.NewProcessedEvent("evt-1", domain.EventSourceWebhook)
	require.NoError(t, err)
	require.NoError(t, events.Insert(ctx, ev))

	require.NoError(t, events.Delete(ctx, "evt-1"))

	// Deleting the dedup record makes re-ingestion possible.
	again, err := domain.NewProcessedEvent("evt-1", domain.EventSourceWebhook)
	require.NoError(t, err)
	assert.NoError(t, events.Insert(ctx, again))

	err = events.Delete(ctx, "never-seen")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEventStore_LatestProcessedAt(t *testing.T) {
	db := testdb.New(t)
	events := postgres.NewEventStore(db)
	ctx := context.Background()

	latest, err := events.LatestProcessedAt(ctx)
	require.NoError(t, err)
	assert.True(t, latest.IsZero(), "empty table yields the zero time")

	first, err := domain.NewProcessedEvent("evt-1", domain.EventSourceScan)
	require.NoError(t, err)
	require.NoError(t, events.Insert(ctx, first))

	second, err := domain.NewProcessedEvent("evt-2", domain.EventSourceScan)
	require.NoError(t, err)
	require.NoError(t, events.Insert(ctx, second))

	latest, err = events.LatestProcessedAt(ctx)
	require.NoError(t, err)
	assert.False(t, latest.Before(first.ProcessedAt))
}
