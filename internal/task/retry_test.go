package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStrategyFor(t *testing.T) {
	t.Parallel()

	fetch := StrategyFor(KindFetchTranscript)
	assert.Equal(t, 5, fetch.MaxRetries)
	assert.Equal(t, 15*time.Minute, fetch.BaseDelay)
	assert.Equal(t, 60*time.Minute, fetch.MaxDelay)

	summary := StrategyFor(KindGenerateSummary)
	assert.Equal(t, 2, summary.MaxRetries)
	assert.Equal(t, 2*time.Second, summary.BaseDelay)

	// Unknown kinds fall back to the default strategy.
	other := StrategyFor(Kind("something_else"))
	assert.Equal(t, 3, other.MaxRetries)
	assert.Equal(t, time.Minute, other.BaseDelay)
}

func TestStrategyDelay_FetchScheduleWidensAndCaps(t *testing.T) {
	t.Parallel()

	s := StrategyFor(KindFetchTranscript)

	assert.Equal(t, 15*time.Minute, s.Delay(1))
	assert.Equal(t, 30*time.Minute, s.Delay(2))
	assert.Equal(t, 60*time.Minute, s.Delay(3))
	assert.Equal(t, 60*time.Minute, s.Delay(4), "cap holds past the doubling point")
	assert.Equal(t, 60*time.Minute, s.Delay(10))
}

func TestStrategyDelay_ShortScheduleDoubles(t *testing.T) {
	t.Parallel()

	s := StrategyFor(KindDistribute)

	assert.Equal(t, 2*time.Second, s.Delay(1))
	assert.Equal(t, 4*time.Second, s.Delay(2))
	assert.Equal(t, 8*time.Second, s.Delay(3))
}

func TestStrategyDelay_FloorsRetryCount(t *testing.T) {
	t.Parallel()

	s := StrategyFor(KindDistribute)

	assert.Equal(t, s.Delay(1), s.Delay(0))
	assert.Equal(t, s.Delay(1), s.Delay(-3))
}

func TestStrategyNextRetryAt_JitterStaysInBounds(t *testing.T) {
	t.Parallel()

	s := StrategyFor(KindFetchTranscript)
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	for retry := 1; retry <= 6; retry++ {
		base := s.Delay(retry)
		lower := now.Add(s.BaseDelay)
		upper := now.Add(base + base/4)

		for i := 0; i < 100; i++ {
			at := s.NextRetryAt(now, retry)
			assert.False(t, at.Before(lower),
				"retry %d scheduled before the base delay floor", retry)
			assert.False(t, at.After(upper),
				"retry %d scheduled past +25%% jitter", retry)
		}
	}
}
