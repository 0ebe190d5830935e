package task

import (
	"math/rand"
	"time"
)

// Strategy describes the retry behavior for one task kind. The backoff
// schedule is delay = BaseDelay * 2^(retryCount-1), capped at MaxDelay.
type Strategy struct {
	// MaxRetries is the number of retries after the first attempt, so a
	// task makes at most MaxRetries+1 attempts before failing permanently.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential schedule.
	MaxDelay time.Duration
}

// Per-kind strategies. Fetching a transcript mostly fails because the
// external system has not produced it yet, so the schedule is long and
// widening. Summary generation and distribution call synchronous APIs
// whose failures are transient network/rate-limit errors, so the
// schedule is short.
var strategies = map[Kind]Strategy{
	KindFetchTranscript: {
		MaxRetries: 5,
		BaseDelay:  15 * time.Minute,
		MaxDelay:   60 * time.Minute,
	},
	KindGenerateSummary: {
		MaxRetries: 2,
		BaseDelay:  2 * time.Second,
		MaxDelay:   5 * time.Minute,
	},
	KindDistribute: {
		MaxRetries: 2,
		BaseDelay:  2 * time.Second,
		MaxDelay:   5 * time.Minute,
	},
}

// defaultStrategy is used for kinds without an explicit entry.
var defaultStrategy = Strategy{
	MaxRetries: 3,
	BaseDelay:  time.Minute,
	MaxDelay:   10 * time.Minute,
}

// StrategyFor returns the retry strategy for the given task kind.
func StrategyFor(kind Kind) Strategy {
	if s, ok := strategies[kind]; ok {
		return s
	}
	return defaultStrategy
}

// Delay returns the deterministic backoff delay before the retryCount-th
// retry (1-indexed). Callers wanting jitter use NextRetryAt.
func (s Strategy) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}

	delay := s.BaseDelay
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= s.MaxDelay {
			return s.MaxDelay
		}
	}

	if delay > s.MaxDelay {
		return s.MaxDelay
	}
	return delay
}

// NextRetryAt returns the timestamp of the retryCount-th retry, applying
// up to ±25% jitter so retries of tasks failed in a burst do not all
// wake at once. The result never lands before now plus the base delay.
func (s Strategy) NextRetryAt(now time.Time, retryCount int) time.Time {
	delay := s.Delay(retryCount)

	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
	delay += jitter
	if delay < s.BaseDelay {
		delay = s.BaseDelay
	}

	return now.Add(delay)
}
