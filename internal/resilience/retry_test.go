package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onex/noderuntime/internal/contract"
)

func alwaysRetryable(error) bool { return true }
func neverOpen() bool            { return false }

func TestRetrySucceedsOnFirstAttempt(t *testing.T) {
	policy := contract.RetryPolicy{MaxAttempts: 3, InitialDelayMS: 1, BackoffMultiplier: 2}
	calls := 0
	outcome := Retry(context.Background(), policy, alwaysRetryable, neverOpen, nil, func() error {
		calls++
		return nil
	})
	require.NoError(t, outcome.Err)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsMaxAttempts(t *testing.T) {
	policy := contract.RetryPolicy{MaxAttempts: 3, InitialDelayMS: 1, MaxDelayMS: 5, BackoffMultiplier: 2}
	boom := errors.New("boom")
	var retries int
	outcome := Retry(context.Background(), policy, alwaysRetryable, neverOpen, func() { retries++ }, func() error {
		return boom
	})
	assert.Equal(t, 3, outcome.Attempts)
	assert.ErrorIs(t, outcome.Err, boom)
	assert.Equal(t, 2, retries, "retries_attempted counts only the attempts after the first")
}

func TestRetryStopsOnNonRetryableClassification(t *testing.T) {
	policy := contract.RetryPolicy{MaxAttempts: 5, InitialDelayMS: 1, BackoffMultiplier: 2}
	boom := errors.New("schema mismatch")
	calls := 0
	outcome := Retry(context.Background(), policy, func(error) bool { return false }, neverOpen, nil, func() error {
		calls++
		return boom
	})
	assert.Equal(t, 1, calls, "a non-retryable error must not be retried")
	assert.ErrorIs(t, outcome.Err, boom)
}

func TestRetryStopsWhenBreakerOpensMidSequence(t *testing.T) {
	policy := contract.RetryPolicy{MaxAttempts: 5, InitialDelayMS: 1, BackoffMultiplier: 2}
	boom := errors.New("boom")
	calls := 0
	opened := false
	outcome := Retry(context.Background(), policy, alwaysRetryable, func() bool { return opened }, nil, func() error {
		calls++
		if calls == 1 {
			opened = true
		}
		return boom
	})
	assert.Equal(t, 1, calls, "must stop as soon as the breaker reports open")
	assert.ErrorIs(t, outcome.Err, boom)
}

func TestOperationBackOffDelayFormula(t *testing.T) {
	b := newOperationBackOff(contract.RetryPolicy{
		InitialDelayMS:    100,
		MaxDelayMS:        450,
		BackoffMultiplier: 2,
	})
	assert.Equal(t, int64(100), b.NextBackOff().Milliseconds())
	assert.Equal(t, int64(200), b.NextBackOff().Milliseconds())
	assert.Equal(t, int64(400), b.NextBackOff().Milliseconds())
	assert.Equal(t, int64(450), b.NextBackOff().Milliseconds(), "delay must be capped at max_delay_ms")
}
