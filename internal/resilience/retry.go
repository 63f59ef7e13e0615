package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/onex/noderuntime/internal/contract"
)

// operationBackOff implements backoff.BackOff with the exact delay
// formula the policy mandates: delay(n) = min(max_delay_ms,
// initial_delay_ms * backoff_multiplier^n), optionally scaled by a
// uniform random in
// [0.5, 1.5]. cenkalti/backoff/v4's own ExponentialBackOff uses a
// different randomization scheme, so this type supplies the policy's exact
// math while still running under the library's Retry driver and
// WithMaxRetries/WithContext wrappers.
type operationBackOff struct {
	policy  contract.RetryPolicy
	attempt int
}

func newOperationBackOff(p contract.RetryPolicy) *operationBackOff {
	return &operationBackOff{policy: p}
}

func (b *operationBackOff) Reset() { b.attempt = 0 }

func (b *operationBackOff) NextBackOff() time.Duration {
	n := b.attempt
	b.attempt++

	initial := float64(b.policy.InitialDelayMS)
	mult := b.policy.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	delayMS := initial * pow(mult, n)
	if max := float64(b.policy.MaxDelayMS); max > 0 && delayMS > max {
		delayMS = max
	}
	if b.policy.Jitter {
		delayMS *= 0.5 + rand.Float64()
	}
	return time.Duration(delayMS) * time.Millisecond
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// RetryClassifier decides, for a given handler error, whether it is
// retryable. The executor supplies this from an Operation's
// retryable/non_retryable error sets.
type RetryClassifier func(err error) (retryable bool)

// RetryOutcome summarizes one Retry invocation for executor metrics.
type RetryOutcome struct {
	Attempts int
	Err      error
}

// Retry runs fn under the policy's bounded exponential backoff, stopping
// when: attempts reach max_attempts, ctx's deadline (the per-operation
// deadline) is crossed, the classifier reports non-retryable, or
// breakerOpen reports the breaker tripped mid-sequence. onRetry, if
// non-nil, is invoked after every failed attempt that will be retried, so
// the executor can increment retries_attempted.
func Retry(ctx context.Context, policy contract.RetryPolicy, classify RetryClassifier, breakerOpen func() bool, onRetry func(), fn func() error) RetryOutcome {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(newOperationBackOff(policy), uint64(maxAttempts-1)),
		ctx,
	)

	attempts := 0
	var lastErr error

	operation := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !classify(err) {
			return backoff.Permanent(err)
		}
		if breakerOpen != nil && breakerOpen() {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, _ time.Duration) {
		if onRetry != nil {
			onRetry()
		}
	}

	err := backoff.RetryNotify(operation, bo, notify)
	if err == nil {
		return RetryOutcome{Attempts: attempts, Err: nil}
	}
	if lastErr != nil {
		return RetryOutcome{Attempts: attempts, Err: lastErr}
	}
	return RetryOutcome{Attempts: attempts, Err: err}
}
