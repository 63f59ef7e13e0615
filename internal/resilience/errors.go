package resilience

import "errors"

// Package-level sentinel errors for the resilience pipeline.
var (
	ErrRateLimited    = errors.New("resilience: rate limit exceeded")
	ErrCircuitOpen    = errors.New("resilience: circuit breaker open")
	ErrBulkheadFull   = errors.New("resilience: bulkhead at capacity")
	ErrRetriesExhausted = errors.New("resilience: retries exhausted")
	ErrDeadlineExceeded = errors.New("resilience: deadline exceeded")
)
