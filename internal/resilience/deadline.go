package resilience

import (
	"context"
	"time"

	"github.com/onex/noderuntime/internal/contract"
)

// OperationDeadline derives the outermost context for one operation
// execution: the per-operation timeout bounds the whole retry sequence,
// the first stage in the pipeline's composition order (per-operation
// deadline -> bulkhead -> rate limiter -> circuit breaker -> retry ->
// handler). A zero PerOperationMS leaves ctx unbounded.
func OperationDeadline(ctx context.Context, t contract.TimeoutPolicy) (context.Context, context.CancelFunc) {
	if t.PerOperationMS <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(t.PerOperationMS)*time.Millisecond)
}

// RequestDeadline derives the context passed to a single handler attempt,
// nested inside the operation deadline. A zero PerRequestMS leaves the
// attempt bounded only by the operation deadline.
func RequestDeadline(ctx context.Context, t contract.TimeoutPolicy) (context.Context, context.CancelFunc) {
	if t.PerRequestMS <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(t.PerRequestMS)*time.Millisecond)
}

// DeadlineExceeded reports whether ctx's deadline has already passed,
// used by Retry's stop condition ("the per-operation deadline is
// crossed").
func DeadlineExceeded(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
