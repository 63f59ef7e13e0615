package resilience

import (
	"context"

	"github.com/onex/noderuntime/internal/contract"
)

// Bulkhead bounds concurrent in-flight executions of one node, ahead
// of the rate limiter in the pipeline. A nil policy (the common case —
// Bulkhead is optional on Resilience) means no bound.
type Bulkhead struct {
	slots chan struct{}
}

// NewBulkhead builds a Bulkhead from an optional BulkheadPolicy. p may be
// nil.
func NewBulkhead(p *contract.BulkheadPolicy) *Bulkhead {
	if p == nil || p.MaxConcurrent <= 0 {
		return &Bulkhead{}
	}
	return &Bulkhead{slots: make(chan struct{}, p.MaxConcurrent)}
}

// Acquire blocks until a slot is free or ctx is done. It is a no-op when
// no bound was configured.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if b.slots == nil {
		return nil
	}
	select {
	case b.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot. It is a no-op when no bound was configured.
func (b *Bulkhead) Release() {
	if b.slots == nil {
		return
	}
	<-b.slots
}
