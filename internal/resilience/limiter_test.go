package resilience

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/onex/noderuntime/internal/contract"
)

func TestLimiterDisabledAlwaysAllows(t *testing.T) {
	l := NewLimiter(contract.RateLimitPolicy{Disabled: true})
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow())
	}
}

func TestLimiterBurstThenThrottles(t *testing.T) {
	l := NewLimiter(contract.RateLimitPolicy{RequestsPerSecond: 1, Burst: 2})
	assert.True(t, l.Allow(), "first call consumes initial burst token")
	assert.True(t, l.Allow(), "second call consumes second burst token")
	assert.False(t, l.Allow(), "third immediate call must be throttled")
}
