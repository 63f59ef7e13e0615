package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onex/noderuntime/internal/contract"
)

func newTestBreaker(t *testing.T, opens *int) *CircuitBreaker {
	t.Helper()
	cb := NewCircuitBreaker(contract.CircuitBreakerPolicy{
		FailureThreshold:  2,
		SuccessThreshold:  2,
		OpenTimeoutMS:     1000,
		HalfOpenMaxProbes: 1,
	}, func() {
		if opens != nil {
			*opens++
		}
	})
	return cb
}

func TestBreakerSubThresholdFailuresStayClosed(t *testing.T) {
	cb := newTestBreaker(t, nil)
	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, "closed", cb.State())
	require.True(t, cb.Allow())
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	var opens int
	cb := newTestBreaker(t, &opens)
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	assert.Equal(t, "open", cb.State())
	assert.Equal(t, 1, opens)
	assert.False(t, cb.Allow(), "open breaker must fail fast before timeout elapses")
}

func TestBreakerSuccessResetsCounterInClosed(t *testing.T) {
	cb := newTestBreaker(t, nil)
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordSuccess()
	cb.Allow()
	cb.RecordFailure()
	assert.Equal(t, "closed", cb.State(), "success must reset the consecutive-failure counter")
}

func TestBreakerHalfOpenAfterTimeoutThenCloses(t *testing.T) {
	cb := newTestBreaker(t, nil)
	fakeNow := time.Now()
	cb.now = func() time.Time { return fakeNow }

	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	require.Equal(t, "open", cb.State())

	fakeNow = fakeNow.Add(999 * time.Millisecond)
	assert.False(t, cb.Allow(), "must not probe before open_timeout_ms elapses")

	fakeNow = fakeNow.Add(2 * time.Millisecond)
	require.True(t, cb.Allow(), "must admit a probe once open_timeout_ms elapses")
	assert.Equal(t, "half_open", cb.State())

	cb.RecordSuccess()
	assert.Equal(t, "half_open", cb.State(), "one success short of success_threshold stays half-open")

	require.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, "closed", cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	var opens int
	cb := newTestBreaker(t, &opens)
	fakeNow := time.Now()
	cb.now = func() time.Time { return fakeNow }

	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	require.Equal(t, 1, opens)

	fakeNow = fakeNow.Add(time.Second)
	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, "open", cb.State())
	// Reopening from half-open continues the same outage; onOpen only
	// fires on a closed->open transition.
	assert.Equal(t, 1, opens)
}

func TestBreakerHalfOpenRespectsMaxProbes(t *testing.T) {
	cb := newTestBreaker(t, nil)
	fakeNow := time.Now()
	cb.now = func() time.Time { return fakeNow }

	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()

	fakeNow = fakeNow.Add(time.Second)
	require.True(t, cb.Allow(), "first probe admitted")
	assert.False(t, cb.Allow(), "second concurrent probe must be refused at half_open_max_probes=1")
}
