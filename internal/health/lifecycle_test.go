package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateStartsInitializing(t *testing.T) {
	s := NewState()
	assert.Equal(t, Initializing, s.Current())
}

func TestMarkReadyTransitions(t *testing.T) {
	s := NewState()
	s.MarkReady()
	assert.Equal(t, Ready, s.Current())
}

func TestProcessingRoundTrip(t *testing.T) {
	s := NewState()
	s.MarkReady()
	s.MarkProcessing()
	assert.Equal(t, Processing, s.Current())
	s.MarkIdle()
	assert.Equal(t, Ready, s.Current())
}

func TestSingleHealthFailureDoesNotDegrade(t *testing.T) {
	s := NewState()
	s.MarkReady()
	s.RecordHealthCheck(false)
	assert.Equal(t, Ready, s.Current(), "one failed check must not degrade")
}

func TestTwoConsecutiveHealthFailuresDegrade(t *testing.T) {
	s := NewState()
	s.MarkReady()
	s.RecordHealthCheck(false)
	s.RecordHealthCheck(false)
	assert.Equal(t, Degraded, s.Current())
}

func TestHealthyCheckResetsCounterAndRecovers(t *testing.T) {
	s := NewState()
	s.MarkReady()
	s.RecordHealthCheck(false)
	s.RecordHealthCheck(true)
	s.RecordHealthCheck(false)
	assert.Equal(t, Ready, s.Current(), "an intervening success must reset the consecutive counter")

	s.RecordHealthCheck(false)
	assert.Equal(t, Degraded, s.Current())
	s.RecordHealthCheck(true)
	assert.Equal(t, Ready, s.Current(), "recovery transitions DEGRADED back to READY")
}

func TestShutdownSequence(t *testing.T) {
	s := NewState()
	s.MarkReady()
	s.BeginShutdown()
	assert.Equal(t, ShuttingDown, s.Current())
	s.MarkStopped()
	assert.Equal(t, Stopped, s.Current())
}

func TestAggregateHealthyWhenNoIssues(t *testing.T) {
	reports := []NodeReport{
		{NodeID: "a", State: Ready},
		{NodeID: "b", State: Processing},
	}
	assert.Equal(t, StatusHealthy, Aggregate(reports))
}

func TestAggregateDegradedOnNodeDegraded(t *testing.T) {
	reports := []NodeReport{
		{NodeID: "a", State: Ready},
		{NodeID: "b", State: Degraded},
	}
	assert.Equal(t, StatusDegraded, Aggregate(reports))
}

func TestAggregateDegradedOnOptionalHandlerUnhealthy(t *testing.T) {
	reports := []NodeReport{
		{NodeID: "a", State: Ready, OptionalHandlerUnhealthy: true},
	}
	assert.Equal(t, StatusDegraded, Aggregate(reports))
}
