package health

// ProcessStatus is the process-wide aggregated health rule.
type ProcessStatus string

const (
	StatusHealthy  ProcessStatus = "healthy"
	StatusDegraded ProcessStatus = "degraded"
)

// NodeReport is one node's lifecycle state plus whether it has any
// unhealthy optional handler, as seen from the registry.
type NodeReport struct {
	NodeID                  string
	State                   LifecycleState
	OptionalHandlerUnhealthy bool
}

// Aggregate computes the process-wide status: healthy only if every
// required handler is healthy (no node FAILED or DEGRADED from a required
// handler); degraded if any optional handler is unhealthy or any node is
// DEGRADED.
func Aggregate(reports []NodeReport) ProcessStatus {
	for _, r := range reports {
		if r.State == Degraded || r.State == Failed || r.OptionalHandlerUnhealthy {
			return StatusDegraded
		}
	}
	return StatusHealthy
}
