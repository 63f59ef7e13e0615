package executor

import "sync"

// OperationMetrics is the per-operation variant of the executor-wide
// counters.
type OperationMetrics struct {
	Executed            int64
	Succeeded            int64
	Failed              int64
	CumulativeDurationMS int64
	RetriesAttempted     int64
	CircuitBreakerOpens  int64
}

// Metrics aggregates executor-wide and per-operation counters. Per-node
// state is uncontended except for the small critical sections guarded by
// mu.
type Metrics struct {
	mu         sync.Mutex
	overall    OperationMetrics
	perOp      map[string]*OperationMetrics
}

func newMetrics() *Metrics {
	return &Metrics{perOp: make(map[string]*OperationMetrics)}
}

func (m *Metrics) operation(name string) *OperationMetrics {
	op, ok := m.perOp[name]
	if !ok {
		op = &OperationMetrics{}
		m.perOp[name] = op
	}
	return op
}

func (m *Metrics) recordExecuted(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overall.Executed++
	m.operation(name).Executed++
}

func (m *Metrics) recordSucceeded(name string, durationMS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overall.Succeeded++
	m.overall.CumulativeDurationMS += durationMS
	op := m.operation(name)
	op.Succeeded++
	op.CumulativeDurationMS += durationMS
}

func (m *Metrics) recordFailed(name string, durationMS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overall.Failed++
	m.overall.CumulativeDurationMS += durationMS
	op := m.operation(name)
	op.Failed++
	op.CumulativeDurationMS += durationMS
}

func (m *Metrics) recordRetry(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overall.RetriesAttempted++
	m.operation(name).RetriesAttempted++
}

// recordCircuitOpen increments the node-wide counter. The circuit breaker
// is shared across every operation on a contract (resilience lives on
// Contract, not Operation), so this is never attributed to a single
// operation's per-op counters.
func (m *Metrics) recordCircuitOpen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overall.CircuitBreakerOpens++
}

// Snapshot returns a copy of the overall counters and a copy of the
// per-operation map, safe for a health/metrics endpoint to read
// concurrently with ongoing executions.
func (m *Metrics) Snapshot() (OperationMetrics, map[string]OperationMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perOp := make(map[string]OperationMetrics, len(m.perOp))
	for name, op := range m.perOp {
		perOp[name] = *op
	}
	return m.overall, perOp
}
