// Package contract implements the frozen, validated in-memory description of
// one node: identity, version+fingerprint, protocol kind, connection,
// operation table, resilience policy, and the four topics a node
// consumes and produces on.
//
// Grounded on cellorg's internal/config (YAML-driven, layered-default
// configuration) and internal/envelope (typed validation errors).
package contract

import "fmt"

// Kind classifies what role a node plays in the system.
type Kind string

const (
	KindCompute      Kind = "compute"
	KindEffect       Kind = "effect"
	KindReducer      Kind = "reducer"
	KindOrchestrator Kind = "orchestrator"
)

// ProtocolKind selects which Handler implementation executes a node's
// operations.
type ProtocolKind string

const (
	ProtocolREST          ProtocolKind = "rest"
	ProtocolGraphCypher   ProtocolKind = "graph-cypher"
	ProtocolSQL           ProtocolKind = "sql"
	ProtocolBrokerProduce ProtocolKind = "broker-produce"
)

// Version is a contract's major/minor/patch identity.
type Version struct {
	Major int `yaml:"major"`
	Minor int `yaml:"minor"`
	Patch int `yaml:"patch"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// TLSConfig carries optional TLS material for a handler connection.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
}

// AuthConfig carries an optional auth descriptor for a handler connection.
type AuthConfig struct {
	Kind     string `yaml:"kind,omitempty"` // "basic", "bearer", "none"
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Token    string `yaml:"token,omitempty"`
}

// Connection is a protocol-specific connection descriptor. Fields not used
// by a given ProtocolKind are left zero.
type Connection struct {
	URL            string     `yaml:"url,omitempty"`
	Host           string     `yaml:"host,omitempty"`
	Port           int        `yaml:"port,omitempty"`
	Database       string     `yaml:"database,omitempty"`
	TimeoutMS      int        `yaml:"timeout_ms,omitempty"`
	PoolMinConns   int        `yaml:"pool_min_conns,omitempty"`
	PoolMaxConns   int        `yaml:"pool_max_conns,omitempty"`
	TLS            *TLSConfig `yaml:"tls,omitempty"`
	Auth           *AuthConfig `yaml:"auth,omitempty"`
	Brokers        []string   `yaml:"brokers,omitempty"`
}

// BulkheadPolicy bounds concurrent executions per node (one bound shared by
// all of the node's operations), enforced ahead of the rate limiter in the
// resilience pipeline.
type BulkheadPolicy struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// RetryPolicy is bounded exponential backoff with optional jitter.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMS    int     `yaml:"initial_delay_ms"`
	MaxDelayMS        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	Jitter            bool    `yaml:"jitter"`
}

// CircuitBreakerPolicy configures the three-state breaker.
type CircuitBreakerPolicy struct {
	FailureThreshold  int `yaml:"failure_threshold"`
	SuccessThreshold  int `yaml:"success_threshold"`
	OpenTimeoutMS     int `yaml:"open_timeout_ms"`
	HalfOpenMaxProbes int `yaml:"half_open_max_probes"`
}

// RateLimitPolicy configures the token bucket. Disabled is a distinct
// state from a zero value.
type RateLimitPolicy struct {
	Disabled          bool    `yaml:"disabled,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// TimeoutPolicy bounds a single handler call and the whole retry sequence.
type TimeoutPolicy struct {
	PerRequestMS   int `yaml:"per_request_ms"`
	PerOperationMS int `yaml:"per_operation_ms"`
}

// Resilience bundles the four (five, with optional Bulkhead) resilience
// policies attached to a contract.
type Resilience struct {
	Retry          RetryPolicy           `yaml:"retry"`
	CircuitBreaker CircuitBreakerPolicy  `yaml:"circuit_breaker"`
	RateLimit      RateLimitPolicy       `yaml:"rate_limit"`
	Timeout        TimeoutPolicy         `yaml:"timeout"`
	Bulkhead       *BulkheadPolicy       `yaml:"bulkhead,omitempty"`
}

// InputValidation describes an operation's expected input shape.
type InputValidation struct {
	Required []string          `yaml:"required,omitempty"`
	Types    map[string]string `yaml:"types,omitempty"` // field -> "string"|"number"|"bool"|"object"|"array"
}

// Operation is one named request/response shape within a node.
type Operation struct {
	Name                string
	Description         string
	InputValidation     InputValidation
	Request             RequestTemplate
	ResponseMapping     map[string]PathExpr
	SuccessCodes        []int
	RetryableErrorSet    map[string]bool
	NonRetryableErrorSet map[string]bool
}

// Contract is the frozen, validated description of one node.
type Contract struct {
	NodeID         string
	Version        Version
	Fingerprint    string
	Kind           Kind
	ProtocolKind   ProtocolKind
	Connection     Connection
	Operations     map[string]*Operation
	OperationOrder []string // declaration order, for deterministic iteration
	Resilience     Resilience
	SubscribeTopic string
	SuccessTopic   string
	FailureTopic   string
	DLQTopic       string
	ConsumerGroup  string
	// Dependencies names other node_ids this node's orchestration
	// requires to be registered. Empty for most compute/effect/reducer
	// nodes; populated on orchestrator nodes that fan out to others.
	Dependencies []string
}

// Operation looks up a named operation, reporting ok=false if absent.
func (c *Contract) Operation(name string) (*Operation, bool) {
	op, ok := c.Operations[name]
	return op, ok
}

// ToMap renders Connection as a plain tree (TLS and auth are left out) so
// the Variable Substitutor can resolve ${env.NAME} references inside
// url/host/database/brokers; the rendered tree is bound as an executor's
// "config." scope. A handler's Init receives the Connection itself, not
// this rendered tree.
func (conn Connection) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"url":            conn.URL,
		"host":           conn.Host,
		"port":           conn.Port,
		"database":       conn.Database,
		"timeout_ms":     conn.TimeoutMS,
		"pool_min_conns": conn.PoolMinConns,
		"pool_max_conns": conn.PoolMaxConns,
	}
	if len(conn.Brokers) > 0 {
		brokers := make([]interface{}, len(conn.Brokers))
		for i, b := range conn.Brokers {
			brokers[i] = b
		}
		m["brokers"] = brokers
	}
	return m
}
