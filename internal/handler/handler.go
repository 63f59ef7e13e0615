// Package handler implements the four protocol handlers: rest,
// graph-cypher, sql, and broker-produce. Every handler implements the
// same uniform lifecycle — Init, Execute, Health,
// Shutdown — and never retries on its own; a handler call is always
// exactly one attempt, with retry/backoff living one layer up in
// internal/resilience.
//
// Grounded on cellorg's internal/storage.HTTPClient (pooled *http.Client
// with a fixed timeout) for the REST handler's connection shape. Handlers
// do no logging of their own.
package handler

import (
	"context"
	"time"

	"github.com/onex/noderuntime/internal/contract"
)

// Request is the fully-rendered, protocol-specific call a Handler executes
// in one attempt. Exactly one of the embedded protocol fields is set,
// mirroring the contract's RequestTemplate tagged union.
type Request struct {
	Operation string
	REST      *RESTCall
	Cypher    *CypherCall
	SQL       *SQLCall
	Produce   *ProduceCall
}

// RESTCall is a fully-rendered REST invocation.
type RESTCall struct {
	Method  string
	Path    string
	Query   map[string]string
	Headers map[string]string
	Body    interface{}
}

// CypherCall is a fully-rendered graph-cypher invocation. Query is
// structural text from the contract, never templated with runtime values;
// Params carries every runtime value as a bound parameter.
type CypherCall struct {
	Query  string
	Params map[string]interface{}
}

// SQLCall is a fully-rendered SQL invocation with positional parameters.
type SQLCall struct {
	Statement string
	Params    []interface{}
}

// ProduceCall is a fully-rendered broker-produce invocation.
type ProduceCall struct {
	Topic   string
	Key     string
	Headers map[string]string
	Value   interface{}
}

// Response is the one-shot outcome of a single handler attempt: a
// handler never retries, it reports one outcome per call.
type Response struct {
	Success    bool
	StatusCode int
	Data       interface{}
	Err        error
	DurationMS int64
	Metadata   map[string]string
}

// Handler is the uniform contract every protocol implementation satisfies.
type Handler interface {
	// Init prepares the handler's connection (HTTP client, driver session,
	// pool, producer) from a contract's Connection descriptor.
	Init(ctx context.Context, conn contract.Connection) error

	// Execute performs exactly one attempt of req and returns its outcome.
	// Execute must never retry internally.
	Execute(ctx context.Context, req Request) Response

	// Health reports whether the underlying connection is usable.
	Health(ctx context.Context) error

	// Shutdown releases the handler's connection resources.
	Shutdown(ctx context.Context) error
}

// timed runs fn and wraps its result with an elapsed-time measurement,
// shared by every handler's Execute implementation.
func timed(fn func() Response) Response {
	start := time.Now()
	resp := fn()
	resp.DurationMS = time.Since(start).Milliseconds()
	return resp
}
