package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/onex/noderuntime/internal/contract"
	"github.com/onex/noderuntime/internal/handler"
	"github.com/onex/noderuntime/internal/health"
	"github.com/onex/noderuntime/internal/resilience"
	"github.com/onex/noderuntime/internal/substitute"
)

// EffectInput is one operation invocation.
type EffectInput struct {
	Operation     string
	Params        map[string]interface{}
	CorrelationID string
	Context       map[string]interface{}
}

// EffectOutput is the typed, never-raised outcome of one invocation.
type EffectOutput struct {
	Success       bool
	Operation     string
	Data          interface{}
	Error         *ErrorRecord
	CorrelationID string
	DurationMS    int64
	Metadata      map[string]string
}

// Executor binds one contract to its handler and resilience pipeline.
// It owns its own rate limiter and circuit breaker; per-node state is
// uncontended across concurrent dispatches, guarded only by the small
// critical sections inside Limiter and CircuitBreaker themselves.
type Executor struct {
	contract *contract.Contract
	handler  handler.Handler

	resolvedConnection map[string]interface{}
	env                 map[string]string

	limiter  *resilience.Limiter
	breaker  *resilience.CircuitBreaker
	bulkhead *resilience.Bulkhead

	metrics *Metrics
	state   *health.State
}

// New constructs an Executor. resolvedConnection is the contract's
// connection descriptor after ${ENV_VAR} resolution (bound as the
// "config." scope); env is the process environment (bound as "env.").
func New(c *contract.Contract, h handler.Handler, resolvedConnection map[string]interface{}, env map[string]string) *Executor {
	e := &Executor{
		contract:            c,
		handler:             h,
		resolvedConnection:  resolvedConnection,
		env:                 env,
		limiter:             resilience.NewLimiter(c.Resilience.RateLimit),
		bulkhead:            resilience.NewBulkhead(c.Resilience.Bulkhead),
		metrics:             newMetrics(),
		state:               health.NewState(),
	}
	e.breaker = resilience.NewCircuitBreaker(c.Resilience.CircuitBreaker, e.metrics.recordCircuitOpen)
	return e
}

// NodeID reports the bound contract's node id.
func (e *Executor) NodeID() string { return e.contract.NodeID }

// Contract exposes the bound contract so the router can resolve topics
// and the host can validate runtime-profile membership without the
// executor re-exporting every individual field.
func (e *Executor) Contract() *contract.Contract { return e.contract }

// State exposes the executor's lifecycle state machine for C9 reporting.
func (e *Executor) State() *health.State { return e.state }

// Metrics exposes the executor's counters for a health/metrics endpoint.
func (e *Executor) Metrics() *Metrics { return e.metrics }

// Execute runs one operation invocation end to end: validate, build
// request, dispatch through resilience, apply response mapping. It
// never returns an error from this function signature — every
// failure is folded into EffectOutput.Error, matching the "never raise
// across this boundary" invariant.
func (e *Executor) Execute(ctx context.Context, in EffectInput) EffectOutput {
	start := time.Now()
	e.state.MarkProcessing()
	defer e.state.MarkIdle()

	op, ok := e.contract.Operation(in.Operation)
	if !ok {
		return e.permanentFailure(in, start, newRecord(CodeContractMismatch, e.contract.NodeID, in.CorrelationID, false,
			"unknown operation: %s", in.Operation))
	}

	if err := validateInput(op.InputValidation, in.Params); err != nil {
		return e.permanentFailure(in, start, newRecord(CodeContractMismatch, e.contract.NodeID, in.CorrelationID, false,
			"input validation failed: %s", err))
	}

	e.metrics.recordExecuted(op.Name)

	bindings := substitute.Bindings{
		Env:           e.env,
		Input:         in.Params,
		Context:       in.Context,
		Config:        e.resolvedConnection,
		CorrelationID: in.CorrelationID,
	}

	req, err := buildRequest(op, bindings)
	if err != nil {
		durationMS := time.Since(start).Milliseconds()
		e.metrics.recordFailed(op.Name, durationMS)
		return EffectOutput{
			Success:       false,
			Operation:     in.Operation,
			Error:         newRecord(CodeContractMismatch, e.contract.NodeID, in.CorrelationID, false, "request template: %s", err),
			CorrelationID: in.CorrelationID,
			DurationMS:    durationMS,
		}
	}

	opCtx, cancel := resilience.OperationDeadline(ctx, e.contract.Resilience.Timeout)
	defer cancel()

	if err := e.bulkhead.Acquire(opCtx); err != nil {
		durationMS := time.Since(start).Milliseconds()
		e.metrics.recordFailed(op.Name, durationMS)
		return EffectOutput{
			Success:       false,
			Operation:     in.Operation,
			Error:         newRecord(CodeHandlerFailure, e.contract.NodeID, in.CorrelationID, true, "bulkhead wait: %s", err),
			CorrelationID: in.CorrelationID,
			DurationMS:    durationMS,
		}
	}
	defer e.bulkhead.Release()

	if !e.limiter.Allow() {
		if err := e.limiter.Wait(opCtx); err != nil {
			durationMS := time.Since(start).Milliseconds()
			e.metrics.recordFailed(op.Name, durationMS)
			return EffectOutput{
				Success:       false,
				Operation:     in.Operation,
				Error:         newRecord(CodeHandlerFailure, e.contract.NodeID, in.CorrelationID, true, "rate limiter wait: %s", err),
				CorrelationID: in.CorrelationID,
				DurationMS:    durationMS,
			}
		}
	}

	if !e.breaker.Allow() {
		durationMS := time.Since(start).Milliseconds()
		e.metrics.recordFailed(op.Name, durationMS)
		rec := newRecord(CodeHandlerFailure, e.contract.NodeID, in.CorrelationID, true, "circuit breaker is open")
		rec.Context = map[string]interface{}{"circuit_breaker_state": e.breaker.State()}
		return EffectOutput{
			Success:       false,
			Operation:     in.Operation,
			Error:         rec,
			CorrelationID: in.CorrelationID,
			DurationMS:    durationMS,
		}
	}

	var lastResp handler.Response
	outcome := resilience.Retry(opCtx, e.contract.Resilience.Retry,
		func(err error) bool { return classifyRetryable(op, err) },
		func() bool { return e.breaker.State() == "open" },
		func() { e.metrics.recordRetry(op.Name) },
		func() error {
			reqCtx, reqCancel := resilience.RequestDeadline(opCtx, e.contract.Resilience.Timeout)
			defer reqCancel()

			lastResp = e.handler.Execute(reqCtx, req)

			var attemptErr error
			switch {
			case lastResp.Err != nil:
				attemptErr = lastResp.Err
			case !lastResp.Success && !successCode(op, lastResp.StatusCode):
				attemptErr = fmt.Errorf("handler reported non-success status %d", lastResp.StatusCode)
			}

			if attemptErr == nil {
				e.breaker.RecordSuccess()
				return nil
			}
			// Only failures outside the operation's non_retryable_error_set
			// count toward the breaker's failure threshold.
			if classifyRetryable(op, attemptErr) {
				e.breaker.RecordFailure()
			}
			return attemptErr
		},
	)

	durationMS := time.Since(start).Milliseconds()

	if outcome.Err != nil {
		e.metrics.recordFailed(op.Name, durationMS)
		return EffectOutput{
			Success:       false,
			Operation:     in.Operation,
			Error:         newRecord(CodeHandlerFailure, e.contract.NodeID, in.CorrelationID, true, "%s", outcome.Err),
			CorrelationID: in.CorrelationID,
			DurationMS:    durationMS,
			Metadata:      lastResp.Metadata,
		}
	}

	data, err := substitute.ApplyResponseMapping(op.ResponseMapping, lastResp.Data)
	if err != nil {
		e.metrics.recordFailed(op.Name, durationMS)
		return EffectOutput{
			Success:       false,
			Operation:     in.Operation,
			Error:         newRecord(CodeContractMismatch, e.contract.NodeID, in.CorrelationID, false, "response mapping: %s", err),
			CorrelationID: in.CorrelationID,
			DurationMS:    durationMS,
		}
	}

	e.metrics.recordSucceeded(op.Name, durationMS)
	return EffectOutput{
		Success:       true,
		Operation:     in.Operation,
		Data:          data,
		CorrelationID: in.CorrelationID,
		DurationMS:    durationMS,
		Metadata:      lastResp.Metadata,
	}
}

func (e *Executor) permanentFailure(in EffectInput, start time.Time, rec *ErrorRecord) EffectOutput {
	return EffectOutput{
		Success:       false,
		Operation:     in.Operation,
		Error:         rec,
		CorrelationID: in.CorrelationID,
		DurationMS:    time.Since(start).Milliseconds(),
	}
}

func successCode(op *contract.Operation, status int) bool {
	if len(op.SuccessCodes) == 0 {
		return status >= 200 && status < 300
	}
	for _, c := range op.SuccessCodes {
		if c == status {
			return true
		}
	}
	return false
}

// classifyRetryable applies the operation's explicit retryable/
// non-retryable sets: an error in the non-retryable set is never retried;
// when a retryable set is declared, only errors in it are retried; with
// no retryable set, every other error is retryable, composing
// HANDLER_FAILURE as the retried code.
func classifyRetryable(op *contract.Operation, err error) bool {
	msg := err.Error()
	if op.NonRetryableErrorSet[msg] {
		return false
	}
	if op.RetryableErrorSet != nil {
		return op.RetryableErrorSet[msg]
	}
	return true
}
