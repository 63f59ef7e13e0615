// Package router implements the Envelope Router / Host Loop: the single
// place that owns the broker consumer. Nodes never poll and never
// commit offsets themselves.
//
// Grounded on cellorg's public/orchestrator event loop (a host process
// owning dispatch to named components, tracking in-flight work)
// generalized from the teacher's direct in-process dispatch into a
// broker-fed, semaphore-bounded dispatch loop with DLQ routing.
package router

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/onex/noderuntime/internal/broker"
	"github.com/onex/noderuntime/internal/envelope"
	"github.com/onex/noderuntime/internal/executor"
	"github.com/onex/noderuntime/internal/publisher"
	"github.com/onex/noderuntime/internal/registry"
)

const (
	// DefaultMaxInFlight is the default process-wide semaphore size when
	// a profile leaves max_in_flight unset.
	DefaultMaxInFlight = 100
	// MinMaxInFlight and MaxMaxInFlight bound the configurable range.
	MinMaxInFlight = 1
	MaxMaxInFlight = 1000

	defaultMaxPollRecords = 100
)

// Router owns one broker consumer and dispatches parsed envelopes onto
// the node registry's executors, bounded by a process-wide semaphore.
type Router struct {
	consumer       broker.Consumer
	reg            *registry.Registry
	pub            *publisher.Publisher
	dlqTopic       string
	maxPollRecords int

	sem chan struct{}
	wg  sync.WaitGroup

	topicIndex map[string]*executor.Executor

	metrics *Metrics

	stop chan struct{}
}

// Option configures a Router at construction.
type Option func(*Router)

// WithMaxPollRecords overrides the batch size passed to Consumer.PollBatch.
func WithMaxPollRecords(n int) Option {
	return func(r *Router) { r.maxPollRecords = n }
}

// New builds a Router over consumer, dispatching to reg's executors and
// publishing outcomes via pub. maxInFlight is clamped to
// [MinMaxInFlight, MaxMaxInFlight]; dlqTopic receives envelopes the
// router itself could not route.
func New(consumer broker.Consumer, reg *registry.Registry, pub *publisher.Publisher, dlqTopic string, maxInFlight int, opts ...Option) *Router {
	if maxInFlight < MinMaxInFlight {
		maxInFlight = MinMaxInFlight
	}
	if maxInFlight > MaxMaxInFlight {
		maxInFlight = MaxMaxInFlight
	}

	topicIndex := make(map[string]*executor.Executor)
	for _, ex := range reg.Iter() {
		topicIndex[ex.Contract().SubscribeTopic] = ex
	}

	r := &Router{
		consumer:       consumer,
		reg:            reg,
		pub:            pub,
		dlqTopic:       dlqTopic,
		maxPollRecords: defaultMaxPollRecords,
		sem:            make(chan struct{}, maxInFlight),
		topicIndex:     topicIndex,
		metrics:        newMetrics(maxInFlight),
		stop:           make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run polls the broker until ctx is done or Stop is called, dispatching
// each message to its node's executor. It returns once the poll loop
// has exited; in-flight dispatches may still be draining — call Drain
// after Run returns to wait for them.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stop:
			return nil
		default:
		}

		msgs, err := r.consumer.PollBatch(ctx, r.maxPollRecords)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("router: poll error: %v", err)
			continue
		}
		for _, msg := range msgs {
			r.dispatch(ctx, msg)
		}
	}
}

// Stop signals Run to stop polling for new batches. It does not wait for
// in-flight dispatches; call Drain for that.
func (r *Router) Stop() { close(r.stop) }

// Drain blocks until every dispatched message has finished processing
// (offset committed) or the timeout elapses, returning false on
// timeout.
func (r *Router) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Metrics exposes the host loop's backpressure and concurrency counters.
func (r *Router) Metrics() *Metrics { return r.metrics }

// dispatch acquires a semaphore slot (blocking, measured as backpressure
// wait), then spawns a task to process one message. The slot is held
// for the entire processing of that message: offsets are not committed
// (and the slot is not released) until processing completes.
func (r *Router) dispatch(ctx context.Context, msg broker.Message) {
	waitStart := time.Now()
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	waited := time.Since(waitStart)
	r.metrics.recordAcquire(waited, len(r.sem))

	r.wg.Add(1)
	go func() {
		defer func() {
			<-r.sem
			r.metrics.recordRelease()
			r.wg.Done()
		}()
		r.process(ctx, msg)
	}()
}

// process parses, routes, executes, publishes, and commits exactly one
// message, catching any panic raised out of the executor so a single
// malformed node never becomes a poison pill.
func (r *Router) process(ctx context.Context, msg broker.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("router: recovered executor panic: %v", rec)
			detail := publisher.PanicDetail(rec, map[string]interface{}{
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			})
			r.publishDLQ(ctx, nil, publisher.ReasonExecutorPanic, msg, detail)
			r.commit(ctx, msg)
		}
	}()

	env, err := envelope.FromJSON(msg.Value)
	if err != nil {
		r.publishDLQ(ctx, nil, publisher.ReasonParseFailure, msg, err.Error())
		r.commit(ctx, msg)
		return
	}

	env.CorrelationID = envelope.SanitizeCorrelationID(env.CorrelationID, func(truncated string) {
		log.Printf("router: rejected non-conforming correlation_id (truncated): %q", truncated)
	})

	ex, ok := r.topicIndex[msg.Topic]
	if !ok {
		r.publishDLQ(ctx, env, publisher.ReasonUnknownTopic, msg, "no contract subscribes to topic "+msg.Topic)
		r.commit(ctx, msg)
		return
	}

	var params map[string]interface{}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &params); err != nil {
			r.publishDLQ(ctx, env, publisher.ReasonParseFailure, msg, "payload is not a JSON object: "+err.Error())
			r.commit(ctx, msg)
			return
		}
	}

	out := ex.Execute(ctx, executor.EffectInput{
		Operation:     env.Operation,
		Params:        params,
		CorrelationID: env.CorrelationID,
		Context:       env.ContextScope(),
	})

	c := ex.Contract()
	if out.Success {
		if err := r.pub.PublishSuccess(ctx, c.SuccessTopic, env, out); err != nil {
			log.Printf("router: publish success failed for %s: %v", c.NodeID, err)
		}
	} else if out.Error != nil {
		if err := r.pub.PublishFailure(ctx, c.FailureTopic, env, out.Error); err != nil {
			log.Printf("router: publish failure failed for %s: %v", c.NodeID, err)
		}
	}

	r.commit(ctx, msg)
}

func (r *Router) publishDLQ(ctx context.Context, request *envelope.Envelope, reason publisher.DLQReason, msg broker.Message, detail string) {
	rec := publisher.DLQRecord{
		Reason:     reason,
		Detail:     detail,
		Topic:      msg.Topic,
		RawPayload: msg.Value,
	}
	if request != nil {
		rec.CorrelationID = request.CorrelationID
	}
	if err := r.pub.PublishDLQ(ctx, r.dlqTopic, request, rec); err != nil {
		log.Printf("router: publish dlq failed: %v", err)
	}
}

func (r *Router) commit(ctx context.Context, msg broker.Message) {
	if err := r.consumer.Commit(ctx, []broker.Message{msg}); err != nil {
		log.Printf("router: commit failed for topic %s offset %d: %v", msg.Topic, msg.Offset, err)
	}
}
