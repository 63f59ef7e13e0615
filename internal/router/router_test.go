package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onex/noderuntime/internal/broker"
	"github.com/onex/noderuntime/internal/contract"
	"github.com/onex/noderuntime/internal/envelope"
	"github.com/onex/noderuntime/internal/handler"
	"github.com/onex/noderuntime/internal/publisher"
	"github.com/onex/noderuntime/internal/registry"
)

type scriptedHandler struct {
	resp handler.Response
}

func (h *scriptedHandler) Init(ctx context.Context, conn contract.Connection) error { return nil }
func (h *scriptedHandler) Execute(ctx context.Context, req handler.Request) handler.Response {
	return h.resp
}
func (h *scriptedHandler) Health(ctx context.Context) error   { return nil }
func (h *scriptedHandler) Shutdown(ctx context.Context) error { return nil }

func testContract(subscribe, success, failure string) *contract.Contract {
	path, _ := contract.ParsePathExpression("$.status")
	return &contract.Contract{
		NodeID:         "vector-upsert",
		ProtocolKind:   contract.ProtocolREST,
		SubscribeTopic: subscribe,
		SuccessTopic:   success,
		FailureTopic:   failure,
		Operations: map[string]*contract.Operation{
			"upsert": {
				Name:            "upsert",
				Request:         contract.RESTTemplate{Method: "POST", Path: "/x"},
				ResponseMapping: map[string]contract.PathExpr{"status": path},
				SuccessCodes:    []int{200},
			},
		},
		OperationOrder: []string{"upsert"},
		Resilience: contract.Resilience{
			Retry:          contract.RetryPolicy{MaxAttempts: 1, BackoffMultiplier: 1},
			CircuitBreaker: contract.CircuitBreakerPolicy{FailureThreshold: 1, SuccessThreshold: 1, HalfOpenMaxProbes: 1},
			RateLimit:      contract.RateLimitPolicy{Disabled: true},
		},
	}
}

func buildRegistry(t *testing.T, resp handler.Response, c *contract.Contract) *registry.Registry {
	t.Helper()
	b := registry.Bindings{Factories: map[contract.ProtocolKind]registry.HandlerFactory{
		contract.ProtocolREST: func() handler.Handler { return &scriptedHandler{resp: resp} },
	}}
	reg, err := registry.Build(context.Background(), []*contract.Contract{c}, b, nil, func(*contract.Contract) map[string]interface{} { return map[string]interface{}{} })
	require.NoError(t, err)
	return reg
}

func publishEnvelope(t *testing.T, b *broker.Embedded, topic, operation, correlationID string, payload interface{}) {
	t.Helper()
	env, err := envelope.New(envelope.Source{Service: "test"}, "vector-upsert", operation, payload)
	require.NoError(t, err)
	env.CorrelationID = correlationID
	body, err := env.ToJSON()
	require.NoError(t, err)
	b.Publish(topic, []byte(correlationID), body)
}

func runUntilDrained(t *testing.T, r *Router) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()
	// Give the loop a moment to drain the seeded messages, then stop it.
	time.Sleep(50 * time.Millisecond)
	r.Stop()
	require.True(t, r.Drain(time.Second))
	<-done
}

func TestRouterHappyPathPublishesSuccessAndCommits(t *testing.T) {
	c := testContract("onex.orders.cmd.v1", "onex.orders.evt.v1", "onex.orders.error.v1")
	reg := buildRegistry(t, handler.Response{Success: true, StatusCode: 200, Data: map[string]interface{}{"status": "ok"}}, c)

	b := broker.NewEmbedded()
	publishEnvelope(t, b, "onex.orders.cmd.v1", "upsert", "corr-1", map[string]string{"id": "1"})

	pub := publisher.New(b.NewProducer(), envelope.Source{Service: "noded"})
	r := New(b.NewConsumer("onex.orders.cmd.v1"), reg, pub, "onex.system.dlq.v1", 10)

	runUntilDrained(t, r)

	msgs := b.Messages("onex.orders.evt.v1")
	require.Len(t, msgs, 1)
	assert.Empty(t, b.Messages("onex.orders.error.v1"))
	assert.Empty(t, b.Messages("onex.system.dlq.v1"))
}

func TestRouterMalformedEnvelopeGoesToDLQ(t *testing.T) {
	c := testContract("onex.orders.cmd.v1", "onex.orders.evt.v1", "onex.orders.error.v1")
	reg := buildRegistry(t, handler.Response{Success: true, StatusCode: 200}, c)

	b := broker.NewEmbedded()
	b.Publish("onex.orders.cmd.v1", nil, []byte("not json"))

	pub := publisher.New(b.NewProducer(), envelope.Source{Service: "noded"})
	r := New(b.NewConsumer("onex.orders.cmd.v1"), reg, pub, "onex.system.dlq.v1", 10)

	runUntilDrained(t, r)

	dlq := b.Messages("onex.system.dlq.v1")
	require.Len(t, dlq, 1)

	var got envelope.Envelope
	require.NoError(t, json.Unmarshal(dlq[0].Value, &got))
	var rec publisher.DLQRecord
	require.NoError(t, got.UnmarshalPayload(&rec))
	assert.Equal(t, publisher.ReasonParseFailure, rec.Reason)
	assert.Equal(t, []byte("not json"), rec.RawPayload)
}

func TestRouterUnknownTopicGoesToDLQ(t *testing.T) {
	c := testContract("onex.orders.cmd.v1", "onex.orders.evt.v1", "onex.orders.error.v1")
	reg := buildRegistry(t, handler.Response{Success: true, StatusCode: 200}, c)

	b := broker.NewEmbedded()
	publishEnvelope(t, b, "onex.unmapped.cmd.v1", "upsert", "corr-1", map[string]string{"id": "1"})

	pub := publisher.New(b.NewProducer(), envelope.Source{Service: "noded"})
	r := New(b.NewConsumer("onex.unmapped.cmd.v1"), reg, pub, "onex.system.dlq.v1", 10)

	runUntilDrained(t, r)

	dlq := b.Messages("onex.system.dlq.v1")
	require.Len(t, dlq, 1)
	var got envelope.Envelope
	require.NoError(t, json.Unmarshal(dlq[0].Value, &got))
	var rec publisher.DLQRecord
	require.NoError(t, got.UnmarshalPayload(&rec))
	assert.Equal(t, publisher.ReasonUnknownTopic, rec.Reason)
}

func TestRouterHandlerFailurePublishesToFailureTopic(t *testing.T) {
	c := testContract("onex.orders.cmd.v1", "onex.orders.evt.v1", "onex.orders.error.v1")
	reg := buildRegistry(t, handler.Response{Success: false, StatusCode: 500}, c)

	b := broker.NewEmbedded()
	publishEnvelope(t, b, "onex.orders.cmd.v1", "upsert", "corr-1", map[string]string{"id": "1"})

	pub := publisher.New(b.NewProducer(), envelope.Source{Service: "noded"})
	r := New(b.NewConsumer("onex.orders.cmd.v1"), reg, pub, "onex.system.dlq.v1", 10)

	runUntilDrained(t, r)

	assert.Empty(t, b.Messages("onex.orders.evt.v1"))
	failure := b.Messages("onex.orders.error.v1")
	require.Len(t, failure, 1)
}

func TestRouterSanitizesCorrelationID(t *testing.T) {
	c := testContract("onex.orders.cmd.v1", "onex.orders.evt.v1", "onex.orders.error.v1")
	reg := buildRegistry(t, handler.Response{Success: true, StatusCode: 200}, c)

	b := broker.NewEmbedded()
	publishEnvelope(t, b, "onex.orders.cmd.v1", "upsert", "bad id with spaces\n", map[string]string{"id": "1"})

	pub := publisher.New(b.NewProducer(), envelope.Source{Service: "noded"})
	r := New(b.NewConsumer("onex.orders.cmd.v1"), reg, pub, "onex.system.dlq.v1", 10)

	runUntilDrained(t, r)

	msgs := b.Messages("onex.orders.evt.v1")
	require.Len(t, msgs, 1)
	var got envelope.Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Value, &got))
	assert.Equal(t, envelope.UnknownCorrelationID, got.CorrelationID)
}
