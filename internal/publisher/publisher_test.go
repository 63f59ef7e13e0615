package publisher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onex/noderuntime/internal/broker"
	"github.com/onex/noderuntime/internal/envelope"
	"github.com/onex/noderuntime/internal/executor"
)

func testSource() envelope.Source {
	return envelope.Source{Service: "noded", InstanceID: "inst-1"}
}

func testRequest(t *testing.T) *envelope.Envelope {
	t.Helper()
	env, err := envelope.New(testSource(), "vector-upsert", "upsert", map[string]string{"id": "1"})
	require.NoError(t, err)
	env.CorrelationID = "corr-123"
	return env
}

func TestPublishSuccessPreservesCorrelationAndSetsCausation(t *testing.T) {
	b := broker.NewEmbedded()
	p := New(b.NewProducer(), testSource())
	req := testRequest(t)

	out := executor.EffectOutput{Success: true, Operation: "upsert", Data: map[string]interface{}{"id": "1"}}
	require.NoError(t, p.PublishSuccess(context.Background(), "onex.orders.evt.v1", req, out))

	msgs := b.Messages("onex.orders.evt.v1")
	require.Len(t, msgs, 1)

	var got envelope.Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Value, &got))
	assert.Equal(t, req.CorrelationID, got.CorrelationID)
	assert.Equal(t, req.EventID, got.CausationID)
}

func TestPublishFailureCarriesErrorRecord(t *testing.T) {
	b := broker.NewEmbedded()
	p := New(b.NewProducer(), testSource())
	req := testRequest(t)

	rec := &executor.ErrorRecord{Code: executor.CodeHandlerFailure, Message: "boom", CorrelationID: req.CorrelationID, NodeID: "vector-upsert", Recoverable: true}
	require.NoError(t, p.PublishFailure(context.Background(), "onex.orders.error.v1", req, rec))

	msgs := b.Messages("onex.orders.error.v1")
	require.Len(t, msgs, 1)

	var got envelope.Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Value, &got))
	var gotRec executor.ErrorRecord
	require.NoError(t, got.UnmarshalPayload(&gotRec))
	assert.Equal(t, executor.CodeHandlerFailure, gotRec.Code)
	assert.Equal(t, "boom", gotRec.Message)
}

func TestPublishDLQFromParsedEnvelopePreservesRouting(t *testing.T) {
	b := broker.NewEmbedded()
	p := New(b.NewProducer(), testSource())
	req := testRequest(t)

	rec := DLQRecord{Reason: ReasonUnknownTopic, Detail: "no contract for topic", Topic: "onex.unknown.cmd.v1", RawPayload: []byte(`{"raw":true}`)}
	require.NoError(t, p.PublishDLQ(context.Background(), "onex.system.dlq.v1", req, rec))

	msgs := b.Messages("onex.system.dlq.v1")
	require.Len(t, msgs, 1)

	var got envelope.Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Value, &got))
	var gotRec DLQRecord
	require.NoError(t, got.UnmarshalPayload(&gotRec))
	assert.Equal(t, ReasonUnknownTopic, gotRec.Reason)
	assert.Equal(t, []byte(`{"raw":true}`), gotRec.RawPayload)
}

func TestPublishDLQWithoutParsedEnvelopeBuildsFreshOne(t *testing.T) {
	b := broker.NewEmbedded()
	p := New(b.NewProducer(), testSource())

	rec := DLQRecord{Reason: ReasonParseFailure, Detail: "invalid json", RawPayload: []byte(`not json`)}
	require.NoError(t, p.PublishDLQ(context.Background(), "onex.system.dlq.v1", nil, rec))

	msgs := b.Messages("onex.system.dlq.v1")
	require.Len(t, msgs, 1)

	var got envelope.Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Value, &got))
	assert.Equal(t, envelope.UnknownCorrelationID, got.CorrelationID)
}
