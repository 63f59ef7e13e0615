// Package publisher implements the Result Publisher & DLQ: the single
// place that turns an executor's EffectOutput, or a router-level
// routing failure, into an outbound broker message.
//
// Grounded on cellorg's internal/envelope reply-construction style
// (NewReply preserving correlation/causation across request and
// response) generalized from the teacher's single wire shape into three
// destinations: success topic, failure topic, and DLQ.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/onex/noderuntime/internal/broker"
	"github.com/onex/noderuntime/internal/envelope"
	"github.com/onex/noderuntime/internal/executor"
)

// Publisher produces success, failure, and DLQ envelopes for one process.
// It holds no per-node state; every call is addressed by explicit topic.
type Publisher struct {
	producer broker.Producer
	source   envelope.Source
}

// New constructs a Publisher bound to a broker producer.
func New(producer broker.Producer, source envelope.Source) *Publisher {
	return &Publisher{producer: producer, source: source}
}

// PublishSuccess sends request's EffectOutput to successTopic, preserving
// correlation_id and setting causation_id to the request's event_id.
func (p *Publisher) PublishSuccess(ctx context.Context, successTopic string, request *envelope.Envelope, out executor.EffectOutput) error {
	reply, err := envelope.NewReply(request, p.source, "evt", out)
	if err != nil {
		return fmt.Errorf("publisher: build success envelope: %w", err)
	}
	return p.publish(ctx, successTopic, reply)
}

// PublishFailure sends a structured ErrorRecord to failureTopic after
// retries are exhausted or on a permanent classification error.
func (p *Publisher) PublishFailure(ctx context.Context, failureTopic string, request *envelope.Envelope, rec *executor.ErrorRecord) error {
	reply, err := envelope.NewReply(request, p.source, "error", rec)
	if err != nil {
		return fmt.Errorf("publisher: build failure envelope: %w", err)
	}
	return p.publish(ctx, failureTopic, reply)
}

// DLQReason classifies why the router, rather than an executor, is
// routing a message to the dead-letter topic.
type DLQReason string

const (
	ReasonParseFailure  DLQReason = "parse_failure"
	ReasonUnknownTopic  DLQReason = "unknown_topic"
	ReasonExecutorPanic DLQReason = "executor_panic"
)

// DLQRecord is the payload carried by a dead-letter envelope. RawPayload
// preserves every byte the router received, even when it could not be
// parsed as an Envelope at all.
type DLQRecord struct {
	Reason        DLQReason `json:"reason"`
	Detail        string    `json:"detail"`
	Topic         string    `json:"topic,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	RawPayload    []byte    `json:"raw_payload"`
}

// PublishDLQ sends a dead-letter record to dlqTopic. request may be nil
// (a parse failure has no parsed envelope to reply from); in that case
// the DLQ envelope is built fresh rather than as a reply.
func (p *Publisher) PublishDLQ(ctx context.Context, dlqTopic string, request *envelope.Envelope, rec DLQRecord) error {
	var env *envelope.Envelope
	var err error
	if request != nil {
		env, err = envelope.NewReply(request, p.source, "error", rec)
	} else {
		env, err = envelope.New(p.source, "", "", rec)
		if err == nil {
			env.EventType = "error"
			if rec.CorrelationID != "" {
				env.CorrelationID = envelope.SanitizeCorrelationID(rec.CorrelationID, nil)
			} else {
				env.CorrelationID = envelope.UnknownCorrelationID
			}
		}
	}
	if err != nil {
		return fmt.Errorf("publisher: build dlq envelope: %w", err)
	}
	return p.publish(ctx, dlqTopic, env)
}

func (p *Publisher) publish(ctx context.Context, topic string, env *envelope.Envelope) error {
	body, err := env.ToJSON()
	if err != nil {
		return fmt.Errorf("publisher: marshal envelope: %w", err)
	}
	key := []byte(env.CorrelationID)
	headers := map[string][]byte{
		"event_type": []byte(env.EventType),
		"node_id":    []byte(env.NodeID),
	}
	if err := p.producer.Produce(ctx, topic, key, body, headers); err != nil {
		return fmt.Errorf("publisher: produce to %s: %w", topic, err)
	}
	return nil
}

// marshalErrorContext renders a free-form context map for inclusion in a
// DLQ detail string when the full record can't be attached as a typed
// payload (e.g. executor panic recovery).
func marshalErrorContext(ctxMap map[string]interface{}) string {
	if len(ctxMap) == 0 {
		return ""
	}
	b, err := json.Marshal(ctxMap)
	if err != nil {
		return ""
	}
	return string(b)
}

// PanicDetail formats a DLQ detail string for a recovered executor panic,
// folding routing context (topic, partition, offset) into the detail
// text via marshalErrorContext.
func PanicDetail(recovered interface{}, ctxMap map[string]interface{}) string {
	detail := fmt.Sprintf("executor panicked: %v", recovered)
	if extra := marshalErrorContext(ctxMap); extra != "" {
		detail += " context=" + extra
	}
	return detail
}
