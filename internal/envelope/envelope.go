// Package envelope defines the on-wire message structure exchanged between
// the broker and the node runtime, and the correlation-id sanitizer that
// guards every log line, message key, and persisted identifier derived from
// untrusted input.
//
// Called by: router, publisher, cmd/noded.
// Calls: encoding/json, time, github.com/google/uuid.
package envelope

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Source identifies the process that emitted an Envelope.
type Source struct {
	Service    string `json:"service"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname,omitempty"`
}

// Envelope wraps one request or one response on the wire. Required fields
// are always present; CausationID and TraceID are optional on requests but
// CausationID is always set on responses (see NewReply).
type Envelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	CorrelationID string            `json:"correlation_id"`
	CausationID   string            `json:"causation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Version       string            `json:"version"`
	Source        Source            `json:"source"`
	NodeID        string            `json:"node_id"`
	Operation     string            `json:"operation"`
	TraceID       string            `json:"trace_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
}

const wireVersion = "1.0.0"

// New creates a request/response envelope with a fresh event id and the
// current timestamp. CorrelationID is left empty; callers set it.
func New(source Source, nodeID, operation string, payload interface{}) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal payload: %w", err)
	}
	return &Envelope{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Version:   wireVersion,
		Source:    source,
		NodeID:    nodeID,
		Operation: operation,
		Payload:   body,
	}, nil
}

// NewReply builds a response envelope that preserves the request's
// correlation id and sets CausationID to the request's event id.
func NewReply(request *Envelope, source Source, eventType string, payload interface{}) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal reply payload: %w", err)
	}
	return &Envelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		CorrelationID: request.CorrelationID,
		CausationID:   request.EventID,
		Timestamp:     time.Now().UTC(),
		Version:       wireVersion,
		Source:        source,
		NodeID:        request.NodeID,
		Operation:     request.Operation,
		TraceID:       request.TraceID,
		Payload:       body,
	}, nil
}

// UnmarshalPayload decodes the opaque payload into v.
func (e *Envelope) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// ContextScope renders the envelope metadata the Variable Substitutor's
// "context." scope resolves against: request envelope metadata such as
// correlation_id.
func (e *Envelope) ContextScope() map[string]interface{} {
	scope := map[string]interface{}{
		"correlation_id": e.CorrelationID,
		"event_id":       e.EventID,
		"node_id":        e.NodeID,
		"operation":      e.Operation,
	}
	if e.CausationID != "" {
		scope["causation_id"] = e.CausationID
	}
	if e.TraceID != "" {
		scope["trace_id"] = e.TraceID
	}
	for k, v := range e.Metadata {
		scope[k] = v
	}
	return scope
}

// ToJSON serializes the envelope for transport.
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses a raw broker record into an Envelope. A parse failure is
// reported to the caller so the router can route it to the DLQ as an
// EnvelopeRoutingFailure rather than panicking on malformed input.
func FromJSON(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("envelope: unmarshal: %w", err)
	}
	return &e, nil
}

// Validate checks presence of the envelope's required fields.
func (e *Envelope) Validate() error {
	switch {
	case e.EventID == "":
		return &ValidationError{Field: "event_id", Message: "required"}
	case e.CorrelationID == "":
		return &ValidationError{Field: "correlation_id", Message: "required"}
	case e.NodeID == "":
		return &ValidationError{Field: "node_id", Message: "required"}
	case e.Operation == "":
		return &ValidationError{Field: "operation", Message: "required"}
	case e.Payload == nil:
		return &ValidationError{Field: "payload", Message: "required"}
	}
	return nil
}

// ValidationError reports one invalid or missing envelope field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// correlationIDPattern matches the conforming correlation-id shape.
var correlationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// UnknownCorrelationID is substituted for any correlation id that fails
// sanitization.
const UnknownCorrelationID = "unknown"

// truncateLen bounds how much of a rejected correlation id is logged.
const truncateLen = 50

// SanitizeCorrelationID enforces the correlation-id contract: a
// conforming value passes through unchanged; anything else — wrong
// charset, too long, or containing a control character or escape sequence
// — is replaced with UnknownCorrelationID. onReject, if non-nil, is
// invoked exactly once with the truncated original bytes so the caller can
// log a single warning; SanitizeCorrelationID never logs directly so it
// stays a pure, idempotent function.
func SanitizeCorrelationID(raw string, onReject func(truncated string)) string {
	if isConforming(raw) {
		return raw
	}
	if onReject != nil {
		truncated := raw
		if len(truncated) > truncateLen {
			truncated = truncated[:truncateLen]
		}
		onReject(truncated)
	}
	return UnknownCorrelationID
}

func isConforming(s string) bool {
	if !correlationIDPattern.MatchString(s) {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
