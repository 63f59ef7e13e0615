package envelope

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReplyPreservesCorrelationAndCausation(t *testing.T) {
	req, err := New(Source{Service: "test"}, "vector-upsert", "upsert", map[string]string{"a": "b"})
	require.NoError(t, err)
	req.CorrelationID = "req-001"

	reply, err := NewReply(req, Source{Service: "noded"}, "evt", map[string]int{"x": 1})
	require.NoError(t, err)

	assert.Equal(t, req.CorrelationID, reply.CorrelationID)
	assert.Equal(t, req.EventID, reply.CausationID)
	assert.NotEqual(t, req.EventID, reply.EventID)
}

func TestSanitizeCorrelationIDConforming(t *testing.T) {
	called := false
	got := SanitizeCorrelationID("req-001", func(string) { called = true })
	assert.Equal(t, "req-001", got)
	assert.False(t, called)
}

func TestSanitizeCorrelationIDExactly128Accepted(t *testing.T) {
	id := strings.Repeat("a", 128)
	got := SanitizeCorrelationID(id, nil)
	assert.Equal(t, id, got)
}

func TestSanitizeCorrelationID129Rejected(t *testing.T) {
	id := strings.Repeat("a", 129)
	got := SanitizeCorrelationID(id, nil)
	assert.Equal(t, UnknownCorrelationID, got)
}

func TestSanitizeCorrelationIDControlCharRejected(t *testing.T) {
	var truncated string
	got := SanitizeCorrelationID("valid-id\n[FAKE] ERR", func(s string) { truncated = s })
	assert.Equal(t, UnknownCorrelationID, got)
	assert.Contains(t, truncated, "valid-id")
}

func TestSanitizeCorrelationIDIdempotent(t *testing.T) {
	inputs := []string{"ok-id", "", strings.Repeat("x", 500), "bad\x00id", "has space"}
	for _, in := range inputs {
		once := SanitizeCorrelationID(in, nil)
		twice := SanitizeCorrelationID(once, nil)
		assert.Equal(t, once, twice, "input %q", in)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	e := &Envelope{}
	err := e.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event_id")
}
