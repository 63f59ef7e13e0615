package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedPublishAndConsume(t *testing.T) {
	b := NewEmbedded()
	b.Publish("onex.orders.evt.v1", []byte("k1"), []byte("v1"))
	b.Publish("onex.orders.evt.v1", []byte("k2"), []byte("v2"))

	consumer := b.NewConsumer("onex.orders.evt.v1")
	msgs, err := consumer.PollBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("v1"), msgs[0].Value)
	assert.Equal(t, []byte("v2"), msgs[1].Value)
}

func TestEmbeddedPollBatchRespectsMaxRecords(t *testing.T) {
	b := NewEmbedded()
	for i := 0; i < 5; i++ {
		b.Publish("t", nil, []byte{byte(i)})
	}
	consumer := b.NewConsumer("t")
	msgs, err := consumer.PollBatch(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestEmbeddedCommitAdvancesCursor(t *testing.T) {
	b := NewEmbedded()
	for i := 0; i < 3; i++ {
		b.Publish("t", nil, []byte{byte(i)})
	}
	consumer := b.NewConsumer("t")

	first, err := consumer.PollBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NoError(t, consumer.Commit(context.Background(), first))

	rest, err := consumer.PollBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, byte(2), rest[0].Value[0])
}

func TestEmbeddedPollBatchEmptyReturnsNilWithoutBlocking(t *testing.T) {
	b := NewEmbedded()
	consumer := b.NewConsumer("empty-topic")
	msgs, err := consumer.PollBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestEmbeddedProducerRoundTripsThroughConsumer(t *testing.T) {
	b := NewEmbedded()
	producer := b.NewProducer()
	require.NoError(t, producer.Produce(context.Background(), "out", []byte("key"), []byte("body"), map[string][]byte{"h": []byte("v")}))

	msgs := b.Messages("out")
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("body"), msgs[0].Value)
	assert.Equal(t, []byte("v"), msgs[0].Headers["h"])
}

func TestEmbeddedTopicsAreIndependent(t *testing.T) {
	b := NewEmbedded()
	b.Publish("a", nil, []byte("1"))
	b.Publish("b", nil, []byte("2"))

	assert.Len(t, b.Messages("a"), 1)
	assert.Len(t, b.Messages("b"), 1)
	assert.Empty(t, b.Messages("c"))
}
