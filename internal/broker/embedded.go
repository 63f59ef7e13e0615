package broker

import (
	"context"
	"sync"
)

// Embedded is an in-process pub/sub broker used by the local-dev runtime
// profile and by tests, so the full runtime can be exercised
// without a live broker. Adapted from cellorg's internal/broker.Service
// topic map (map[string]*Topic guarded by a RWMutex): the subscribe/
// publish shape survives, the TCP/JSON-RPC transport around it does not.
type Embedded struct {
	mu     sync.Mutex
	topics map[string][]Message
	cursor map[string]int // committed position per topic, shared by every consumer of this broker
}

// NewEmbedded constructs an empty embedded broker.
func NewEmbedded() *Embedded {
	return &Embedded{
		topics: make(map[string][]Message),
		cursor: make(map[string]int),
	}
}

// Publish appends a message directly to a topic's log, bypassing the
// Producer/Consumer interfaces — used by tests to seed input without a
// real producer.
func (e *Embedded) Publish(topic string, key, value []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.topics[topic] = append(e.topics[topic], Message{
		Topic:  topic,
		Key:    key,
		Value:  value,
		Offset: int64(len(e.topics[topic])),
	})
}

// Messages returns every message ever published to topic, in order —
// used by tests asserting on success/failure/DLQ topic output.
func (e *Embedded) Messages(topic string) []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Message, len(e.topics[topic]))
	copy(out, e.topics[topic])
	return out
}

// EmbeddedConsumer is a Consumer view of one or more topics within an
// Embedded broker, so local-dev can cover every node sharing a consumer
// group with the same consumer, matching the Kafka-backed consumer's
// multi-topic subscription.
type EmbeddedConsumer struct {
	broker *Embedded
	topics []string
	next   int // round-robins across topics so no topic starves another
	// fetched is the per-topic position already handed out by PollBatch,
	// so messages still in flight are not returned again before commit.
	fetched map[string]int
}

func (e *Embedded) NewConsumer(topics ...string) *EmbeddedConsumer {
	return &EmbeddedConsumer{broker: e, topics: topics}
}

func (c *EmbeddedConsumer) PollBatch(ctx context.Context, maxPollRecords int) ([]Message, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if len(c.topics) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			return nil, nil
		}
	}

	for i := 0; i < len(c.topics); i++ {
		idx := (c.next + i) % len(c.topics)
		topic := c.topics[idx]
		cursor := c.broker.cursor[topic]
		if f := c.fetched[topic]; f > cursor {
			cursor = f
		}
		all := c.broker.topics[topic]
		if cursor >= len(all) {
			continue
		}
		end := cursor + maxPollRecords
		if end > len(all) {
			end = len(all)
		}
		batch := make([]Message, end-cursor)
		copy(batch, all[cursor:end])
		if c.fetched == nil {
			c.fetched = make(map[string]int)
		}
		c.fetched[topic] = end
		c.next = (idx + 1) % len(c.topics)
		return batch, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, nil
	}
}

func (c *EmbeddedConsumer) Commit(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	for _, m := range msgs {
		if int(m.Offset)+1 > c.broker.cursor[m.Topic] {
			c.broker.cursor[m.Topic] = int(m.Offset) + 1
		}
	}
	return nil
}

func (c *EmbeddedConsumer) Close() error { return nil }

// EmbeddedProducer is a Producer view of an Embedded broker.
type EmbeddedProducer struct {
	broker *Embedded
}

func (e *Embedded) NewProducer() *EmbeddedProducer {
	return &EmbeddedProducer{broker: e}
}

func (p *EmbeddedProducer) Produce(ctx context.Context, topic string, key, value []byte, headers map[string][]byte) error {
	p.broker.mu.Lock()
	defer p.broker.mu.Unlock()
	p.broker.topics[topic] = append(p.broker.topics[topic], Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers,
		Offset:  int64(len(p.broker.topics[topic])),
	})
	return nil
}

func (p *EmbeddedProducer) Close() error { return nil }
