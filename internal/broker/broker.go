// Package broker adapts the host loop to a log-structured message
// broker. Consumer and Producer are the only two shapes the rest of the
// runtime depends on; KafkaConsumer/KafkaProducer implement them over
// franz-go's kgo client, and the embedded in-memory broker implements
// them for the local-dev runtime profile and for tests without touching
// a real broker.
//
// Grounded on cellorg's internal/broker.Service for the shape of a
// central pub/sub hub (topics, debug-gated logging) and on its
// connection-lifecycle style, generalized from GOX's TCP/JSON-RPC
// point-to-point transport to a franz-go consumer/producer pair, since
// this runtime's topics are broker-owned logs, not agent-to-agent pipes.
package broker

import "context"

// Message is one raw record read from or written to a topic. Native
// carries the broker-implementation's original record handle (e.g. a
// *kgo.Record) so Commit can acknowledge precisely what was fetched;
// implementations that don't need it (the embedded broker) leave it nil.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string][]byte
	Partition int32
	Offset    int64
	Native    interface{}
}

// Consumer is the host loop's view of a broker consumer: poll a batch,
// and commit offsets only after every message in that batch has
// finished processing.
type Consumer interface {
	// PollBatch returns up to maxPollRecords messages. It may return an
	// empty batch without waiting when nothing is pending (the embedded
	// consumer does); callers poll again.
	PollBatch(ctx context.Context, maxPollRecords int) ([]Message, error)
	// Commit acknowledges every message in msgs as fully processed.
	Commit(ctx context.Context, msgs []Message) error
	// Close releases the consumer's connection.
	Close() error
}

// Producer is the result publisher's view of a broker producer.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string][]byte) error
	Close() error
}
