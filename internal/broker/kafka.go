package broker

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConsumer implements Consumer over a franz-go client, manual-commit
// (offsets are committed only after the host loop finishes dispatching a
// batch, never auto-committed on poll).
type KafkaConsumer struct {
	client *kgo.Client
}

// NewKafkaConsumer dials brokers and subscribes to every topic in topics
// under consumerGroup with auto-commit disabled. One client can cover
// every node sharing a consumer group, since the host owns the broker
// consumer rather than any individual node.
func NewKafkaConsumer(brokers []string, topics []string, consumerGroup string) (*KafkaConsumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(consumerGroup),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("broker: new consumer: %w", err)
	}
	return &KafkaConsumer{client: client}, nil
}

func (c *KafkaConsumer) PollBatch(ctx context.Context, maxPollRecords int) ([]Message, error) {
	fetches := c.client.PollRecords(ctx, maxPollRecords)
	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("broker: poll: %w", errs[0].Err)
	}
	var out []Message
	fetches.EachRecord(func(r *kgo.Record) {
		headers := make(map[string][]byte, len(r.Headers))
		for _, h := range r.Headers {
			headers[h.Key] = h.Value
		}
		out = append(out, Message{
			Topic:     r.Topic,
			Key:       r.Key,
			Value:     r.Value,
			Headers:   headers,
			Partition: r.Partition,
			Offset:    r.Offset,
			Native:    r,
		})
	})
	return out, nil
}

func (c *KafkaConsumer) Commit(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(msgs))
	for _, m := range msgs {
		if r, ok := m.Native.(*kgo.Record); ok {
			records = append(records, r)
		}
	}
	return c.client.CommitRecords(ctx, records...)
}

func (c *KafkaConsumer) Close() error {
	c.client.Close()
	return nil
}

// KafkaProducer implements Producer over a franz-go client.
type KafkaProducer struct {
	client *kgo.Client
}

func NewKafkaProducer(brokers []string) (*KafkaProducer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerIdempotent(),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("broker: new producer: %w", err)
	}
	return &KafkaProducer{client: client}, nil
}

func (p *KafkaProducer) Produce(ctx context.Context, topic string, key, value []byte, headers map[string][]byte) error {
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: v})
	}
	result := p.client.ProduceSync(ctx, record)
	return result.FirstErr()
}

func (p *KafkaProducer) Close() error {
	p.client.Close()
	return nil
}
