package queue

import (
	"context"
	"errors"
	"io"

	"github.com/segmentio/kafka-go"
)

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads raw event payloads from a topic within a consumer group.
type KafkaConsumer struct {
	reader kafkaReader
}

// NewKafkaConsumer constructs a group consumer on topic.
func NewKafkaConsumer(brokers []string, topic, groupID string) *KafkaConsumer {
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
	}
}

// Run hands each payload to handle and commits it once handle returns nil.
// Handler failures are passed to onError. Run returns when ctx is cancelled
// or the reader is closed.
func (k *KafkaConsumer) Run(ctx context.Context, handle func(ctx context.Context, body []byte) error, onError func(error)) error {
	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			onError(err)
			continue
		}
		if err := handle(ctx, msg.Value); err != nil {
			onError(err)
			continue
		}
		if err := k.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			onError(err)
		}
	}
}

// Close closes the reader.
func (k *KafkaConsumer) Close() error {
	return k.reader.Close()
}
