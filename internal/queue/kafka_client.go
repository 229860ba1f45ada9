package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaClient publishes orphan events to a Kafka topic keyed by document id.
type KafkaClient struct {
	writer kafkaWriter
	topic  string
}

// NewKafkaClient constructs a Kafka-backed queue client.
func NewKafkaClient(brokers []string, topic string) (*KafkaClient, error) {
	if len(brokers) == 0 || strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	return &KafkaClient{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
		topic: topic,
	}, nil
}

// Send writes the event to the topic.
func (k *KafkaClient) Send(ctx context.Context, ev OrphanEvent) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("encode kafka message: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.DocumentID),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write topic=%s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaClient) Close() error {
	return k.writer.Close()
}

var _ Client = (*KafkaClient)(nil)
