// Package kafka wraps segmentio/kafka-go for the two Kafka roles of the
// service: forwarding engine events out, and reading fault reports in.
// Trace context travels in message headers.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes keyed messages. It satisfies events.Publisher.
type Producer struct {
	writer *kafka.Writer
}

// ProducerOption configures a Producer.
type ProducerOption func(*kafka.Writer)

// WithBatchTimeout bounds how long a partial batch waits before it is sent.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(w *kafka.Writer) { w.BatchTimeout = d }
}

// WithRequiredAcks sets the acknowledgement level for writes.
func WithRequiredAcks(acks kafka.RequiredAcks) ProducerOption {
	return func(w *kafka.Writer) { w.RequiredAcks = acks }
}

// NewProducer creates a Kafka producer connected to the given brokers.
// Messages with the same key land on the same partition, so events about
// one task or error stay ordered.
func NewProducer(brokers []string, opts ...ProducerOption) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		BatchTimeout:           20 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	for _, opt := range opts {
		opt(w)
	}
	return &Producer{writer: w}
}

func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: traceHeaders(ctx),
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
