package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	historyPrefix       = "resilience:history:"
	defaultHistoryLimit = 100
)

func historyKey(channel string) string { return historyPrefix + channel }

// Publisher fans events out over Redis pub/sub. Each channel also keeps a
// capped list of its most recent messages so late subscribers can catch up.
type Publisher struct {
	client       *redis.Client
	historyLimit int64
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithHistoryLimit sets how many messages are kept per channel. Zero
// disables the history.
func WithHistoryLimit(n int) PublisherOption {
	return func(p *Publisher) { p.historyLimit = int64(n) }
}

// NewPublisher creates a Redis-backed event publisher.
func NewPublisher(client *redis.Client, opts ...PublisherOption) *Publisher {
	p := &Publisher{client: client, historyLimit: defaultHistoryLimit}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends value on channel topic. key is unused by pub/sub and is
// accepted to satisfy the same contract as the Kafka producer.
func (p *Publisher) Publish(ctx context.Context, topic, _ string, value []byte) error {
	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, topic, value)
	if p.historyLimit > 0 {
		pipe.LPush(ctx, historyKey(topic), value)
		pipe.LTrim(ctx, historyKey(topic), 0, p.historyLimit-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish to %s: %w", topic, err)
	}
	return nil
}

// Recent returns up to n of the latest messages sent on topic, newest first.
func (p *Publisher) Recent(ctx context.Context, topic string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	vals, err := p.client.LRange(ctx, historyKey(topic), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis history for %s: %w", topic, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// Close is a no-op. The client may be shared with the rate limiter and is
// closed by whoever created it.
func (p *Publisher) Close() error { return nil }
