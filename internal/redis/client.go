// Package redis holds the Redis-backed pieces of the service: an event
// publisher with a short replay history, and the sliding-window limiter
// guarding fault intake.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientOption tunes the client built by NewClient.
type ClientOption func(*redis.Options)

func WithPoolSize(n int) ClientOption              { return func(o *redis.Options) { o.PoolSize = n } }
func WithDialTimeout(d time.Duration) ClientOption { return func(o *redis.Options) { o.DialTimeout = d } }

// NewClient returns a client for addr with short read and write timeouts.
func NewClient(addr string, opts ...ClientOption) *redis.Client {
	o := &redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		PoolSize:     10,
	}
	for _, opt := range opts {
		opt(o)
	}
	return redis.NewClient(o)
}

// Ping reports whether the server answers; it backs the readiness probes.
func Ping(client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
