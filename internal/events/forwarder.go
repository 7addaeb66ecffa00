package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ramiqadoumi/go-resilience/pkg/retry"
	"github.com/ramiqadoumi/go-resilience/pkg/telemetry"
)

// Publisher delivers an encoded event to an external broker.
// The Kafka producer and the Redis publisher both satisfy it.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// TopicPrefix is prepended to the event type to form the sink topic/channel.
const TopicPrefix = "resilience."

// Topic returns the sink topic for t.
func Topic(t Type) string { return TopicPrefix + string(t) }

// Forwarder copies bus events to a Publisher. Subscription only enqueues,
// so engines never block on the broker; Start drains the buffer.
type Forwarder struct {
	pub         Publisher
	logger      *slog.Logger
	buf         chan Event
	maxAttempts int
	baseDelay   time.Duration

	unsubscribe func()
	wg          sync.WaitGroup
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

func WithBuffer(n int) ForwarderOption                 { return func(f *Forwarder) { f.buf = make(chan Event, n) } }
func WithPublishRetries(n int) ForwarderOption         { return func(f *Forwarder) { f.maxAttempts = n } }
func WithPublishDelay(d time.Duration) ForwarderOption { return func(f *Forwarder) { f.baseDelay = d } }
func WithForwarderLogger(l *slog.Logger) ForwarderOption {
	return func(f *Forwarder) { f.logger = l }
}

// NewForwarder subscribes to the given types on bus (all types when none).
func NewForwarder(bus *Bus, pub Publisher, types []Type, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		pub:         pub,
		logger:      slog.Default(),
		buf:         make(chan Event, 256),
		maxAttempts: 3,
		baseDelay:   100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.unsubscribe = bus.Subscribe(f.enqueue, types...)
	return f
}

func (f *Forwarder) enqueue(e Event) {
	select {
	case f.buf <- e:
	default:
		telemetry.EventsDropped.Inc()
		f.logger.Warn("event forwarder buffer full, dropping event", slog.String("event", string(e.Type)))
	}
}

// Start publishes buffered events on a new goroutine until ctx is
// cancelled, then stops listening.
func (f *Forwarder) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.run(ctx)
	}()
}

func (f *Forwarder) run(ctx context.Context) {
	defer f.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-f.buf:
			f.forward(ctx, e)
		}
	}
}

// Wait blocks until the goroutine launched by Start has returned.
func (f *Forwarder) Wait() { f.wg.Wait() }

func (f *Forwarder) forward(ctx context.Context, e Event) {
	value, err := json.Marshal(e)
	if err != nil {
		telemetry.EventsForwarded.WithLabelValues(string(e.Type), "malformed").Inc()
		f.logger.Error("encode event", slog.String("event", string(e.Type)), slog.String("error", err.Error()))
		return
	}

	err = retry.Do(ctx, retry.Config{
		MaxAttempts: f.maxAttempts,
		BaseDelay:   f.baseDelay,
		OnRetry: func(attempt int, err error) {
			f.logger.Warn("publish failed, retrying",
				slog.String("event", string(e.Type)),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	}, func() error {
		return f.pub.Publish(ctx, Topic(e.Type), eventKey(e), value)
	})
	if err != nil {
		telemetry.EventsForwarded.WithLabelValues(string(e.Type), "failed").Inc()
		f.logger.Error("publish event", slog.String("event", string(e.Type)), slog.String("error", err.Error()))
		return
	}
	telemetry.EventsForwarded.WithLabelValues(string(e.Type), "ok").Inc()
}

// eventKey keeps events about the same task or error on one partition.
func eventKey(e Event) string {
	switch p := e.Payload.(type) {
	case OptimizationPayload:
		return p.Task.ID
	case ErrorPayload:
		return p.Error.ID
	case CachePayload:
		return p.Key
	case AlertPayload:
		return p.Sample.Name
	}
	return fmt.Sprintf("%s-%d", e.Type, e.Time.UnixNano())
}
