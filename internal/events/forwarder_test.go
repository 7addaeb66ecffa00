package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
	"github.com/ramiqadoumi/go-resilience/internal/events"
)

type publishedMsg struct {
	topic string
	key   string
	value []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	msgs     []publishedMsg
	failures int // fail this many calls before succeeding
	calls    int
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return errors.New("broker unavailable")
	}
	p.msgs = append(p.msgs, publishedMsg{topic, key, value})
	return nil
}
func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) published() []publishedMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedMsg(nil), p.msgs...)
}

func TestForwarder_PublishesSubscribedTypes(t *testing.T) {
	bus := events.NewBus(discardLogger)
	pub := &fakePublisher{}
	fwd := events.NewForwarder(bus, pub, []events.Type{events.ErrorCaptured},
		events.WithForwarderLogger(discardLogger))

	ctx, cancel := context.WithCancel(context.Background())
	fwd.Start(ctx)

	bus.Publish(events.Event{Type: events.CacheHit})
	bus.Publish(events.Event{
		Type:    events.ErrorCaptured,
		Payload: events.ErrorPayload{Error: domain.ErrorRecord{ID: "err-1", Message: "fetch failed"}},
	})

	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	fwd.Wait()

	msg := pub.published()[0]
	assert.Equal(t, "resilience.error-captured", msg.topic)
	assert.Equal(t, "err-1", msg.key)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.value, &decoded))
	assert.Equal(t, "error-captured", decoded["type"])
}

func TestForwarder_RetriesFailedPublish(t *testing.T) {
	bus := events.NewBus(discardLogger)
	pub := &fakePublisher{failures: 2}
	fwd := events.NewForwarder(bus, pub, nil,
		events.WithForwarderLogger(discardLogger),
		events.WithPublishRetries(3),
		events.WithPublishDelay(time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd.Start(ctx)

	bus.Publish(events.Event{Type: events.Reload})
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestForwarder_WaitCoversStartedLoop(t *testing.T) {
	bus := events.NewBus(discardLogger)
	fwd := events.NewForwarder(bus, &fakePublisher{}, nil, events.WithForwarderLogger(discardLogger))
	require.Equal(t, 1, bus.Len())

	ctx, cancel := context.WithCancel(context.Background())
	fwd.Start(ctx)
	cancel()
	fwd.Wait()

	// Wait only returns after the loop has unsubscribed.
	assert.Equal(t, 0, bus.Len())
}

func TestForwarder_DropsWhenBufferFull(t *testing.T) {
	bus := events.NewBus(discardLogger)
	pub := &fakePublisher{}
	events.NewForwarder(bus, pub, nil,
		events.WithForwarderLogger(discardLogger),
		events.WithBuffer(1),
	)

	// Run is never started, so only the first event fits.
	assert.NotPanics(t, func() {
		bus.Publish(events.Event{Type: events.CacheHit})
		bus.Publish(events.Event{Type: events.CacheHit})
	})
	assert.Empty(t, pub.published())
}
