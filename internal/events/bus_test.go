package events_test

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-resilience/internal/events"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestBus_DeliversToMatchingSubscribers(t *testing.T) {
	bus := events.NewBus(discardLogger)

	var hits, all []events.Type
	bus.Subscribe(func(e events.Event) { hits = append(hits, e.Type) }, events.CacheHit)
	bus.Subscribe(func(e events.Event) { all = append(all, e.Type) })

	bus.Publish(events.Event{Type: events.CacheHit})
	bus.Publish(events.Event{Type: events.CacheMiss})

	assert.Equal(t, []events.Type{events.CacheHit}, hits)
	assert.Equal(t, []events.Type{events.CacheHit, events.CacheMiss}, all)
}

func TestBus_SetsTimeWhenZero(t *testing.T) {
	bus := events.NewBus(discardLogger)
	var got events.Event
	bus.Subscribe(func(e events.Event) { got = e })

	bus.Publish(events.Event{Type: events.ErrorCaptured})
	assert.False(t, got.Time.IsZero())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := events.NewBus(discardLogger)
	calls := 0
	unsub := bus.Subscribe(func(events.Event) { calls++ })

	bus.Publish(events.Event{Type: events.CacheWrite})
	unsub()
	unsub() // second call is a no-op
	bus.Publish(events.Event{Type: events.CacheWrite})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.Len())
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := events.NewBus(discardLogger)
	bus.Subscribe(func(events.Event) { panic("boom") })
	delivered := false
	bus.Subscribe(func(events.Event) { delivered = true })

	require.NotPanics(t, func() { bus.Publish(events.Event{Type: events.Reload}) })
	assert.True(t, delivered)
}

func TestBus_CloseDropsSubscribersAndPublishes(t *testing.T) {
	bus := events.NewBus(discardLogger)
	calls := 0
	bus.Subscribe(func(events.Event) { calls++ })
	bus.Close()

	bus.Publish(events.Event{Type: events.CacheHit})
	bus.Subscribe(func(events.Event) { calls++ })
	bus.Publish(events.Event{Type: events.CacheHit})

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, bus.Len())
}

func TestBus_HandlerMayUnsubscribeDuringDelivery(t *testing.T) {
	bus := events.NewBus(discardLogger)
	var unsub func()
	calls := 0
	unsub = bus.Subscribe(func(events.Event) {
		calls++
		unsub()
	})

	bus.Publish(events.Event{Type: events.CacheHit})
	bus.Publish(events.Event{Type: events.CacheHit})
	assert.Equal(t, 1, calls)
}

func TestBus_ConcurrentPublishSubscribe(t *testing.T) {
	bus := events.NewBus(discardLogger)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe(func(events.Event) {})
			unsub()
		}()
		go func() { defer wg.Done(); bus.Publish(events.Event{Type: events.CacheMiss}) }()
	}
	wg.Wait()
}
