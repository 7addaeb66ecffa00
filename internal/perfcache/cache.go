// Package perfcache is a keyed value cache with TTL expiry and
// frequency-weighted LRU eviction, paired with a per-metric sample recorder
// that raises threshold alerts.
package perfcache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
	"github.com/ramiqadoumi/go-resilience/internal/events"
	"github.com/ramiqadoumi/go-resilience/internal/ring"
	"github.com/ramiqadoumi/go-resilience/pkg/telemetry"
)

const (
	DefaultMaxBytes       = 100 * 1024 * 1024
	DefaultTTL            = 5 * time.Minute
	DefaultSweepSchedule  = "@every 5m"
	DefaultMetricCapacity = 100

	// hitWeight is how many milliseconds of recency a single hit is worth
	// when scoring entries for eviction.
	hitWeight = 10_000
)

// Cache holds keyed values and metric samples. All methods are safe for
// concurrent use; events are published after the internal lock is released.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*domain.CacheEntry
	sizeBytes int64
	evictions uint64
	metrics   map[string]*ring.Buffer[domain.MetricSample]

	bus        *events.Bus
	maxBytes   int64
	defaultTTL time.Duration
	sweepSpec  string
	metricCap  int
	now        func() time.Time
	logger     *slog.Logger
	sweeper    *cron.Cron
}

// Option configures a Cache.
type Option func(*Cache)

func WithMaxBytes(n int64) Option           { return func(c *Cache) { c.maxBytes = n } }
func WithDefaultTTL(d time.Duration) Option { return func(c *Cache) { c.defaultTTL = d } }
func WithMetricCapacity(n int) Option       { return func(c *Cache) { c.metricCap = n } }
func WithLogger(l *slog.Logger) Option      { return func(c *Cache) { c.logger = l } }
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// WithSweepSchedule sets the cron spec of the expired-entry sweep.
// An empty spec disables the sweep; expiry is still enforced on Get.
func WithSweepSchedule(spec string) Option { return func(c *Cache) { c.sweepSpec = spec } }

// New creates a Cache publishing to bus and starts its periodic sweep.
// Call Destroy to stop the sweep.
func New(bus *events.Bus, opts ...Option) (*Cache, error) {
	c := &Cache{
		entries:    make(map[string]*domain.CacheEntry),
		metrics:    make(map[string]*ring.Buffer[domain.MetricSample]),
		bus:        bus,
		maxBytes:   DefaultMaxBytes,
		defaultTTL: DefaultTTL,
		sweepSpec:  DefaultSweepSchedule,
		metricCap:  DefaultMetricCapacity,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.sweepSpec != "" {
		c.sweeper = cron.New()
		if _, err := c.sweeper.AddFunc(c.sweepSpec, func() { c.Sweep() }); err != nil {
			return nil, fmt.Errorf("parse sweep schedule %q: %w", c.sweepSpec, err)
		}
		c.sweeper.Start()
	}
	return c, nil
}

// Set stores value under key, replacing any existing entry. A non-positive
// ttl uses the default TTL. When the projected size exceeds the byte budget
// the lowest-scoring quarter of entries is evicted first.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	size := sizeOf(value)
	now := c.now()

	c.mu.Lock()
	projected := c.sizeBytes + size
	if old, ok := c.entries[key]; ok {
		projected -= old.SizeBytes
	}
	evicted := 0
	if projected > c.maxBytes {
		evicted = c.evictLocked()
	}
	if old, ok := c.entries[key]; ok {
		c.sizeBytes -= old.SizeBytes
	}
	c.entries[key] = &domain.CacheEntry{
		Data:           value,
		CreatedAt:      now,
		TTL:            ttl,
		LastAccessedAt: now,
		SizeBytes:      size,
	}
	c.sizeBytes += size
	total := c.sizeBytes
	c.mu.Unlock()

	if evicted > 0 {
		c.logger.Debug("cache evicted entries", slog.Int("count", evicted), slog.String("trigger_key", key))
	}
	telemetry.CacheOperations.WithLabelValues("write").Inc()
	telemetry.CacheSizeBytes.Set(float64(total))

	c.RecordMetric(domain.MetricSample{
		Name:      string(events.CacheWrite),
		Value:     float64(size),
		Category:  domain.CategoryTechnical,
		Threshold: domain.Threshold{Good: 1024, Poor: 10240},
	})
	c.publish(events.CacheWrite, events.CachePayload{Key: key, SizeBytes: size})
}

// Get returns the value under key. A missing or expired key reports false
// and records a cache-miss; an expired entry is deleted on the spot.
func (c *Cache) Get(key string) (any, bool) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[key]
	expired := ok && e.Expired(now)
	if expired {
		c.deleteLocked(key)
		ok = false
	}
	if !ok {
		total := c.sizeBytes
		c.mu.Unlock()

		if expired {
			telemetry.CacheExpired.Inc()
			telemetry.CacheSizeBytes.Set(float64(total))
		}
		c.recordAccess(events.CacheMiss, key, expired)
		return nil, false
	}
	e.HitCount++
	e.LastAccessedAt = now
	data := e.Data
	c.mu.Unlock()

	c.recordAccess(events.CacheHit, key, false)
	return data, true
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	_, ok := c.entries[key]
	if ok {
		c.deleteLocked(key)
	}
	total := c.sizeBytes
	c.mu.Unlock()

	telemetry.CacheSizeBytes.Set(float64(total))
	return ok
}

// Entry returns a copy of the bookkeeping for key without touching its
// access statistics.
func (c *Cache) Entry(key string) (domain.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return domain.CacheEntry{}, false
	}
	return *e, true
}

// Sweep deletes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for key, e := range c.entries {
		if e.Expired(now) {
			c.deleteLocked(key)
			removed++
		}
	}
	total := c.sizeBytes
	c.mu.Unlock()

	if removed > 0 {
		telemetry.CacheExpired.Add(float64(removed))
		telemetry.CacheSizeBytes.Set(float64(total))
		c.logger.Debug("cache sweep removed expired entries", slog.Int("count", removed))
	}
	return removed
}

// Stats returns a summary of the cache contents.
func (c *Cache) Stats() domain.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := domain.CacheStats{
		TotalEntries:   len(c.entries),
		TotalSizeBytes: c.sizeBytes,
		MemoryUsageMB:  float64(c.sizeBytes) / (1024 * 1024),
		Evictions:      c.evictions,
	}
	for _, e := range c.entries {
		st.TotalHits += e.HitCount
	}
	if st.TotalEntries > 0 {
		st.AvgHitRate = float64(st.TotalHits) / float64(st.TotalEntries)
	}
	return st
}

// Destroy stops the periodic sweep and drops all entries and samples.
func (c *Cache) Destroy() {
	if c.sweeper != nil {
		<-c.sweeper.Stop().Done()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*domain.CacheEntry)
	c.metrics = make(map[string]*ring.Buffer[domain.MetricSample])
	c.sizeBytes = 0
	telemetry.CacheSizeBytes.Set(0)
}

// evictLocked removes the ceil(25%) lowest-scoring entries. An entry's score
// is its last access time in milliseconds plus hitWeight per hit, so hot
// keys outlive merely recent ones. Must be called with mu held.
func (c *Cache) evictLocked() int {
	n := len(c.entries)
	if n == 0 {
		return 0
	}

	type scored struct {
		key   string
		score int64
	}
	ranked := make([]scored, 0, n)
	for key, e := range c.entries {
		ranked = append(ranked, scored{key: key, score: score(e)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score < ranked[j].score
		}
		return ranked[i].key < ranked[j].key
	})

	toRemove := (n + 3) / 4
	for _, s := range ranked[:toRemove] {
		c.deleteLocked(s.key)
	}
	c.evictions += uint64(toRemove)
	telemetry.CacheEvictions.Add(float64(toRemove))
	return toRemove
}

func score(e *domain.CacheEntry) int64 {
	return e.LastAccessedAt.UnixMilli() + int64(e.HitCount)*hitWeight
}

func (c *Cache) deleteLocked(key string) {
	if e, ok := c.entries[key]; ok {
		c.sizeBytes -= e.SizeBytes
		delete(c.entries, key)
	}
}

func (c *Cache) recordAccess(t events.Type, key string, expired bool) {
	op := "hit"
	if t == events.CacheMiss {
		op = "miss"
	}
	telemetry.CacheOperations.WithLabelValues(op).Inc()

	c.RecordMetric(domain.MetricSample{
		Name:      string(t),
		Value:     1,
		Category:  domain.CategoryTechnical,
		Threshold: domain.Threshold{Good: 1, Poor: 1},
	})
	c.publish(t, events.CachePayload{Key: key, Expired: expired})
}

func (c *Cache) publish(t events.Type, payload any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.Event{Type: t, Time: c.now(), Payload: payload})
}

// sizeOf approximates the payload size by its JSON encoding. Values that
// cannot be encoded count as zero bytes.
func sizeOf(v any) int64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return int64(len(b))
}
