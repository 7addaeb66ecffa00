// Package dashboard samples the three engines on a fixed interval and
// derives a consolidated health state from their snapshots.
package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
	"github.com/ramiqadoumi/go-resilience/internal/events"
	"github.com/ramiqadoumi/go-resilience/internal/ring"
)

const (
	DefaultPollInterval = 5 * time.Second

	// alertRetention is how many performance alerts the snapshot carries.
	alertRetention = 10
)

// Health is the consolidated state of the engines.
type Health string

const (
	HealthExcellent Health = "excellent"
	HealthGood      Health = "good"
	HealthWarning   Health = "warning"
	HealthCritical  Health = "critical"
)

// CacheSource is the cache snapshot the aggregator reads.
type CacheSource interface {
	Stats() domain.CacheStats
}

// QueueSource is the scheduler snapshot the aggregator reads.
type QueueSource interface {
	QueueStats() domain.QueueStats
}

// ErrorSource is the recovery snapshot the aggregator reads.
type ErrorSource interface {
	ErrorStats() domain.ErrorStats
	Errors() []domain.ErrorRecord
}

// Snapshot is one consolidated reading of all engines.
type Snapshot struct {
	TakenAt             time.Time             `json:"taken_at"`
	Health              Health                `json:"health"`
	Cache               domain.CacheStats     `json:"cache"`
	Queue               domain.QueueStats     `json:"queue"`
	Errors              domain.ErrorStats     `json:"errors"`
	UnrecoveredCritical int                   `json:"unrecovered_critical"`
	UnrecoveredHigh     int                   `json:"unrecovered_high"`
	PoorAlerts          int                   `json:"poor_alerts"`
	Alerts              []events.AlertPayload `json:"alerts"`
}

// Aggregator polls the engines and keeps the latest Snapshot. Alerts are
// collected from the bus as they are published.
type Aggregator struct {
	cache  CacheSource
	queue  QueueSource
	errors ErrorSource

	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu          sync.Mutex
	alerts      *ring.Buffer[events.AlertPayload]
	last        Snapshot
	unsubscribe func()
}

// Option configures an Aggregator.
type Option func(*Aggregator)

func WithPollInterval(d time.Duration) Option { return func(a *Aggregator) { a.interval = d } }
func WithLogger(l *slog.Logger) Option        { return func(a *Aggregator) { a.logger = l } }
func WithClock(now func() time.Time) Option   { return func(a *Aggregator) { a.now = now } }

// NewAggregator subscribes to performance alerts on bus. Close releases
// the subscription.
func NewAggregator(bus *events.Bus, cache CacheSource, queue QueueSource, errs ErrorSource, opts ...Option) *Aggregator {
	a := &Aggregator{
		cache:    cache,
		queue:    queue,
		errors:   errs,
		interval: DefaultPollInterval,
		now:      time.Now,
		logger:   slog.Default(),
		alerts:   ring.New[events.AlertPayload](alertRetention),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.interval <= 0 {
		a.interval = DefaultPollInterval
	}
	a.unsubscribe = bus.Subscribe(a.onAlert, events.PerformanceAlert)
	return a
}

func (a *Aggregator) onAlert(e events.Event) {
	p, ok := e.Payload.(events.AlertPayload)
	if !ok {
		return
	}
	a.mu.Lock()
	a.alerts.Push(p)
	a.mu.Unlock()
}

// Run polls once immediately, then every poll interval until ctx is
// cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.Refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Refresh()
		}
	}
}

// Refresh takes a new reading of every engine and returns it.
func (a *Aggregator) Refresh() Snapshot {
	snap := Snapshot{
		TakenAt: a.now().UTC(),
		Cache:   a.cache.Stats(),
		Queue:   a.queue.QueueStats(),
		Errors:  a.errors.ErrorStats(),
	}
	for _, rec := range a.errors.Errors() {
		if rec.Recovered {
			continue
		}
		switch rec.Severity {
		case domain.SeverityCritical:
			snap.UnrecoveredCritical++
		case domain.SeverityHigh:
			snap.UnrecoveredHigh++
		}
	}

	a.mu.Lock()
	snap.Alerts = a.alerts.Items()
	for _, al := range snap.Alerts {
		if al.Level == domain.AlertPoor {
			snap.PoorAlerts++
		}
	}
	snap.Health = deriveHealth(snap)
	prev := a.last.Health
	a.last = snap
	a.mu.Unlock()

	if prev != "" && prev != snap.Health {
		a.logger.Info("system health changed",
			slog.String("from", string(prev)),
			slog.String("to", string(snap.Health)),
		)
	}
	return snap
}

// Snapshot returns the latest reading. TakenAt is zero before the first
// poll.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// ClearAlerts drops the retained alerts. The next poll reflects it.
func (a *Aggregator) ClearAlerts() {
	a.mu.Lock()
	a.alerts.Clear()
	a.mu.Unlock()
}

// Close stops collecting alerts.
func (a *Aggregator) Close() { a.unsubscribe() }

// deriveHealth ranks a snapshot. Any unrecovered critical fault or more
// than five poor alerts is critical; elevated counts are a warning; a
// quiet system is excellent.
func deriveHealth(s Snapshot) Health {
	switch {
	case s.UnrecoveredCritical > 0 || s.PoorAlerts > 5:
		return HealthCritical
	case s.UnrecoveredHigh > 2 || s.PoorAlerts > 2 || s.Queue.Processing > 10:
		return HealthWarning
	case s.UnrecoveredHigh == 0 && s.PoorAlerts == 0 && s.Queue.Processing < 5:
		return HealthExcellent
	default:
		return HealthGood
	}
}
