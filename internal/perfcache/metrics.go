package perfcache

import (
	"log/slog"
	"sort"
	"time"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
	"github.com/ramiqadoumi/go-resilience/internal/events"
	"github.com/ramiqadoumi/go-resilience/internal/ring"
	"github.com/ramiqadoumi/go-resilience/pkg/telemetry"
)

// Well-known vital names accepted by ObserveVital.
const (
	VitalLCP        = "largest-contentful-paint"
	VitalFID        = "first-input-delay"
	VitalCLS        = "cumulative-layout-shift"
	VitalFCP        = "first-contentful-paint"
	VitalNavigation = "navigation"
)

var vitalThresholds = map[string]domain.Threshold{
	VitalLCP:        {Good: 2500, Poor: 4000},
	VitalFID:        {Good: 100, Poor: 300},
	VitalCLS:        {Good: 0.1, Poor: 0.25},
	VitalFCP:        {Good: 1800, Poor: 3000},
	VitalNavigation: {Good: 2000, Poor: 5000},
}

var (
	defaultVitalThreshold = domain.Threshold{Good: 1000, Poor: 3000}
	customThreshold       = domain.Threshold{Good: 100, Poor: 1000}
	resourceThreshold     = domain.Threshold{Good: 100, Poor: 500}
)

// ThresholdFor returns the threshold ObserveVital applies to name.
func ThresholdFor(name string) domain.Threshold {
	if t, ok := vitalThresholds[name]; ok {
		return t
	}
	return defaultVitalThreshold
}

// RecordMetric appends sample to the ring of its name, dropping the oldest
// sample once the ring is full. Samples above their Good threshold raise a
// performance-alert event.
func (c *Cache) RecordMetric(sample domain.MetricSample) {
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = c.now()
	}
	if sample.Category == "" {
		sample.Category = domain.CategoryPerformance
	}

	c.mu.Lock()
	buf, ok := c.metrics[sample.Name]
	if !ok {
		buf = ring.New[domain.MetricSample](c.metricCap)
		c.metrics[sample.Name] = buf
	}
	buf.Push(sample)
	c.mu.Unlock()

	level := sample.Level()
	if level == domain.AlertNone {
		return
	}
	telemetry.PerformanceAlerts.WithLabelValues(sample.Name, string(level)).Inc()
	c.logger.Warn("performance threshold exceeded",
		slog.String("metric", sample.Name),
		slog.Float64("value", sample.Value),
		slog.String("level", string(level)),
	)
	c.publish(events.PerformanceAlert, events.AlertPayload{Sample: sample, Level: level})
}

// RecordCustomMetric records an application-defined measurement.
func (c *Cache) RecordCustomMetric(name string, value float64, category domain.MetricCategory) {
	c.RecordMetric(domain.MetricSample{
		Name:      name,
		Value:     value,
		Category:  category,
		Threshold: customThreshold,
	})
}

// ObserveVital records a page vital using the per-metric threshold table.
func (c *Cache) ObserveVital(name string, value float64) {
	c.RecordMetric(domain.MetricSample{
		Name:      name,
		Value:     value,
		Category:  domain.CategoryPerformance,
		Threshold: ThresholdFor(name),
	})
}

// ObserveResource records the load duration of a resource fetched by
// initiator (script, img, fetch, ...).
func (c *Cache) ObserveResource(initiator string, d time.Duration) {
	c.RecordMetric(domain.MetricSample{
		Name:      "resource-" + initiator,
		Value:     float64(d) / float64(time.Millisecond),
		Category:  domain.CategoryPerformance,
		Threshold: resourceThreshold,
	})
}

// Metrics returns every retained sample, grouped by metric name in
// lexical order and oldest first within a name. A non-empty category
// filters the result.
func (c *Cache) Metrics(category domain.MetricCategory) []domain.MetricSample {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.metrics))
	for name := range c.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []domain.MetricSample
	for _, name := range names {
		c.metrics[name].Each(func(s domain.MetricSample) bool {
			if category == "" || s.Category == category {
				out = append(out, s)
			}
			return true
		})
	}
	return out
}

// Samples returns the retained samples of one metric, oldest first.
func (c *Cache) Samples(name string) []domain.MetricSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.metrics[name]
	if !ok {
		return nil
	}
	return buf.Items()
}
