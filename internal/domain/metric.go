package domain

import "time"

// MetricCategory groups metric samples for filtering.
type MetricCategory string

const (
	CategoryPerformance MetricCategory = "performance"
	CategoryUser        MetricCategory = "user"
	CategoryBusiness    MetricCategory = "business"
	CategoryTechnical   MetricCategory = "technical"
)

// Valid reports whether c is one of the known categories.
func (c MetricCategory) Valid() bool {
	switch c {
	case CategoryPerformance, CategoryUser, CategoryBusiness, CategoryTechnical:
		return true
	}
	return false
}

// Threshold holds the good/poor boundaries a sample value is compared against.
type Threshold struct {
	Good float64 `json:"good"`
	Poor float64 `json:"poor"`
}

// MetricSample is a single immutable measurement.
type MetricSample struct {
	Name       string         `json:"name"`
	Value      float64        `json:"value"`
	RecordedAt time.Time      `json:"recorded_at"`
	Category   MetricCategory `json:"category"`
	Threshold  Threshold      `json:"threshold"`
}

// AlertLevel is the outcome of comparing a sample against its threshold.
type AlertLevel string

const (
	AlertNone             AlertLevel = ""
	AlertNeedsImprovement AlertLevel = "needs-improvement"
	AlertPoor             AlertLevel = "poor"
)

// Level classifies the sample: above Poor is poor, above Good needs improvement.
func (s MetricSample) Level() AlertLevel {
	switch {
	case s.Value > s.Threshold.Poor:
		return AlertPoor
	case s.Value > s.Threshold.Good:
		return AlertNeedsImprovement
	default:
		return AlertNone
	}
}
