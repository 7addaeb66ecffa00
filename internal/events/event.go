// Package events is the observer registry the engines publish to. Each
// engine is handed a *Bus at construction; consumers subscribe to it
// explicitly instead of listening on a process-wide dispatcher.
package events

import (
	"time"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
)

// Type identifies an event.
type Type string

const (
	CacheWrite           Type = "cache-write"
	CacheHit             Type = "cache-hit"
	CacheMiss            Type = "cache-miss"
	PerformanceAlert     Type = "performance-alert"
	OptimizationComplete Type = "optimization-complete"
	ErrorCaptured        Type = "error-captured"
	ErrorRecovered       Type = "error-recovered"
	ErrorUnrecoverable   Type = "error-unrecoverable"

	// Remediation signals emitted by recovery strategies for the host to act on.
	ComponentFallback Type = "component-fallback"
	ForceRehydrate    Type = "force-rehydrate"
	APIRetry          Type = "api-retry"
	Reload            Type = "reload"
)

// Event is a single notification. Payload holds one of the *Payload types
// below, or nil for informational events.
type Event struct {
	Type    Type      `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// CachePayload accompanies cache-write, cache-hit and cache-miss.
type CachePayload struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Expired   bool   `json:"expired,omitempty"`
}

// AlertPayload accompanies performance-alert.
type AlertPayload struct {
	Sample domain.MetricSample `json:"metric"`
	Level  domain.AlertLevel   `json:"level"`
}

// OptimizationPayload accompanies optimization-complete.
type OptimizationPayload struct {
	Task   domain.OptimizationTask   `json:"task"`
	Result domain.OptimizationResult `json:"result"`
}

// ErrorPayload accompanies the error-* events and remediation signals.
// Strategy is empty for error-captured and error-unrecoverable.
type ErrorPayload struct {
	Error    domain.ErrorRecord `json:"error"`
	Strategy string             `json:"strategy,omitempty"`
}
