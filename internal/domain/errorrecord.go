package domain

import "time"

// ErrorKind is the origin of a captured runtime fault.
type ErrorKind string

const (
	ErrorJavaScript ErrorKind = "javascript"
	ErrorNetwork    ErrorKind = "network"
	ErrorChunkLoad  ErrorKind = "chunkLoad"
	ErrorComponent  ErrorKind = "component"
	ErrorAPI        ErrorKind = "api"
	ErrorHydration  ErrorKind = "hydration"
)

// Severity ranks the impact of a captured fault.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorContext describes where a fault was observed.
type ErrorContext struct {
	Pathname    string `json:"pathname"`
	AgentString string `json:"agent_string"`
}

// ErrorRecord is a captured fault plus its recovery bookkeeping.
type ErrorRecord struct {
	ID               string       `json:"id"`
	OccurredAt       time.Time    `json:"occurred_at"`
	Kind             ErrorKind    `json:"kind"`
	Message          string       `json:"message"`
	URL              string       `json:"url,omitempty"`
	Stack            string       `json:"stack,omitempty"`
	Severity         Severity     `json:"severity"`
	Context          ErrorContext `json:"context"`
	Recovered        bool         `json:"recovered"`
	RecoveryAttempts int          `json:"recovery_attempts"`
	AppliedStrategy  string       `json:"applied_strategy,omitempty"`
}

// ErrorReport is the partial information a producer supplies when capturing
// a fault. Zero-valued fields are filled with defaults on capture.
type ErrorReport struct {
	Kind       ErrorKind    `json:"kind"`
	Message    string       `json:"message"`
	URL        string       `json:"url,omitempty"`
	Stack      string       `json:"stack,omitempty"`
	Severity   Severity     `json:"severity,omitempty"`
	Context    ErrorContext `json:"context"`
	OccurredAt time.Time    `json:"occurred_at,omitempty"`
}

// ErrorStats is a read-only summary of the captured faults.
type ErrorStats struct {
	Total                int               `json:"total"`
	RecentWithinLastHour int               `json:"recent_within_last_hour"`
	RecoveredCount       int               `json:"recovered_count"`
	CountByKind          map[ErrorKind]int `json:"count_by_kind"`
	CountBySeverity      map[Severity]int  `json:"count_by_severity"`
	RecoveryRate         float64           `json:"recovery_rate"`
}
