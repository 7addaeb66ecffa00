package domain

import "time"

// ContentKind is the type of content an optimization task works on.
type ContentKind string

const (
	KindImage ContentKind = "image"
	KindText  ContentKind = "text"
	KindCSS   ContentKind = "css"
	KindJS    ContentKind = "js"
	KindHTML  ContentKind = "html"
)

// Priority orders tasks in the optimizer queue.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns the dispatch rank of p; lower ranks are dispatched first.
// Unknown priorities rank as medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// TaskState represents the states an optimization task can be in.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// IsTerminal returns true if no further state transitions are possible.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// OptimizationTask is a unit of content optimization work.
type OptimizationTask struct {
	ID              string      `json:"id"`
	Kind            ContentKind `json:"kind"`
	Priority        Priority    `json:"priority"`
	State           TaskState   `json:"state"`
	ProgressPercent float64     `json:"progress_percent"`
	EnqueuedAt      time.Time   `json:"enqueued_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
	OriginalSize    int         `json:"original_size,omitempty"`
	OptimizedSize   int         `json:"optimized_size,omitempty"`
	ErrorDetail     string      `json:"error_detail,omitempty"`
}

// OptimizationResult is what an executor reports for a finished task.
type OptimizationResult struct {
	Success          bool          `json:"success"`
	OriginalSize     int           `json:"original_size"`
	OptimizedSize    int           `json:"optimized_size"`
	CompressionRatio float64       `json:"compression_ratio"`
	Duration         time.Duration `json:"duration"`
	Encoding         string        `json:"encoding,omitempty"`
	Output           []byte        `json:"-"`
	Error            string        `json:"error,omitempty"`
}

// QueueStats is a read-only summary of the optimizer queue.
type QueueStats struct {
	Total               int     `json:"total"`
	Pending             int     `json:"pending"`
	Processing          int     `json:"processing"`
	Completed           int     `json:"completed"`
	Failed              int     `json:"failed"`
	TotalBytesSaved     int     `json:"total_bytes_saved"`
	AvgCompressionRatio float64 `json:"avg_compression_ratio"`
}
