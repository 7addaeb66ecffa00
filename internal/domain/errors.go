package domain

import "fmt"

// TaskNotFoundError is returned when a task ID does not exist in the queue.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// TaskNotRemovableError is returned when a removal targets a task that has
// already left the pending state.
type TaskNotRemovableError struct {
	TaskID string
	State  TaskState
}

func (e *TaskNotRemovableError) Error() string {
	return fmt.Sprintf("task %s cannot be removed in state %s", e.TaskID, e.State)
}

// InvalidKindError is returned when no handler is registered for a content kind.
type InvalidKindError struct {
	Kind ContentKind
}

func (e *InvalidKindError) Error() string {
	return fmt.Sprintf("no handler registered for content kind %q", e.Kind)
}

// CacheKeyNotFoundError is returned by surfaces that must report a cache miss
// as an error (the cache itself reports misses with a bool).
type CacheKeyNotFoundError struct {
	Key string
}

func (e *CacheKeyNotFoundError) Error() string {
	return fmt.Sprintf("cache key not found: %s", e.Key)
}

// ErrorNotFoundError is returned when an error record ID is unknown.
type ErrorNotFoundError struct {
	ErrorID string
}

func (e *ErrorNotFoundError) Error() string {
	return fmt.Sprintf("error record not found: %s", e.ErrorID)
}

// InvalidStrategyError is returned when a recovery strategy is registered
// without a name or without its callbacks.
type InvalidStrategyError struct {
	Name   string
	Reason string
}

func (e *InvalidStrategyError) Error() string {
	return fmt.Sprintf("invalid recovery strategy %q: %s", e.Name, e.Reason)
}
