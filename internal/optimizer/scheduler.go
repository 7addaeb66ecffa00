// Package optimizer schedules content optimization tasks by priority with a
// bounded number of concurrent executors.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
	"github.com/ramiqadoumi/go-resilience/internal/events"
	"github.com/ramiqadoumi/go-resilience/pkg/telemetry"
)

const (
	DefaultMaxConcurrency   = 4
	DefaultTaskTimeout      = 30 * time.Second
	DefaultProgressInterval = 100 * time.Millisecond

	progressStart   = 10
	progressCeiling = 90
	progressMaxStep = 20
)

type entry struct {
	task    domain.OptimizationTask
	payload []byte
}

// Scheduler keeps every task in one priority-ordered queue until it is
// removed or cleared. Terminal tasks stay queued for inspection.
type Scheduler struct {
	mu         sync.Mutex
	queue      []*entry
	processing int
	destroyed  bool

	exec             Executor
	bus              *events.Bus
	maxConcurrency   int
	timeout          time.Duration
	progressInterval time.Duration
	logger           *slog.Logger
	now              func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithMaxConcurrency(n int) Option             { return func(s *Scheduler) { s.maxConcurrency = n } }
func WithTaskTimeout(d time.Duration) Option      { return func(s *Scheduler) { s.timeout = d } }
func WithProgressInterval(d time.Duration) Option { return func(s *Scheduler) { s.progressInterval = d } }
func WithLogger(l *slog.Logger) Option            { return func(s *Scheduler) { s.logger = l } }
func WithClock(now func() time.Time) Option       { return func(s *Scheduler) { s.now = now } }

// New constructs a Scheduler that runs tasks on exec and publishes
// optimization-complete events to bus.
func New(exec Executor, bus *events.Bus, opts ...Option) *Scheduler {
	s := &Scheduler{
		exec:             exec,
		bus:              bus,
		maxConcurrency:   DefaultMaxConcurrency,
		timeout:          DefaultTaskTimeout,
		progressInterval: DefaultProgressInterval,
		logger:           slog.Default(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxConcurrency < 1 {
		s.maxConcurrency = 1
	}
	if s.progressInterval <= 0 {
		s.progressInterval = DefaultProgressInterval
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Enqueue adds a pending task ahead of the first queued task with a lower
// priority and dispatches immediately if a slot is free. An unknown
// priority is treated as medium. It returns the task id, or "" once the
// scheduler is destroyed.
func (s *Scheduler) Enqueue(kind domain.ContentKind, payload []byte, priority domain.Priority) string {
	if !priority.Valid() {
		priority = domain.PriorityMedium
	}
	e := &entry{
		task: domain.OptimizationTask{
			ID:           "opt_" + uuid.NewString(),
			Kind:         kind,
			Priority:     priority,
			State:        domain.TaskPending,
			EnqueuedAt:   s.now().UTC(),
			OriginalSize: len(payload),
		},
		payload: payload,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		s.logger.Warn("enqueue after destroy ignored", slog.String("kind", string(kind)))
		return ""
	}

	rank := priority.Rank()
	pos := slices.IndexFunc(s.queue, func(q *entry) bool { return q.task.Priority.Rank() > rank })
	if pos < 0 {
		s.queue = append(s.queue, e)
	} else {
		s.queue = slices.Insert(s.queue, pos, e)
	}

	telemetry.OptimizerTasksEnqueued.WithLabelValues(string(kind), string(priority)).Inc()
	s.logger.Debug("task enqueued",
		slog.String("task_id", e.task.ID),
		slog.String("kind", string(kind)),
		slog.String("priority", string(priority)),
	)

	s.dispatchLocked()
	return e.task.ID
}

// dispatchLocked starts head-most pending tasks while slots are free.
// Must be called with mu held.
func (s *Scheduler) dispatchLocked() {
	if s.destroyed {
		return
	}
	for s.processing < s.maxConcurrency {
		i := slices.IndexFunc(s.queue, func(q *entry) bool { return q.task.State == domain.TaskPending })
		if i < 0 {
			return
		}
		e := s.queue[i]
		now := s.now().UTC()
		e.task.State = domain.TaskProcessing
		e.task.StartedAt = &now
		e.task.ProgressPercent = progressStart
		s.processing++

		s.wg.Add(1)
		go s.run(e)
	}
}

func (s *Scheduler) run(e *entry) {
	defer s.wg.Done()

	s.mu.Lock()
	id, kind := e.task.ID, e.task.Kind
	s.mu.Unlock()

	ctx, span := otel.Tracer(telemetry.TracerName).Start(s.ctx, "optimizer.run_task")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", id),
		attribute.String("task.kind", string(kind)),
	)

	telemetry.OptimizerTasksInFlight.Inc()
	defer telemetry.OptimizerTasksInFlight.Dec()

	stop := s.reportProgress(e)
	start := time.Now()
	res, err := s.execute(ctx, kind, e.payload)
	stop()

	telemetry.OptimizerTaskDurationSeconds.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task failed")
	} else if !res.Success {
		span.SetStatus(codes.Error, "task unsuccessful")
	}
	s.complete(e, res, err)
}

// execute runs the executor in its own goroutine so that a per-task timeout
// holds even when the executor ignores ctx. Panics become errors.
func (s *Scheduler) execute(ctx context.Context, kind domain.ContentKind, payload []byte) (domain.OptimizationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		res domain.OptimizationResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("executor panicked",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				done <- outcome{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		res, err := s.exec.Execute(ctx, kind, payload)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return domain.OptimizationResult{}, fmt.Errorf("executor did not finish: %w", ctx.Err())
	}
}

// reportProgress advances the synthetic progress of e until the returned
// stop function is called.
func (s *Scheduler) reportProgress(e *entry) (stop func()) {
	quit := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(s.progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				s.mu.Lock()
				if e.task.State == domain.TaskProcessing {
					e.task.ProgressPercent = math.Min(progressCeiling, e.task.ProgressPercent+rand.Float64()*progressMaxStep)
				}
				s.mu.Unlock()
			}
		}
	}()
	return func() {
		close(quit)
		<-finished
	}
}

func (s *Scheduler) complete(e *entry, res domain.OptimizationResult, err error) {
	now := s.now().UTC()

	s.mu.Lock()
	e.task.FinishedAt = &now
	switch {
	case err != nil:
		e.task.State = domain.TaskFailed
		e.task.ErrorDetail = err.Error()
	case !res.Success:
		e.task.State = domain.TaskFailed
		e.task.ErrorDetail = res.Error
		if e.task.ErrorDetail == "" {
			e.task.ErrorDetail = "optimization reported failure"
		}
	default:
		e.task.State = domain.TaskCompleted
		e.task.ProgressPercent = 100
		e.task.OriginalSize = res.OriginalSize
		e.task.OptimizedSize = res.OptimizedSize
	}
	if err != nil && res.Error == "" {
		res.Error = err.Error()
	}
	s.processing--
	task := e.task
	s.dispatchLocked()
	s.mu.Unlock()

	log := s.logger.With(
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Kind)),
	)
	telemetry.OptimizerTasksProcessed.WithLabelValues(string(task.Kind), string(task.State)).Inc()
	if task.State == domain.TaskCompleted {
		if saved := task.OriginalSize - task.OptimizedSize; saved > 0 {
			telemetry.OptimizerBytesSaved.WithLabelValues(string(task.Kind)).Add(float64(saved))
		}
		log.Info("task completed",
			slog.Int("original_size", task.OriginalSize),
			slog.Int("optimized_size", task.OptimizedSize),
		)
	} else {
		log.Error("task failed", slog.String("error", task.ErrorDetail))
	}

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:    events.OptimizationComplete,
			Payload: events.OptimizationPayload{Task: task, Result: res},
		})
	}
}

// RemoveTask drops a pending task. Tasks that are processing or terminal
// are left alone and false is returned.
func (s *Scheduler) RemoveTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.queue, func(q *entry) bool { return q.task.ID == id })
	if i < 0 || s.queue[i].task.State != domain.TaskPending {
		return false
	}
	s.queue = slices.Delete(s.queue, i, i+1)
	return true
}

// ClearCompleted drops every completed task and returns how many were
// dropped. Failed tasks are kept.
func (s *Scheduler) ClearCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.queue)
	s.queue = slices.DeleteFunc(s.queue, func(q *entry) bool { return q.task.State == domain.TaskCompleted })
	return before - len(s.queue)
}

// Task returns a copy of the task with the given id.
func (s *Scheduler) Task(id string) (domain.OptimizationTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queue {
		if q.task.ID == id {
			return q.task, true
		}
	}
	return domain.OptimizationTask{}, false
}

// Tasks returns a copy of every queued task in queue order.
func (s *Scheduler) Tasks() []domain.OptimizationTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OptimizationTask, len(s.queue))
	for i, q := range s.queue {
		out[i] = q.task
	}
	return out
}

// QueueStats summarises the queue.
func (s *Scheduler) QueueStats() domain.QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st domain.QueueStats
	var ratioSum float64
	st.Total = len(s.queue)
	for _, q := range s.queue {
		switch q.task.State {
		case domain.TaskPending:
			st.Pending++
		case domain.TaskProcessing:
			st.Processing++
		case domain.TaskFailed:
			st.Failed++
		case domain.TaskCompleted:
			st.Completed++
			st.TotalBytesSaved += q.task.OriginalSize - q.task.OptimizedSize
			if q.task.OriginalSize > 0 {
				ratioSum += float64(q.task.OptimizedSize) / float64(q.task.OriginalSize)
			} else {
				ratioSum++
			}
		}
	}
	if st.Completed > 0 {
		st.AvgCompressionRatio = ratioSum / float64(st.Completed)
	}
	return st
}

// Wait blocks until no task is processing and nothing more can be
// dispatched.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Destroy cancels running executors, waits for them to be accounted for
// and drops the queue. Later Enqueue calls are ignored.
func (s *Scheduler) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
}
