package optimizer_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
	"github.com/ramiqadoumi/go-resilience/internal/events"
	"github.com/ramiqadoumi/go-resilience/internal/optimizer"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// ── fakes ────────────────────────────────────────────────────────────────────

// gatedExecutor blocks every call until a value is sent on release and
// records the payloads in start order.
type gatedExecutor struct {
	release chan struct{}

	mu      sync.Mutex
	started []string
}

func newGatedExecutor() *gatedExecutor {
	return &gatedExecutor{release: make(chan struct{})}
}

func (g *gatedExecutor) Execute(ctx context.Context, _ domain.ContentKind, payload []byte) (domain.OptimizationResult, error) {
	g.mu.Lock()
	g.started = append(g.started, string(payload))
	g.mu.Unlock()

	select {
	case <-g.release:
		return domain.OptimizationResult{
			Success:       true,
			OriginalSize:  len(payload),
			OptimizedSize: len(payload),
			Output:        payload,
		}, nil
	case <-ctx.Done():
		return domain.OptimizationResult{}, ctx.Err()
	}
}

func (g *gatedExecutor) startOrder() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.started...)
}

// halvingExecutor returns the first half of the payload, or fails for the
// payloads "fail", "unsuccessful" and "panic".
var halvingExecutor = optimizer.ExecutorFunc(func(_ context.Context, _ domain.ContentKind, payload []byte) (domain.OptimizationResult, error) {
	switch string(payload) {
	case "fail":
		return domain.OptimizationResult{}, errors.New("codec exploded")
	case "unsuccessful":
		return domain.OptimizationResult{Success: false, Error: "nothing to optimize"}, nil
	case "panic":
		panic("executor bug")
	}
	out := payload[:len(payload)/2]
	return domain.OptimizationResult{
		Success:       true,
		OriginalSize:  len(payload),
		OptimizedSize: len(out),
		Output:        out,
	}, nil
})

// tickingClock advances one second on every read.
type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(time.Second)
	return now
}

func newScheduler(t *testing.T, exec optimizer.Executor, bus *events.Bus, opts ...optimizer.Option) *optimizer.Scheduler {
	t.Helper()
	s := optimizer.New(exec, bus, append([]optimizer.Option{optimizer.WithLogger(discardLogger)}, opts...)...)
	t.Cleanup(s.Destroy)
	return s
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestScheduler_BoundedConcurrency(t *testing.T) {
	exec := newGatedExecutor()
	s := newScheduler(t, exec, nil, optimizer.WithMaxConcurrency(2))

	for i := 0; i < 5; i++ {
		s.Enqueue(domain.KindText, []byte{byte('a' + i)}, domain.PriorityMedium)
	}

	st := s.QueueStats()
	assert.Equal(t, 5, st.Total)
	assert.Equal(t, 2, st.Processing)
	assert.Equal(t, 3, st.Pending)

	exec.release <- struct{}{}
	require.Eventually(t, func() bool {
		st := s.QueueStats()
		return st.Completed == 1 && st.Processing == 2 && st.Pending == 2
	}, time.Second, 5*time.Millisecond)

	for i := 0; i < 4; i++ {
		exec.release <- struct{}{}
	}
	s.Wait()

	st = s.QueueStats()
	assert.Equal(t, 5, st.Completed)
	assert.Zero(t, st.Processing)
	assert.Zero(t, st.Pending)
}

func TestScheduler_DispatchesByPriority(t *testing.T) {
	exec := newGatedExecutor()
	s := newScheduler(t, exec, nil, optimizer.WithMaxConcurrency(1))

	s.Enqueue(domain.KindText, []byte("blocker"), domain.PriorityMedium)
	s.Enqueue(domain.KindText, []byte("low"), domain.PriorityLow)
	s.Enqueue(domain.KindText, []byte("critical"), domain.PriorityCritical)
	s.Enqueue(domain.KindText, []byte("medium"), domain.PriorityMedium)

	for i := 0; i < 4; i++ {
		exec.release <- struct{}{}
	}
	s.Wait()

	assert.Equal(t, []string{"blocker", "critical", "medium", "low"}, exec.startOrder())
}

func TestScheduler_QueueOrderIsStableByPriority(t *testing.T) {
	exec := newGatedExecutor()
	s := newScheduler(t, exec, nil, optimizer.WithMaxConcurrency(1))

	s.Enqueue(domain.KindText, []byte("h1"), domain.PriorityHigh)
	s.Enqueue(domain.KindText, []byte("l1"), domain.PriorityLow)
	s.Enqueue(domain.KindText, []byte("h2"), domain.PriorityHigh)
	s.Enqueue(domain.KindText, []byte("c1"), domain.PriorityCritical)

	var order []domain.Priority
	for _, task := range s.Tasks() {
		order = append(order, task.Priority)
	}
	assert.Equal(t, []domain.Priority{
		domain.PriorityCritical, domain.PriorityHigh, domain.PriorityHigh, domain.PriorityLow,
	}, order)
}

func TestScheduler_RemoveTask(t *testing.T) {
	exec := newGatedExecutor()
	s := newScheduler(t, exec, nil, optimizer.WithMaxConcurrency(1))

	running := s.Enqueue(domain.KindText, []byte("running"), domain.PriorityMedium)
	waiting := s.Enqueue(domain.KindText, []byte("waiting"), domain.PriorityMedium)

	assert.False(t, s.RemoveTask(running), "processing tasks cannot be removed")
	assert.True(t, s.RemoveTask(waiting))
	assert.False(t, s.RemoveTask(waiting))
	assert.False(t, s.RemoveTask("opt_unknown"))

	exec.release <- struct{}{}
	s.Wait()

	assert.Equal(t, []string{"running"}, exec.startOrder())
	assert.False(t, s.RemoveTask(running), "terminal tasks cannot be removed")
	_, ok := s.Task(waiting)
	assert.False(t, ok)
}

func TestScheduler_ClearCompletedKeepsFailed(t *testing.T) {
	s := newScheduler(t, halvingExecutor, nil)

	s.Enqueue(domain.KindCSS, []byte("body{}"), domain.PriorityMedium)
	failed := s.Enqueue(domain.KindCSS, []byte("fail"), domain.PriorityMedium)
	s.Enqueue(domain.KindCSS, []byte("p{}"), domain.PriorityMedium)
	s.Wait()

	assert.Equal(t, 2, s.ClearCompleted())
	assert.Zero(t, s.ClearCompleted())

	tasks := s.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, failed, tasks[0].ID)
	assert.Equal(t, domain.TaskFailed, tasks[0].State)
	assert.Contains(t, tasks[0].ErrorDetail, "codec exploded")
}

func TestScheduler_FailureModes(t *testing.T) {
	tests := []struct {
		payload string
		detail  string
	}{
		{"fail", "codec exploded"},
		{"unsuccessful", "nothing to optimize"},
		{"panic", "executor bug"},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			s := newScheduler(t, halvingExecutor, nil)

			id := s.Enqueue(domain.KindJS, []byte(tt.payload), domain.PriorityHigh)
			s.Wait()

			task, ok := s.Task(id)
			require.True(t, ok)
			assert.Equal(t, domain.TaskFailed, task.State)
			assert.Contains(t, task.ErrorDetail, tt.detail)
			assert.NotNil(t, task.FinishedAt)
		})
	}
}

func TestScheduler_TaskTimeout(t *testing.T) {
	slow := optimizer.ExecutorFunc(func(ctx context.Context, _ domain.ContentKind, _ []byte) (domain.OptimizationResult, error) {
		time.Sleep(200 * time.Millisecond)
		return domain.OptimizationResult{Success: true}, nil
	})
	s := newScheduler(t, slow, nil, optimizer.WithTaskTimeout(20*time.Millisecond))

	id := s.Enqueue(domain.KindText, []byte("x"), domain.PriorityMedium)
	s.Wait()

	task, ok := s.Task(id)
	require.True(t, ok)
	assert.Equal(t, domain.TaskFailed, task.State)
	assert.Contains(t, task.ErrorDetail, context.DeadlineExceeded.Error())
}

func TestScheduler_CompletionEventAndStats(t *testing.T) {
	bus := events.NewBus(discardLogger)
	var mu sync.Mutex
	var done []events.OptimizationPayload
	bus.Subscribe(func(e events.Event) {
		mu.Lock()
		done = append(done, e.Payload.(events.OptimizationPayload))
		mu.Unlock()
	}, events.OptimizationComplete)

	s := newScheduler(t, halvingExecutor, bus)
	s.Enqueue(domain.KindText, []byte("12345678"), domain.PriorityMedium)
	s.Enqueue(domain.KindText, []byte("1234"), domain.PriorityMedium)
	s.Wait()

	mu.Lock()
	require.Len(t, done, 2)
	for _, p := range done {
		assert.Equal(t, domain.TaskCompleted, p.Task.State)
		assert.Equal(t, 100.0, p.Task.ProgressPercent)
		assert.True(t, p.Result.Success)
	}
	mu.Unlock()

	st := s.QueueStats()
	assert.Equal(t, 2, st.Completed)
	assert.Equal(t, 6, st.TotalBytesSaved)
	assert.InDelta(t, 0.5, st.AvgCompressionRatio, 1e-9)
}

func TestScheduler_SyntheticProgress(t *testing.T) {
	exec := newGatedExecutor()
	s := newScheduler(t, exec, nil, optimizer.WithProgressInterval(2*time.Millisecond))

	id := s.Enqueue(domain.KindImage, []byte("img"), domain.PriorityLow)

	task, _ := s.Task(id)
	assert.Equal(t, domain.TaskProcessing, task.State)
	assert.GreaterOrEqual(t, task.ProgressPercent, 10.0)

	require.Eventually(t, func() bool {
		task, _ := s.Task(id)
		return task.ProgressPercent > 10
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	task, _ = s.Task(id)
	assert.LessOrEqual(t, task.ProgressPercent, 90.0)

	exec.release <- struct{}{}
	s.Wait()
	task, _ = s.Task(id)
	assert.Equal(t, 100.0, task.ProgressPercent)
}

func TestScheduler_UnknownPriorityFallsBackToMedium(t *testing.T) {
	s := newScheduler(t, halvingExecutor, nil)

	id := s.Enqueue(domain.KindText, []byte("ab"), domain.Priority("urgent"))
	s.Wait()

	task, ok := s.Task(id)
	require.True(t, ok)
	assert.Equal(t, domain.PriorityMedium, task.Priority)
}

func TestScheduler_DestroyCancelsRunningTasks(t *testing.T) {
	exec := newGatedExecutor()
	s := optimizer.New(exec, nil, optimizer.WithLogger(discardLogger), optimizer.WithMaxConcurrency(1))

	s.Enqueue(domain.KindText, []byte("a"), domain.PriorityMedium)
	s.Enqueue(domain.KindText, []byte("b"), domain.PriorityMedium)
	require.Eventually(t, func() bool { return len(exec.startOrder()) == 1 }, time.Second, time.Millisecond)

	s.Destroy()

	assert.Empty(t, s.Tasks())
	assert.Equal(t, []string{"a"}, exec.startOrder(), "pending work is not dispatched after destroy")
	assert.Empty(t, s.Enqueue(domain.KindText, []byte("c"), domain.PriorityMedium))
}

func TestScheduler_TimestampsUseClock(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &tickingClock{t: t0}
	s := newScheduler(t, halvingExecutor, nil, optimizer.WithClock(clock.Now))

	id := s.Enqueue(domain.KindText, []byte("12345678"), domain.PriorityHigh)
	s.Wait()

	task, ok := s.Task(id)
	require.True(t, ok)
	require.Equal(t, domain.TaskCompleted, task.State)
	assert.Equal(t, t0, task.EnqueuedAt)
	require.NotNil(t, task.StartedAt)
	require.NotNil(t, task.FinishedAt)
	assert.Equal(t, t0.Add(time.Second), *task.StartedAt)
	assert.Equal(t, t0.Add(2*time.Second), *task.FinishedAt)
}
