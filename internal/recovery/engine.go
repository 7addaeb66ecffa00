// Package recovery captures runtime faults and drives strategy-based
// remediation for them, one recovery sequence at a time.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
	"github.com/ramiqadoumi/go-resilience/internal/events"
	"github.com/ramiqadoumi/go-resilience/internal/ring"
	"github.com/ramiqadoumi/go-resilience/pkg/telemetry"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultCapacity   = 100

	defaultMessage = "Unknown error"
)

// Engine keeps the most recent error records and runs the recovery loop.
type Engine struct {
	mu         sync.Mutex
	records    *ring.Buffer[*domain.ErrorRecord]
	strategies []Strategy

	recovering atomic.Bool

	bus        *events.Bus
	maxRetries int
	baseDelay  time.Duration
	capacity   int
	custom     []Strategy
	replace    bool
	prober     Prober
	env        domain.ErrorContext
	now        func() time.Time
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

func WithMaxRetries(n int) Option           { return func(e *Engine) { e.maxRetries = n } }
func WithBaseDelay(d time.Duration) Option  { return func(e *Engine) { e.baseDelay = d } }
func WithCapacity(n int) Option             { return func(e *Engine) { e.capacity = n } }
func WithProber(p Prober) Option            { return func(e *Engine) { e.prober = p } }
func WithLogger(l *slog.Logger) Option      { return func(e *Engine) { e.logger = l } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithStrategies replaces the built-in strategy set.
func WithStrategies(ss ...Strategy) Option {
	return func(e *Engine) {
		e.custom = ss
		e.replace = true
	}
}

// WithEnvironment sets the context attached to reports that carry none.
func WithEnvironment(pathname, agent string) Option {
	return func(e *Engine) { e.env = domain.ErrorContext{Pathname: pathname, AgentString: agent} }
}

// New constructs an Engine publishing to bus. It fails only when a strategy
// passed through WithStrategies is malformed.
func New(bus *events.Bus, opts ...Option) (*Engine, error) {
	e := &Engine{
		bus:        bus,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		capacity:   DefaultCapacity,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.prober == nil {
		e.prober = NewHTTPProber()
	}
	e.records = ring.New[*domain.ErrorRecord](e.capacity)
	e.ctx, e.cancel = context.WithCancel(context.Background())

	initial := e.custom
	if !e.replace {
		initial = e.builtinStrategies()
	}
	for _, s := range initial {
		if err := e.AddStrategy(s); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AddStrategy registers s, keeping the set ordered by ascending priority.
// Strategies of equal priority keep registration order.
func (e *Engine) AddStrategy(s Strategy) error {
	if err := s.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.strategies {
		if existing.Name == s.Name {
			return &domain.InvalidStrategyError{Name: s.Name, Reason: "already registered"}
		}
	}
	e.strategies = append(e.strategies, s)
	sort.SliceStable(e.strategies, func(i, j int) bool {
		return e.strategies[i].Priority < e.strategies[j].Priority
	})
	return nil
}

// Strategies returns the registered strategy names in attempt order.
func (e *Engine) Strategies() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		out[i] = s.Name
	}
	return out
}

// CaptureError records a fault, publishes error-captured and starts the
// recovery loop in the background unless another recovery is in flight.
// It returns the id of the new record.
func (e *Engine) CaptureError(report domain.ErrorReport) string {
	rec := &domain.ErrorRecord{
		ID:         "error_" + uuid.NewString(),
		OccurredAt: report.OccurredAt,
		Kind:       report.Kind,
		Message:    report.Message,
		URL:        report.URL,
		Stack:      report.Stack,
		Severity:   report.Severity,
		Context:    report.Context,
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = e.now()
	}
	if rec.Kind == "" {
		rec.Kind = domain.ErrorJavaScript
	}
	if rec.Message == "" {
		rec.Message = defaultMessage
	}
	if rec.Severity == "" {
		rec.Severity = Classify(rec.Message)
	}
	if rec.Context == (domain.ErrorContext{}) {
		rec.Context = e.env
	}

	e.mu.Lock()
	e.records.Push(rec)
	snap := *rec
	e.mu.Unlock()

	telemetry.ErrorsCaptured.WithLabelValues(string(snap.Kind), string(snap.Severity)).Inc()
	e.logger.Warn("error captured",
		slog.String("error_id", snap.ID),
		slog.String("kind", string(snap.Kind)),
		slog.String("severity", string(snap.Severity)),
		slog.String("message", snap.Message),
	)
	e.publish(events.ErrorCaptured, snap, "")

	e.startRecovery(rec)
	return snap.ID
}

// CapturePanic records a recovered panic value. Panics are at least high
// severity.
func (e *Engine) CapturePanic(recovered any, stack []byte) string {
	msg := fmt.Sprint(recovered)
	severity := Classify(msg)
	if severity != domain.SeverityCritical {
		severity = domain.SeverityHigh
	}
	return e.CaptureError(domain.ErrorReport{
		Kind:     domain.ErrorJavaScript,
		Message:  msg,
		Stack:    string(stack),
		Severity: severity,
	})
}

// Retry re-submits an unrecovered record to the recovery loop. It reports
// false when the record is unknown, already recovered, or another recovery
// is in flight. Attempt counts are not reset.
func (e *Engine) Retry(id string) bool {
	e.mu.Lock()
	rec := e.findLocked(id)
	eligible := rec != nil && !rec.Recovered
	e.mu.Unlock()
	if !eligible {
		return false
	}
	return e.startRecovery(rec)
}

func (e *Engine) startRecovery(rec *domain.ErrorRecord) bool {
	if !e.recovering.CompareAndSwap(false, true) {
		telemetry.RecoverySkipped.Inc()
		e.logger.Debug("recovery already in flight, skipping", slog.String("error_id", rec.ID))
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.recovering.Store(false)
		e.runRecovery(e.ctx, rec)
	}()
	return true
}

// runRecovery gives each strategy that accepts the record one attempt, in
// priority order. A failed attempt moves on to the next strategy; further
// attempts on the same record need a Retry.
func (e *Engine) runRecovery(ctx context.Context, rec *domain.ErrorRecord) {
	e.mu.Lock()
	strategies := append([]Strategy(nil), e.strategies...)
	e.mu.Unlock()

	for _, s := range strategies {
		if ctx.Err() != nil {
			return
		}

		e.mu.Lock()
		snap := *rec
		e.mu.Unlock()
		if !e.canHandle(s, snap) {
			continue
		}

		e.mu.Lock()
		rec.RecoveryAttempts++
		rec.AppliedStrategy = s.Name
		snap = *rec
		e.mu.Unlock()

		if !e.attempt(ctx, s, snap) {
			continue
		}

		e.mu.Lock()
		rec.Recovered = true
		snap = *rec
		e.mu.Unlock()

		e.logger.Info("error recovered",
			slog.String("error_id", snap.ID),
			slog.String("strategy", s.Name),
			slog.Int("attempts", snap.RecoveryAttempts),
		)
		e.publish(events.ErrorRecovered, snap, s.Name)
		return
	}

	e.mu.Lock()
	snap := *rec
	e.mu.Unlock()

	telemetry.RecoveryUnrecoverable.Inc()
	e.logger.Error("error unrecoverable",
		slog.String("error_id", snap.ID),
		slog.Int("attempts", snap.RecoveryAttempts),
	)
	e.publish(events.ErrorUnrecoverable, snap, "")
}

func (e *Engine) canHandle(s Strategy, rec domain.ErrorRecord) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			e.logger.Error("recovery strategy guard panicked",
				slog.String("strategy", s.Name),
				slog.Any("panic", r),
			)
		}
	}()
	return s.CanHandle(rec)
}

// attempt runs one strategy attempt. Errors and panics count as failure.
func (e *Engine) attempt(ctx context.Context, s Strategy, rec domain.ErrorRecord) (ok bool) {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, "recovery.attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("error.id", rec.ID),
		attribute.String("error.kind", string(rec.Kind)),
		attribute.String("recovery.strategy", s.Name),
		attribute.Int("recovery.attempt", rec.RecoveryAttempts),
	)

	log := e.logger.With(
		slog.String("error_id", rec.ID),
		slog.String("strategy", s.Name),
		slog.Int("attempt", rec.RecoveryAttempts),
	)

	outcome := "failure"
	defer func() {
		if r := recover(); r != nil {
			ok = false
			outcome = "panic"
			span.SetStatus(codes.Error, "strategy panicked")
			log.Error("recovery strategy panicked", slog.Any("panic", r))
		}
		telemetry.RecoveryAttempts.WithLabelValues(s.Name, outcome).Inc()
	}()

	ok, err := s.Attempt(ctx, rec)
	switch {
	case err != nil:
		ok = false
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "strategy failed")
		log.Warn("recovery attempt failed", slog.String("error", err.Error()))
	case ok:
		outcome = "success"
	default:
		log.Debug("recovery attempt declined")
	}
	return ok
}

// Errors returns copies of the retained records, oldest first.
func (e *Engine) Errors() []domain.ErrorRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.ErrorRecord, 0, e.records.Len())
	e.records.Each(func(r *domain.ErrorRecord) bool {
		out = append(out, *r)
		return true
	})
	return out
}

// Error returns a copy of the record with the given id.
func (e *Engine) Error(id string) (domain.ErrorRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.findLocked(id)
	if rec == nil {
		return domain.ErrorRecord{}, false
	}
	return *rec, true
}

func (e *Engine) findLocked(id string) *domain.ErrorRecord {
	var found *domain.ErrorRecord
	e.records.Each(func(r *domain.ErrorRecord) bool {
		if r.ID == id {
			found = r
			return false
		}
		return true
	})
	return found
}

// ErrorStats summarises the retained records.
func (e *Engine) ErrorStats() domain.ErrorStats {
	hourAgo := e.now().Add(-time.Hour)

	e.mu.Lock()
	defer e.mu.Unlock()

	st := domain.ErrorStats{
		Total:           e.records.Len(),
		CountByKind:     make(map[domain.ErrorKind]int),
		CountBySeverity: make(map[domain.Severity]int),
	}
	e.records.Each(func(r *domain.ErrorRecord) bool {
		if r.OccurredAt.After(hourAgo) {
			st.RecentWithinLastHour++
		}
		if r.Recovered {
			st.RecoveredCount++
		}
		st.CountByKind[r.Kind]++
		st.CountBySeverity[r.Severity]++
		return true
	})
	if st.Total > 0 {
		st.RecoveryRate = float64(st.RecoveredCount) / float64(st.Total)
	}
	return st
}

// Clear drops every retained record. A recovery in flight finishes on its
// detached record.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records.Clear()
}

// Wait blocks until no recovery loop is running.
func (e *Engine) Wait() { e.wg.Wait() }

// Destroy cancels a running recovery, waits for it and drops all records.
func (e *Engine) Destroy() {
	e.cancel()
	e.wg.Wait()
	e.Clear()
}

func (e *Engine) publish(t events.Type, rec domain.ErrorRecord, strategy string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Type:    t,
		Time:    e.now(),
		Payload: events.ErrorPayload{Error: rec, Strategy: strategy},
	})
}
