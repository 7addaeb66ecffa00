// Package handlers holds the content optimizers the task scheduler runs,
// one per content kind, behind a Registry that satisfies the scheduler's
// executor capability.
package handlers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
	"github.com/ramiqadoumi/go-resilience/pkg/telemetry"
)

// Handler optimizes one kind of content.
type Handler interface {
	Kind() domain.ContentKind
	Optimize(ctx context.Context, payload []byte) (domain.OptimizationResult, error)
}

// Registry maps content kinds to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.ContentKind]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.ContentKind]Handler)}
}

// NewDefaultRegistry returns a Registry with every built-in optimizer.
func NewDefaultRegistry() (*Registry, error) {
	text, err := NewTextHandler()
	if err != nil {
		return nil, err
	}
	r := NewRegistry()
	r.Register(text)
	r.Register(NewCSSHandler())
	r.Register(NewJSHandler())
	r.Register(NewHTMLHandler())
	r.Register(NewImageHandler())
	return r, nil
}

// Register adds a handler, replacing any handler of the same kind.
// Safe to call concurrently.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Kind()] = h
}

// Get returns the handler for kind.
// Returns InvalidKindError if not registered.
func (r *Registry) Get(kind domain.ContentKind) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	if !ok {
		return nil, &domain.InvalidKindError{Kind: kind}
	}
	return h, nil
}

// Kinds lists the registered kinds in lexical order.
func (r *Registry) Kinds() []domain.ContentKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ContentKind, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Execute runs the handler registered for kind and fills in the size
// bookkeeping of the result.
func (r *Registry) Execute(ctx context.Context, kind domain.ContentKind, payload []byte) (domain.OptimizationResult, error) {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, "optimize."+string(kind))
	defer span.End()
	span.SetAttributes(
		attribute.String("content.kind", string(kind)),
		attribute.Int("content.original_size", len(payload)),
	)

	h, err := r.Get(kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown kind")
		return domain.OptimizationResult{}, err
	}
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return domain.OptimizationResult{}, fmt.Errorf("optimize %s: %w", kind, err)
	}

	start := time.Now()
	res, err := h.Optimize(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "optimize failed")
		return domain.OptimizationResult{}, fmt.Errorf("optimize %s: %w", kind, err)
	}

	res.Success = true
	res.OriginalSize = len(payload)
	res.OptimizedSize = len(res.Output)
	res.CompressionRatio = ratio(res.OriginalSize, res.OptimizedSize)
	res.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("content.optimized_size", res.OptimizedSize),
		attribute.String("content.encoding", res.Encoding),
	)
	return res, nil
}

func ratio(original, optimized int) float64 {
	if original == 0 {
		return 1
	}
	return float64(optimized) / float64(original)
}
