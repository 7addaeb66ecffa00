package optimizer

import (
	"context"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
)

// Executor performs the optimization work for one task. The scheduler does
// not depend on what it computes; handlers.Registry is the production
// implementation.
type Executor interface {
	Execute(ctx context.Context, kind domain.ContentKind, payload []byte) (domain.OptimizationResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, kind domain.ContentKind, payload []byte) (domain.OptimizationResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, kind domain.ContentKind, payload []byte) (domain.OptimizationResult, error) {
	return f(ctx, kind, payload)
}
