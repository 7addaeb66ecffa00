package recovery

import (
	"context"
	"errors"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
	"github.com/ramiqadoumi/go-resilience/internal/events"
	"github.com/ramiqadoumi/go-resilience/pkg/retry"
)

// Built-in strategy names.
const (
	StrategyChunkReload       = "chunk-reload"
	StrategyNetworkRetry      = "network-retry"
	StrategyComponentFallback = "component-fallback"
	StrategyHydrationRecovery = "hydration-recovery"
	StrategyAPIRetry          = "api-retry"
	StrategyFullReload        = "full-reload"
)

// Strategy is one remediation the engine may attempt. Strategies run in
// ascending Priority order. CanHandle sees the record as it is before the
// attempt counter is incremented; Attempt sees it after.
type Strategy struct {
	Name      string
	Priority  int
	CanHandle func(rec domain.ErrorRecord) bool
	Attempt   func(ctx context.Context, rec domain.ErrorRecord) (bool, error)
}

func (s Strategy) validate() error {
	switch {
	case s.Name == "":
		return &domain.InvalidStrategyError{Reason: "name is required"}
	case s.CanHandle == nil:
		return &domain.InvalidStrategyError{Name: s.Name, Reason: "CanHandle is required"}
	case s.Attempt == nil:
		return &domain.InvalidStrategyError{Name: s.Name, Reason: "Attempt is required"}
	}
	return nil
}

var errNoURL = errors.New("record has no url to probe")

// builtinStrategies returns the default remediation set bound to e.
func (e *Engine) builtinStrategies() []Strategy {
	underCap := func(rec domain.ErrorRecord) bool { return rec.RecoveryAttempts < e.maxRetries }

	return []Strategy{
		{
			Name:     StrategyChunkReload,
			Priority: 1,
			CanHandle: func(rec domain.ErrorRecord) bool {
				return rec.Kind == domain.ErrorChunkLoad && underCap(rec)
			},
			Attempt: e.signal(events.Reload, StrategyChunkReload),
		},
		{
			Name:     StrategyNetworkRetry,
			Priority: 2,
			CanHandle: func(rec domain.ErrorRecord) bool {
				return rec.Kind == domain.ErrorNetwork && underCap(rec)
			},
			Attempt: func(ctx context.Context, rec domain.ErrorRecord) (bool, error) {
				if err := retry.Sleep(ctx, retry.Linear(e.baseDelay, rec.RecoveryAttempts)); err != nil {
					return false, err
				}
				if rec.URL == "" {
					return false, errNoURL
				}
				if err := e.prober.Probe(ctx, rec.URL); err != nil {
					return false, err
				}
				return true, nil
			},
		},
		{
			Name:     StrategyComponentFallback,
			Priority: 3,
			CanHandle: func(rec domain.ErrorRecord) bool {
				return rec.Kind == domain.ErrorComponent
			},
			Attempt: e.signal(events.ComponentFallback, StrategyComponentFallback),
		},
		{
			Name:     StrategyHydrationRecovery,
			Priority: 4,
			CanHandle: func(rec domain.ErrorRecord) bool {
				return rec.Kind == domain.ErrorHydration
			},
			Attempt: e.signal(events.ForceRehydrate, StrategyHydrationRecovery),
		},
		{
			Name:     StrategyAPIRetry,
			Priority: 5,
			CanHandle: func(rec domain.ErrorRecord) bool {
				return rec.Kind == domain.ErrorAPI && underCap(rec)
			},
			Attempt: func(ctx context.Context, rec domain.ErrorRecord) (bool, error) {
				if err := retry.Sleep(ctx, retry.Exponential(e.baseDelay, rec.RecoveryAttempts)); err != nil {
					return false, err
				}
				return e.signal(events.APIRetry, StrategyAPIRetry)(ctx, rec)
			},
		},
		{
			Name:     StrategyFullReload,
			Priority: 10,
			CanHandle: func(rec domain.ErrorRecord) bool {
				return rec.Severity == domain.SeverityCritical && rec.RecoveryAttempts < 1
			},
			Attempt: e.signal(events.Reload, StrategyFullReload),
		},
	}
}

// signal returns an Attempt that hands remediation to whoever subscribes to
// t. Without a bus nobody can act on it, so the attempt fails.
func (e *Engine) signal(t events.Type, strategy string) func(context.Context, domain.ErrorRecord) (bool, error) {
	return func(_ context.Context, rec domain.ErrorRecord) (bool, error) {
		if e.bus == nil {
			return false, nil
		}
		e.bus.Publish(events.Event{
			Type:    t,
			Payload: events.ErrorPayload{Error: rec, Strategy: strategy},
		})
		return true, nil
	}
}
