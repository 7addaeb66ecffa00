package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
	"github.com/ramiqadoumi/go-resilience/internal/kafka"
	redisstore "github.com/ramiqadoumi/go-resilience/internal/redis"
	"github.com/ramiqadoumi/go-resilience/pkg/telemetry"
)

// Capturer accepts fault reports. *recovery.Engine satisfies it.
type Capturer interface {
	CaptureError(report domain.ErrorReport) string
}

// Gate throttles fault intake per error kind. A Gate without a limiter
// admits everything.
type Gate struct {
	limiter redisstore.RateLimiter // nil = disabled
	logger  *slog.Logger
}

// NewGate returns a Gate backed by limiter, which may be nil.
func NewGate(limiter redisstore.RateLimiter, logger *slog.Logger) *Gate {
	return &Gate{limiter: limiter, logger: logger}
}

// Admit reports whether a report of kind may be captured. Limiter
// failures admit the report.
func (g *Gate) Admit(ctx context.Context, kind domain.ErrorKind) bool {
	if g == nil || g.limiter == nil {
		return true
	}
	allowed, err := g.limiter.Allow(ctx, string(kind))
	if err != nil {
		g.logger.Error("rate limiter error", slog.String("kind", string(kind)), slog.String("error", err.Error()))
		return true
	}
	if !allowed {
		telemetry.ErrorReportsRateLimited.Inc()
		g.logger.Warn("error report rate limit exceeded",
			slog.String("kind", string(kind)),
			slog.Int("limit", g.limiter.Limit()),
		)
	}
	return allowed
}

// Ingestor turns fault reports consumed from Kafka into captures.
type Ingestor struct {
	consumer kafka.Consumer
	capturer Capturer
	gate     *Gate
	logger   *slog.Logger
}

// NewIngestor wires a consumer to a capturer. gate may be nil.
func NewIngestor(consumer kafka.Consumer, capturer Capturer, gate *Gate, logger *slog.Logger) *Ingestor {
	return &Ingestor{consumer: consumer, capturer: capturer, gate: gate, logger: logger}
}

// Run starts consuming. Blocks until ctx is cancelled.
func (i *Ingestor) Run(ctx context.Context) error {
	return i.consumer.Subscribe(ctx, i.ingest)
}

// ingest never returns an error: malformed and throttled reports are
// dropped so their offsets are committed.
func (i *Ingestor) ingest(ctx context.Context, msg kafka.Message) error {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, "dashboard.ingest")
	defer span.End()

	var report domain.ErrorReport
	if err := json.Unmarshal(msg.Value, &report); err != nil {
		i.discard(span, msg, "malformed", err.Error())
		return nil
	}
	if strings.TrimSpace(report.Message) == "" {
		i.discard(span, msg, "malformed", "empty message")
		return nil
	}
	if report.OccurredAt.IsZero() && !msg.Time.IsZero() {
		report.OccurredAt = msg.Time
	}

	if !i.gate.Admit(ctx, report.Kind) {
		i.discard(span, msg, "rate_limited", "rate limit exceeded")
		return nil
	}

	id := i.capturer.CaptureError(report)
	span.SetAttributes(
		attribute.String("error.id", id),
		attribute.String("error.kind", string(report.Kind)),
	)
	telemetry.IngestMessages.WithLabelValues("captured").Inc()
	i.logger.Debug("fault report ingested",
		slog.String("error_id", id),
		slog.Int64("offset", msg.Offset),
	)
	return nil
}

func (i *Ingestor) discard(span trace.Span, msg kafka.Message, status, reason string) {
	span.SetStatus(codes.Error, reason)
	telemetry.IngestMessages.WithLabelValues(status).Inc()
	i.logger.Warn("fault report discarded",
		slog.String("status", status),
		slog.String("reason", reason),
		slog.String("topic", msg.Topic),
		slog.Int64("offset", msg.Offset),
	)
}
