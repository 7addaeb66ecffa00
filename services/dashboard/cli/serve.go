package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-resilience/internal/events"
	"github.com/ramiqadoumi/go-resilience/internal/handlers"
	"github.com/ramiqadoumi/go-resilience/internal/kafka"
	"github.com/ramiqadoumi/go-resilience/internal/optimizer"
	"github.com/ramiqadoumi/go-resilience/internal/perfcache"
	"github.com/ramiqadoumi/go-resilience/internal/recovery"
	redisstore "github.com/ramiqadoumi/go-resilience/internal/redis"
	"github.com/ramiqadoumi/go-resilience/pkg/telemetry"
	"github.com/ramiqadoumi/go-resilience/services/dashboard"
	"github.com/ramiqadoumi/go-resilience/services/dashboard/config"
	"github.com/ramiqadoumi/go-resilience/services/dashboard/handler"
	"github.com/ramiqadoumi/go-resilience/services/dashboard/middleware"
)

// forwardedEvents are copied to the external sink. Cache hits and misses
// stay in-process.
var forwardedEvents = []events.Type{
	events.CacheWrite,
	events.PerformanceAlert,
	events.OptimizationComplete,
	events.ErrorCaptured,
	events.ErrorRecovered,
	events.ErrorUnrecoverable,
	events.ComponentFallback,
	events.ForceRehydrate,
	events.APIRetry,
	events.Reload,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engines and the REST server",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("http-port", "8080", "HTTP server port")
	f.String("metrics-addr", ":9091", "Prometheus metrics server address")
	f.String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	f.Float64("otel-sample-ratio", 1, "fraction of traces to sample")

	f.Int64("cache-max-bytes", perfcache.DefaultMaxBytes, "metric cache byte budget")
	f.Duration("cache-default-ttl", perfcache.DefaultTTL, "default cache entry TTL")
	f.String("cache-sweep-schedule", perfcache.DefaultSweepSchedule, "cron spec of the expired-entry sweep; empty disables it")
	f.Int("metric-ring-capacity", perfcache.DefaultMetricCapacity, "samples kept per metric name")

	f.Int("optimizer-max-concurrency", optimizer.DefaultMaxConcurrency, "optimization tasks run at once")
	f.Duration("optimizer-task-timeout", optimizer.DefaultTaskTimeout, "per-task executor timeout")
	f.Duration("optimizer-progress-interval", optimizer.DefaultProgressInterval, "progress update interval of running tasks")

	f.Int("recovery-max-retries", recovery.DefaultMaxRetries, "recovery attempt cap per error")
	f.Duration("recovery-base-delay", recovery.DefaultBaseDelay, "recovery backoff base delay")
	f.Int("error-ring-capacity", recovery.DefaultCapacity, "error records kept")

	f.Duration("poll-interval", dashboard.DefaultPollInterval, "dashboard polling interval")
	f.String("event-sink", config.SinkNone, "where engine events are forwarded: none | redis | kafka")
	f.String("redis-addr", "localhost:6379", "Redis address (host:port)")
	f.String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	f.String("ingest-topic", "", "Kafka topic of fault reports; empty disables ingest")
	f.Int("error-rate-limit", 0, "max error reports per kind per second; 0 disables the limiter")

	bindFlag("http_port", f, "http-port")
	bindFlag("metrics_addr", f, "metrics-addr")
	bindFlag("otel_endpoint", f, "otel-endpoint")
	bindFlag("otel_sample_ratio", f, "otel-sample-ratio")
	bindFlag("cache_max_bytes", f, "cache-max-bytes")
	bindFlag("cache_default_ttl", f, "cache-default-ttl")
	bindFlag("cache_sweep_schedule", f, "cache-sweep-schedule")
	bindFlag("metric_ring_capacity", f, "metric-ring-capacity")
	bindFlag("optimizer_max_concurrency", f, "optimizer-max-concurrency")
	bindFlag("optimizer_task_timeout", f, "optimizer-task-timeout")
	bindFlag("optimizer_progress_interval", f, "optimizer-progress-interval")
	bindFlag("recovery_max_retries", f, "recovery-max-retries")
	bindFlag("recovery_base_delay", f, "recovery-base-delay")
	bindFlag("error_ring_capacity", f, "error-ring-capacity")
	bindFlag("poll_interval", f, "poll-interval")
	bindFlag("event_sink", f, "event-sink")
	bindFlag("redis_addr", f, "redis-addr")
	bindFlag("kafka_brokers", f, "kafka-brokers")
	bindFlag("ingest_topic", f, "ingest-topic")
	bindFlag("error_rate_limit", f, "error-rate-limit")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, serviceName)

	shutdownTracer, err := telemetry.InitTracer(context.Background(), serviceName, cfg.OTelEndpoint, cfg.OTelSampleRatio)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	var redisClient *goredis.Client
	if cfg.NeedsRedis() {
		redisClient = redisstore.NewClient(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
	}

	sink, err := newEventSink(cfg, redisClient)
	if err != nil {
		return err
	}
	if sink != nil {
		defer func() { _ = sink.Close() }()
	}

	// ── engines ───────────────────────────────────────────────────────────────
	bus := events.NewBus(logger)
	defer bus.Close()

	cache, err := perfcache.New(bus,
		perfcache.WithMaxBytes(cfg.CacheMaxBytes),
		perfcache.WithDefaultTTL(cfg.CacheDefaultTTL),
		perfcache.WithSweepSchedule(cfg.CacheSweepSchedule),
		perfcache.WithMetricCapacity(cfg.MetricRingCapacity),
		perfcache.WithLogger(logger.With(slog.String("component", "perfcache"))),
	)
	if err != nil {
		return fmt.Errorf("metric cache: %w", err)
	}
	defer cache.Destroy()

	registry, err := handlers.NewDefaultRegistry()
	if err != nil {
		return fmt.Errorf("content handlers: %w", err)
	}
	sched := optimizer.New(registry, bus,
		optimizer.WithMaxConcurrency(cfg.OptimizerMaxConcurrency),
		optimizer.WithTaskTimeout(cfg.OptimizerTaskTimeout),
		optimizer.WithProgressInterval(cfg.OptimizerProgressInterval),
		optimizer.WithLogger(logger.With(slog.String("component", "optimizer"))),
	)
	defer sched.Destroy()

	engine, err := recovery.New(bus,
		recovery.WithMaxRetries(cfg.RecoveryMaxRetries),
		recovery.WithBaseDelay(cfg.RecoveryBaseDelay),
		recovery.WithCapacity(cfg.ErrorRingCapacity),
		recovery.WithProber(recovery.NewHTTPProber()),
		recovery.WithEnvironment("/", serviceName),
		recovery.WithLogger(logger.With(slog.String("component", "recovery"))),
	)
	if err != nil {
		return fmt.Errorf("recovery engine: %w", err)
	}
	defer engine.Destroy()

	agg := dashboard.NewAggregator(bus, cache, sched, engine,
		dashboard.WithPollInterval(cfg.PollInterval),
		dashboard.WithLogger(logger),
	)
	defer agg.Close()

	unsubscribe := logRemediationSignals(bus, logger)
	defer unsubscribe()

	var gate *dashboard.Gate
	if cfg.ErrorRateLimit > 0 {
		gate = dashboard.NewGate(redisstore.NewRateLimiter(redisClient, cfg.ErrorRateLimit, time.Second), logger)
	}

	ready := func(context.Context) error { return nil }
	if redisClient != nil {
		ready = redisstore.Ping(redisClient)
	}

	// ── background loops ──────────────────────────────────────────────────────
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger, ready)
	go agg.Run(runCtx)

	var fwd *events.Forwarder
	if sink != nil {
		fwd = events.NewForwarder(bus, sink, forwardedEvents, events.WithForwarderLogger(logger))
		fwd.Start(runCtx)
	}

	if cfg.IngestTopic != "" {
		consumer := kafka.NewConsumer(cfg.Brokers(), cfg.IngestTopic, serviceName+"-ingest", logger)
		defer func() { _ = consumer.Close() }()
		ingestor := dashboard.NewIngestor(consumer, engine, gate, logger)
		go func() {
			if err := ingestor.Run(runCtx); err != nil {
				logger.Error("fault ingest stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	rest := handler.NewREST(cache, sched, engine, agg,
		handler.WithGate(gate),
		handler.WithKinds(registry.Kinds()),
		handler.WithReadiness(ready),
		handler.WithLogger(logger),
	)
	router := rest.Routes(
		chimw.RequestID,
		middleware.RequestLogger(logger),
		middleware.CapturePanics(engine, logger),
		middleware.MaxBodySize(1<<20), // 1MB limit
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("dashboard HTTP starting",
			slog.String("addr", httpSrv.Addr),
			slog.String("event_sink", cfg.EventSink),
			slog.String("ingest_topic", cfg.IngestTopic),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// ── signal handling ───────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-quit:
		logger.Info("shutting down...")
	case err := <-serverErr:
		logger.Error("HTTP server error", slog.String("error", err.Error()))
		runCancel()
		return fmt.Errorf("http server: %w", err)
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}

	runCancel()
	if fwd != nil {
		fwd.Wait()
	}
	logger.Info("stopped")
	return nil
}

// newEventSink returns the Publisher selected by event_sink, or nil for none.
func newEventSink(cfg config.Config, redisClient *goredis.Client) (events.Publisher, error) {
	switch cfg.EventSink {
	case "", config.SinkNone:
		return nil, nil
	case config.SinkRedis:
		return redisstore.NewPublisher(redisClient), nil
	case config.SinkKafka:
		brokers := cfg.Brokers()
		if len(brokers) == 0 {
			return nil, errors.New("event_sink kafka needs kafka_brokers")
		}
		return kafka.NewProducer(brokers), nil
	default:
		return nil, fmt.Errorf("unknown event_sink %q (want none, redis or kafka)", cfg.EventSink)
	}
}

// logRemediationSignals logs the signals recovery strategies emit for the
// host to act on.
func logRemediationSignals(bus *events.Bus, logger *slog.Logger) (unsubscribe func()) {
	return bus.Subscribe(func(e events.Event) {
		p, ok := e.Payload.(events.ErrorPayload)
		if !ok {
			return
		}
		logger.Info("remediation signal",
			slog.String("signal", string(e.Type)),
			slog.String("strategy", p.Strategy),
			slog.String("error_id", p.Error.ID),
		)
	}, events.ComponentFallback, events.ForceRehydrate, events.APIRetry, events.Reload)
}
