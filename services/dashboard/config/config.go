package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Event sink values accepted by event_sink.
const (
	SinkNone  = "none"
	SinkRedis = "redis"
	SinkKafka = "kafka"
)

// Config holds typed configuration for the dashboard service.
type Config struct {
	LogLevel        string
	HTTPPort        string
	MetricsAddr     string
	OTelEndpoint    string
	OTelSampleRatio float64

	CacheMaxBytes      int64
	CacheDefaultTTL    time.Duration
	CacheSweepSchedule string
	MetricRingCapacity int

	OptimizerMaxConcurrency   int
	OptimizerTaskTimeout      time.Duration
	OptimizerProgressInterval time.Duration

	RecoveryMaxRetries int
	RecoveryBaseDelay  time.Duration
	ErrorRingCapacity  int

	PollInterval   time.Duration
	EventSink      string
	RedisAddr      string
	KafkaBrokers   string
	IngestTopic    string
	ErrorRateLimit int
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:        v.GetString("log_level"),
		HTTPPort:        v.GetString("http_port"),
		MetricsAddr:     v.GetString("metrics_addr"),
		OTelEndpoint:    v.GetString("otel_endpoint"),
		OTelSampleRatio: v.GetFloat64("otel_sample_ratio"),

		CacheMaxBytes:      v.GetInt64("cache_max_bytes"),
		CacheDefaultTTL:    v.GetDuration("cache_default_ttl"),
		CacheSweepSchedule: v.GetString("cache_sweep_schedule"),
		MetricRingCapacity: v.GetInt("metric_ring_capacity"),

		OptimizerMaxConcurrency:   v.GetInt("optimizer_max_concurrency"),
		OptimizerTaskTimeout:      v.GetDuration("optimizer_task_timeout"),
		OptimizerProgressInterval: v.GetDuration("optimizer_progress_interval"),

		RecoveryMaxRetries: v.GetInt("recovery_max_retries"),
		RecoveryBaseDelay:  v.GetDuration("recovery_base_delay"),
		ErrorRingCapacity:  v.GetInt("error_ring_capacity"),

		PollInterval:   v.GetDuration("poll_interval"),
		EventSink:      strings.ToLower(strings.TrimSpace(v.GetString("event_sink"))),
		RedisAddr:      v.GetString("redis_addr"),
		KafkaBrokers:   v.GetString("kafka_brokers"),
		IngestTopic:    v.GetString("ingest_topic"),
		ErrorRateLimit: v.GetInt("error_rate_limit"),
	}
}

// Brokers splits KafkaBrokers on commas, dropping empty entries.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NeedsRedis reports whether any component is configured to use Redis.
func (c Config) NeedsRedis() bool {
	return c.EventSink == SinkRedis || c.ErrorRateLimit > 0
}
