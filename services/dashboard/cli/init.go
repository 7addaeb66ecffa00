package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultDashboardYAML = `# go-resilience dashboard config
# Priority: CLI flag > RESILIENCE_* env var > this file > default.

log_level:    "info"     # debug | info | warn | error
http_port:    "8080"
metrics_addr: ":9091"

# --- Metric cache ---
cache_max_bytes:      104857600     # 100 MB
cache_default_ttl:    "5m"          # accepts Go duration strings: 30s, 5m, 1h
cache_sweep_schedule: "@every 5m"   # cron spec; "" disables the periodic sweep
metric_ring_capacity: 100           # samples kept per metric name

# --- Content optimizer ---
optimizer_max_concurrency:   4
optimizer_task_timeout:      "30s"
optimizer_progress_interval: "100ms"

# --- Error recovery ---
recovery_max_retries: 3
recovery_base_delay:  "1s"
error_ring_capacity:  100

# --- Dashboard ---
poll_interval: "5s"

# --- Event sink ---
event_sink:    "none"   # none | redis | kafka
redis_addr:    "localhost:6379"
kafka_brokers: "localhost:9092"

# ingest_topic: "resilience.fault-reports"  # uncomment to consume fault reports from Kafka
# error_rate_limit: 50                      # max error reports per kind per second (needs Redis)

# otel_endpoint: "localhost:4318"  # uncomment to enable OpenTelemetry tracing
# otel_sample_ratio: 1.0
`

func newInitCmd(serviceName, defaultYAML string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: fmt.Sprintf(`Write default configuration for %s.

If --config is given the file is written to that path.
Otherwise it is written to ~/.go-resilience/%s.yaml.
Fails if the file already exists unless --force is passed.`, serviceName, serviceName),
		RunE: func(cmd *cobra.Command, _ []string) error {
			dest := cfgFile
			if dest == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("home dir: %w", err)
				}
				dest = filepath.Join(home, ".go-resilience", serviceName+".yaml")
			}
			return writeConfig(cmd, dest, defaultYAML, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config file")
	return cmd
}

func writeConfig(cmd *cobra.Command, dest, content string, force bool) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	if !force {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", dest, err)
		}
	}

	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", dest)
	return nil
}
