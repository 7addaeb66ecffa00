package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-resilience/services/dashboard/config"
)

func TestWriteConfig_RefusesOverwriteWithoutForce(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "dashboard.yaml")
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, writeConfig(cmd, dest, defaultDashboardYAML, false))
	assert.Contains(t, out.String(), dest)

	err := writeConfig(cmd, dest, "other", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	require.NoError(t, writeConfig(cmd, dest, "other", true))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "other", string(got))
}

func TestDefaultConfig_LoadsEveryKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(defaultDashboardYAML), 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	cfg := config.Load(v)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, int64(104857600), cfg.CacheMaxBytes)
	assert.Equal(t, "@every 5m", cfg.CacheSweepSchedule)
	assert.Equal(t, 4, cfg.OptimizerMaxConcurrency)
	assert.Equal(t, 3, cfg.RecoveryMaxRetries)
	assert.Equal(t, config.SinkNone, cfg.EventSink)
	assert.Empty(t, cfg.IngestTopic)
	assert.Zero(t, cfg.ErrorRateLimit)
}

func TestNewEventSink(t *testing.T) {
	sink, err := newEventSink(config.Config{EventSink: config.SinkNone}, nil)
	require.NoError(t, err)
	assert.Nil(t, sink)

	_, err = newEventSink(config.Config{EventSink: "nats"}, nil)
	assert.ErrorContains(t, err, "nats")

	_, err = newEventSink(config.Config{EventSink: config.SinkKafka}, nil)
	assert.Error(t, err)

	sink, err = newEventSink(config.Config{EventSink: config.SinkKafka, KafkaBrokers: "localhost:9092"}, nil)
	require.NoError(t, err)
	require.NotNil(t, sink)
	assert.NoError(t, sink.Close())
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "dashboard")
	assert.Contains(t, out.String(), "go version")
}
