package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/emfoursolutions/trakbridge-sub002/internal/queue"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("", zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Queue.MaxSize)
	assert.Equal(t, 8, cfg.Queue.BatchSize)
	assert.Equal(t, string(queue.DropOldest), cfg.Queue.OverflowStrategy)
	assert.True(t, cfg.FlushOnConfigChange())
	assert.Equal(t, 100, cfg.Transmission.BatchTimeoutMS)
	assert.Equal(t, 50, cfg.Transmission.QueueCheckIntervalMS)
	assert.True(t, cfg.LogQueueStats())
	assert.Equal(t, 400, cfg.Monitoring.QueueWarningThreshold)
	assert.Equal(t, 10, cfg.Parallel.BatchSizeThreshold)
	assert.Equal(t, 50, cfg.Parallel.MaxConcurrentTasks)
	assert.True(t, cfg.ParallelFallback())
	assert.Equal(t, time.Duration(0), cfg.TrackerEvictionHorizon())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := writeConfig(t, `
queue:
  max_size: 100
  overflow_strategy: block
  flush_on_config_change: false
transmission:
  batch_timeout_ms: 250
monitoring:
  log_queue_stats: false
  queue_warning_threshold: 80
`)
	cfg, err := Load(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Queue.MaxSize)
	assert.Equal(t, string(queue.Block), cfg.Queue.OverflowStrategy)
	assert.False(t, cfg.FlushOnConfigChange())
	assert.Equal(t, 250, cfg.Transmission.BatchTimeoutMS)
	assert.False(t, cfg.LogQueueStats())
	assert.Equal(t, 80, cfg.Monitoring.QueueWarningThreshold)
	// Untouched keys keep their defaults.
	assert.Equal(t, 8, cfg.Queue.BatchSize)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "queue: [not a map")
	_, err := Load(path, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"TRAKBRIDGE_QUEUE_MAX_SIZE":              "42",
		"TRAKBRIDGE_QUEUE_OVERFLOW_STRATEGY":     "drop_newest",
		"TRAKBRIDGE_QUEUE_FLUSH_ON_CONFIG_CHANGE": "false",
		"TRAKBRIDGE_DATABASE_URL":                "postgres://env/db",
	}
	cfg := Default()
	err := applyEnv(&cfg, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Queue.MaxSize)
	assert.Equal(t, "drop_newest", cfg.Queue.OverflowStrategy)
	assert.False(t, cfg.FlushOnConfigChange())
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
}

func TestEnvOverrideBadValue(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, func(key string) (string, bool) {
		if key == "TRAKBRIDGE_QUEUE_MAX_SIZE" {
			return "lots", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestNormalizeUnknownOverflowFallsBack(t *testing.T) {
	cfg := Default()
	cfg.Queue.OverflowStrategy = "discard_everything"
	require.NoError(t, cfg.normalize(zaptest.NewLogger(t)))
	assert.Equal(t, string(queue.DropOldest), cfg.Queue.OverflowStrategy)
}

func TestNormalizeRejectsNonPositives(t *testing.T) {
	cases := []func(*AppConfig){
		func(c *AppConfig) { c.Queue.MaxSize = 0 },
		func(c *AppConfig) { c.Queue.BatchSize = -1 },
		func(c *AppConfig) { c.Transmission.BatchTimeoutMS = 0 },
		func(c *AppConfig) { c.Parallel.MaxConcurrentTasks = -5 },
		func(c *AppConfig) { c.Monitoring.QueueWarningThreshold = -1 },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		assert.Error(t, cfg.normalize(zaptest.NewLogger(t)), "case %d", i)
	}
}

func TestQueueConfigMapping(t *testing.T) {
	cfg := Default()
	cfg.Queue.MaxSize = 10
	cfg.Transmission.BatchTimeoutMS = 200

	qc := cfg.QueueConfig()
	assert.Equal(t, 10, qc.MaxSize)
	assert.Equal(t, queue.DropOldest, qc.Overflow)
	assert.Equal(t, 200*time.Millisecond, qc.BatchTimeout)
	assert.True(t, qc.FlushOnConfigChange)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "TRAKBRIDGE_QUEUE_MAX_SIZE", envKey("queue.max_size"))
	assert.Equal(t, "TRAKBRIDGE_TRANSMISSION_BATCH_TIMEOUT_MS", envKey("transmission.batch_timeout_ms"))
}
