// Package config loads the service configuration from a YAML file with
// TRAKBRIDGE_ environment-variable overrides, and resolves Vault references
// in plug-in configurations.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/emfoursolutions/trakbridge-sub002/internal/queue"
)

// EnvPrefix is prepended to the dotted option key, with dots mapped to
// underscores: queue.max_size becomes TRAKBRIDGE_QUEUE_MAX_SIZE.
const EnvPrefix = "TRAKBRIDGE_"

// AppConfig is the full service configuration.
type AppConfig struct {
	HTTP struct {
		Listen string `yaml:"listen"`
	} `yaml:"http"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	Vault struct {
		Address string `yaml:"address"`
		Token   string `yaml:"token"`
	} `yaml:"vault"`

	Queue struct {
		MaxSize             int    `yaml:"max_size"`
		BatchSize           int    `yaml:"batch_size"`
		OverflowStrategy    string `yaml:"overflow_strategy"`
		FlushOnConfigChange *bool  `yaml:"flush_on_config_change"`
	} `yaml:"queue"`

	Transmission struct {
		BatchTimeoutMS         int `yaml:"batch_timeout_ms"`
		QueueCheckIntervalMS   int `yaml:"queue_check_interval_ms"`
	} `yaml:"transmission"`

	Monitoring struct {
		LogQueueStats         *bool `yaml:"log_queue_stats"`
		QueueWarningThreshold int   `yaml:"queue_warning_threshold"`
	} `yaml:"monitoring"`

	Parallel struct {
		BatchSizeThreshold int   `yaml:"batch_size_threshold"`
		MaxConcurrentTasks int   `yaml:"max_concurrent_tasks"`
		FallbackOnError    *bool `yaml:"fallback_on_error"`
	} `yaml:"parallel"`

	Orchestrator struct {
		ReconcileIntervalSeconds  int `yaml:"reconcile_interval_seconds"`
		TrackerEvictionHorizonMin int `yaml:"tracker_eviction_horizon_minutes"`
	} `yaml:"orchestrator"`
}

// Default returns the documented defaults.
func Default() AppConfig {
	var c AppConfig
	c.HTTP.Listen = ":8080"
	c.Queue.MaxSize = 500
	c.Queue.BatchSize = 8
	c.Queue.OverflowStrategy = string(queue.DropOldest)
	c.Transmission.BatchTimeoutMS = 100
	c.Transmission.QueueCheckIntervalMS = 50
	c.Monitoring.QueueWarningThreshold = 400
	c.Parallel.BatchSizeThreshold = 10
	c.Parallel.MaxConcurrentTasks = 50
	c.Orchestrator.ReconcileIntervalSeconds = 10
	c.Orchestrator.TrackerEvictionHorizonMin = 0 // sweep disabled
	return c
}

// Load reads the YAML file (missing file means defaults), applies environment
// overrides, and validates. Out-of-domain enum values are corrected to
// defaults with a logged warning; non-positive values where a positive one is
// required are a hard error.
func Load(path string, logger *zap.Logger) (AppConfig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return AppConfig{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			logger.Info("config file not found, using defaults", zap.String("path", path))
		default:
			return AppConfig{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.normalize(logger); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from the environment. Table-driven so the
// recognized key set is explicit.
func applyEnv(cfg *AppConfig, lookup func(string) (string, bool)) error {
	strFields := map[string]*string{
		"http.listen":            &cfg.HTTP.Listen,
		"database.url":           &cfg.Database.URL,
		"vault.address":          &cfg.Vault.Address,
		"vault.token":            &cfg.Vault.Token,
		"queue.overflow_strategy": &cfg.Queue.OverflowStrategy,
	}
	intFields := map[string]*int{
		"queue.max_size":                             &cfg.Queue.MaxSize,
		"queue.batch_size":                           &cfg.Queue.BatchSize,
		"transmission.batch_timeout_ms":              &cfg.Transmission.BatchTimeoutMS,
		"transmission.queue_check_interval_ms":       &cfg.Transmission.QueueCheckIntervalMS,
		"monitoring.queue_warning_threshold":         &cfg.Monitoring.QueueWarningThreshold,
		"parallel.batch_size_threshold":              &cfg.Parallel.BatchSizeThreshold,
		"parallel.max_concurrent_tasks":              &cfg.Parallel.MaxConcurrentTasks,
		"orchestrator.reconcile_interval_seconds":    &cfg.Orchestrator.ReconcileIntervalSeconds,
		"orchestrator.tracker_eviction_horizon_minutes": &cfg.Orchestrator.TrackerEvictionHorizonMin,
	}
	boolFields := map[string]**bool{
		"queue.flush_on_config_change": &cfg.Queue.FlushOnConfigChange,
		"monitoring.log_queue_stats":   &cfg.Monitoring.LogQueueStats,
		"parallel.fallback_on_error":   &cfg.Parallel.FallbackOnError,
	}

	for key, dst := range strFields {
		if v, ok := lookup(envKey(key)); ok {
			*dst = v
		}
	}
	for key, dst := range intFields {
		if v, ok := lookup(envKey(key)); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("env %s: %w", envKey(key), err)
			}
			*dst = n
		}
	}
	for key, dst := range boolFields {
		if v, ok := lookup(envKey(key)); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("env %s: %w", envKey(key), err)
			}
			*dst = &b
		}
	}
	return nil
}

func envKey(dotted string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(dotted, ".", "_"))
}

// normalize corrects out-of-domain values and rejects impossible ones.
func (c *AppConfig) normalize(logger *zap.Logger) error {
	switch queue.OverflowStrategy(c.Queue.OverflowStrategy) {
	case queue.DropOldest, queue.DropNewest, queue.Block:
	default:
		logger.Warn("unknown queue.overflow_strategy, using default",
			zap.String("value", c.Queue.OverflowStrategy),
			zap.String("default", string(queue.DropOldest)),
		)
		c.Queue.OverflowStrategy = string(queue.DropOldest)
	}

	positives := map[string]int{
		"queue.max_size":                       c.Queue.MaxSize,
		"queue.batch_size":                     c.Queue.BatchSize,
		"transmission.batch_timeout_ms":        c.Transmission.BatchTimeoutMS,
		"transmission.queue_check_interval_ms": c.Transmission.QueueCheckIntervalMS,
		"parallel.batch_size_threshold":        c.Parallel.BatchSizeThreshold,
		"parallel.max_concurrent_tasks":        c.Parallel.MaxConcurrentTasks,
		"orchestrator.reconcile_interval_seconds": c.Orchestrator.ReconcileIntervalSeconds,
	}
	for key, v := range positives {
		if v <= 0 {
			return fmt.Errorf("config %s must be positive, got %d", key, v)
		}
	}
	if c.Monitoring.QueueWarningThreshold < 0 {
		return fmt.Errorf("config monitoring.queue_warning_threshold must not be negative, got %d",
			c.Monitoring.QueueWarningThreshold)
	}
	if c.Orchestrator.TrackerEvictionHorizonMin < 0 {
		return fmt.Errorf("config orchestrator.tracker_eviction_horizon_minutes must not be negative, got %d",
			c.Orchestrator.TrackerEvictionHorizonMin)
	}
	return nil
}

// FlushOnConfigChange returns the effective flag (default true).
func (c *AppConfig) FlushOnConfigChange() bool {
	if c.Queue.FlushOnConfigChange == nil {
		return true
	}
	return *c.Queue.FlushOnConfigChange
}

// LogQueueStats returns the effective flag (default true).
func (c *AppConfig) LogQueueStats() bool {
	if c.Monitoring.LogQueueStats == nil {
		return true
	}
	return *c.Monitoring.LogQueueStats
}

// ParallelFallback returns the effective flag (default true).
func (c *AppConfig) ParallelFallback() bool {
	if c.Parallel.FallbackOnError == nil {
		return true
	}
	return *c.Parallel.FallbackOnError
}

// QueueConfig maps the loaded settings onto the queue layer's configuration.
func (c *AppConfig) QueueConfig() queue.Config {
	return queue.Config{
		MaxSize:             c.Queue.MaxSize,
		BatchSize:           c.Queue.BatchSize,
		Overflow:            queue.OverflowStrategy(c.Queue.OverflowStrategy),
		BatchTimeout:        time.Duration(c.Transmission.BatchTimeoutMS) * time.Millisecond,
		FlushOnConfigChange: c.FlushOnConfigChange(),
	}
}

// Monitoring maps the loaded settings onto the queue manager's monitoring
// configuration.
func (c *AppConfig) MonitoringConfig() queue.Monitoring {
	return queue.Monitoring{
		LogQueueStats:    c.LogQueueStats(),
		WarningThreshold: c.Monitoring.QueueWarningThreshold,
	}
}

// ReconcileInterval returns the orchestrator's repository polling cadence.
func (c *AppConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.Orchestrator.ReconcileIntervalSeconds) * time.Second
}

// TrackerEvictionHorizon returns the device-state eviction horizon; zero
// disables the sweep.
func (c *AppConfig) TrackerEvictionHorizon() time.Duration {
	return time.Duration(c.Orchestrator.TrackerEvictionHorizonMin) * time.Minute
}
