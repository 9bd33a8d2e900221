package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir         string          `json:"dataDir" yaml:"dataDir"`
	Fsync           string          `json:"fsync" yaml:"fsync"`
	FsyncIntervalMs int             `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`
	Compression     string          `json:"compression" yaml:"compression"`
	Processor       ProcessorConfig `json:"processor" yaml:"processor"`
	Backend         BackendConfig   `json:"backend" yaml:"backend"`
	Offline         OfflineConfig   `json:"offline" yaml:"offline"`
	Log             LogConfig       `json:"log" yaml:"log"`
	MetricsAddr     string          `json:"metricsAddr" yaml:"metricsAddr"`
}

// ProcessorConfig tunes the live consumer.
type ProcessorConfig struct {
	SleepTimeMs     int `json:"sleepTimeMs" yaml:"sleepTimeMs"`
	FlushIntervalMs int `json:"flushIntervalMs" yaml:"flushIntervalMs"`
	BatchSize       int `json:"batchSize" yaml:"batchSize"`
	MaxBufferedOps  int `json:"maxBufferedOps" yaml:"maxBufferedOps"`
	WaitTimeoutMs   int `json:"waitTimeoutMs" yaml:"waitTimeoutMs"`
}

// BackendConfig points at the HTTP backend.
type BackendConfig struct {
	URL        string `json:"url" yaml:"url"`
	Token      string `json:"token" yaml:"token"`
	TimeoutMs  int    `json:"timeoutMs" yaml:"timeoutMs"`
	MaxRetries int    `json:"maxRetries" yaml:"maxRetries"`
}

// OfflineConfig tunes offline replay.
type OfflineConfig struct {
	BatchSize int `json:"batchSize" yaml:"batchSize"`
}

// LogConfig selects level, format and optional file output.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	File   string `json:"file" yaml:"file"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:         DefaultDataDir(),
		Fsync:           "interval",
		FsyncIntervalMs: 5,
		Compression:     "none",
		Processor: ProcessorConfig{
			SleepTimeMs:     5000,
			FlushIntervalMs: 5000,
			BatchSize:       1000,
			MaxBufferedOps:  10000,
		},
		Backend: BackendConfig{
			TimeoutMs:  15000,
			MaxRetries: 3,
		},
		Offline: OfflineConfig{BatchSize: 1000},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot use.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: dataDir is required")
	}
	switch c.Fsync {
	case "always", "interval", "never":
	default:
		return fmt.Errorf("config: fsync must be always, interval or never (got %q)", c.Fsync)
	}
	switch c.Compression {
	case "", "none", "zstd":
	default:
		return fmt.Errorf("config: compression must be none or zstd (got %q)", c.Compression)
	}
	if c.Processor.BatchSize <= 0 {
		return fmt.Errorf("config: processor.batchSize must be positive")
	}
	if c.Processor.SleepTimeMs <= 0 {
		return fmt.Errorf("config: processor.sleepTimeMs must be positive")
	}
	if c.Processor.FlushIntervalMs < 0 || c.Processor.MaxBufferedOps < 0 || c.Processor.WaitTimeoutMs < 0 {
		return fmt.Errorf("config: processor durations and limits must not be negative")
	}
	if c.Offline.BatchSize <= 0 {
		return fmt.Errorf("config: offline.batchSize must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json (got %q)", c.Log.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log.level %q", c.Log.Level)
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// SleepTime is the worker interval.
func (p ProcessorConfig) SleepTime() time.Duration { return ms(p.SleepTimeMs) }

// FlushInterval is the minimum time between queue flushes.
func (p ProcessorConfig) FlushInterval() time.Duration { return ms(p.FlushIntervalMs) }

// WaitTimeout bounds Wait; zero means unbounded.
func (p ProcessorConfig) WaitTimeout() time.Duration { return ms(p.WaitTimeoutMs) }

// Timeout is the per-request HTTP timeout.
func (b BackendConfig) Timeout() time.Duration { return ms(b.TimeoutMs) }

// FsyncInterval is the group-commit window.
func (c Config) FsyncInterval() time.Duration { return ms(c.FsyncIntervalMs) }
