package config

import (
	"os"
	"strconv"
)

// FromEnv overlays OPLOG_* environment variables onto cfg. Malformed
// numbers are ignored.
func FromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("OPLOG_DATA_DIR", &cfg.DataDir)
	str("OPLOG_FSYNC", &cfg.Fsync)
	num("OPLOG_FSYNC_INTERVAL_MS", &cfg.FsyncIntervalMs)
	str("OPLOG_COMPRESSION", &cfg.Compression)
	str("OPLOG_METRICS_ADDR", &cfg.MetricsAddr)

	num("OPLOG_PROCESSOR_SLEEP_TIME_MS", &cfg.Processor.SleepTimeMs)
	num("OPLOG_PROCESSOR_FLUSH_INTERVAL_MS", &cfg.Processor.FlushIntervalMs)
	num("OPLOG_PROCESSOR_BATCH_SIZE", &cfg.Processor.BatchSize)
	num("OPLOG_PROCESSOR_MAX_BUFFERED_OPS", &cfg.Processor.MaxBufferedOps)
	num("OPLOG_PROCESSOR_WAIT_TIMEOUT_MS", &cfg.Processor.WaitTimeoutMs)

	str("OPLOG_BACKEND_URL", &cfg.Backend.URL)
	str("OPLOG_BACKEND_TOKEN", &cfg.Backend.Token)
	num("OPLOG_BACKEND_TIMEOUT_MS", &cfg.Backend.TimeoutMs)
	num("OPLOG_BACKEND_MAX_RETRIES", &cfg.Backend.MaxRetries)

	num("OPLOG_OFFLINE_BATCH_SIZE", &cfg.Offline.BatchSize)

	str("OPLOG_LOG_LEVEL", &cfg.Log.Level)
	str("OPLOG_LOG_FORMAT", &cfg.Log.Format)
	str("OPLOG_LOG_FILE", &cfg.Log.File)
}
