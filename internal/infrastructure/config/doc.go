// Package config provides 12-factor configuration management for assemblyline.
//
// Values are resolved in three layers: built-in defaults, an optional YAML or
// TOML file, then environment variables. Unset variables never reset a value
// from an earlier layer.
//
// Configuration Sections:
//   - Pipeline: pool sizes, recycling quotas, queue and overflow settings
//   - Logging: Log level and output format
//   - Admin: admin HTTP server address, rate limiting and CORS origins
//
// Example Usage:
//
//	cfg, err := config.LoadFile("pipeline.yaml")
//	pcfg, err := cfg.PipelineConfig()
//	coordinator, err := pipeline.New(pcfg)
//
// Environment Variables:
//   - PIPELINE_NAME, PIPELINE_SOURCE_PROCESSES, PIPELINE_TRANSFORM_PROCESSES, PIPELINE_SINK_PROCESSES
//   - PIPELINE_MAX_EXECUTIONS, PIPELINE_TRANSFORM_MAX_EXECUTIONS, PIPELINE_SINK_MAX_EXECUTIONS
//   - PIPELINE_QUEUE_CAPACITY, PIPELINE_OVERFLOW_DIR, PIPELINE_INLINE_THRESHOLD, PIPELINE_COMPRESSION
//   - PIPELINE_SOURCE_RATE, PIPELINE_DRAIN_TIMEOUT, PIPELINE_RESTART_BACKOFF, PIPELINE_MAX_RESTART_BACKOFF
//   - LOG_LEVEL, LOG_DEV
//   - ADMIN_ENABLED, ADMIN_ADDR, ADMIN_RATE_LIMIT_RPS, ADMIN_RATE_LIMIT_BURST, ADMIN_ALLOWED_ORIGINS
package config
