// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Output goes to stderr by default so that stage sinks writing to stdout
// (for example a JSON-lines sink) are not interleaved with log lines.
//
// Pipeline components receive a *zap.Logger derived from Logger.Pipeline and
// attach run, role and worker fields themselves.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	log := logger.Pipeline("etl")
//	log.Info("Pool started", zap.String("role", "transform"), zap.Int("processes", 5))
package logging
