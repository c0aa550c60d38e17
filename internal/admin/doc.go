// Package admin serves the operator HTTP surface of a running pipeline.
//
// # Routes
//
//	GET /health   liveness and run state
//	GET /status   pool, worker and channel snapshots
//	GET /report   per-role counters and latency summaries
//	GET /metrics  Prometheus exposition of the pipeline registry
//	GET /events   WebSocket stream of worker failures
//
// The router carries recovery, request tracing, request metrics, CORS and a
// per-client rate limit, in that order. Every response echoes the
// X-Trace-ID and X-Span-ID headers.
package admin
