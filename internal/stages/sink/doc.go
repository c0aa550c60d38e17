// Package sink provides sink stages: JSON Lines files, Postgres tables and
// HTTP webhooks. Sinks are shared by every worker of the sink pool and are
// safe for concurrent use.
package sink
