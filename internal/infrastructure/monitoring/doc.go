/*
Package monitoring provides metrics collection for pipeline runs.

# Overview

Every pipeline run owns a Metrics value registered on its own Prometheus
registry. It tracks channel traffic, overflow spills, worker lifecycle and
message hook latency, plus the admin server's own requests.

Recent hook durations are also kept in a per-role Reservoir so a run report
can show quantiles without scraping Prometheus.

# Usage

	metrics := monitoring.NewMetrics()

	// channels report sends through the transport.Observer interface
	ch := transport.NewChannel("source->transform", 1024, spool, 8192,
		transport.WithObserver(metrics))

	// time a hook invocation
	timer := monitoring.NewTimer(metrics, "transform")
	// ... run the hook ...
	timer.Stop("ok")

	summary := metrics.Latency("transform")

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
