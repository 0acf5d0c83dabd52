/*
Package monitoring exports kernel and API metrics to Prometheus.

# Overview

Metrics owns its own registry, so every kernel instance can be scraped
independently. It implements the scheduler, memory and IPC observer
interfaces of the kernel and provides the signal and tick hooks, so one
Instrument call wires every counter. Gauges that describe state rather than
events (free frames, processes by state, fairness) are refreshed from a
kernel.Stats snapshot by Observe.

# Usage

	metrics := monitoring.NewMetrics(nil)
	k.Instrument(metrics.Hooks())

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// refresh gauges, e.g. from a periodic task
	metrics.Observe(k.Stats())

All metric names carry the kronos_ prefix.
*/
package monitoring
