/*
Package monitoring provides Prometheus metrics for a simulation run.

# Overview

Each process owns one Metrics value backed by its own registry, so test runs
and the ranks of a local world never collide on the default registerer. Every
series carries a world_rank label.

# Series

  - telesim_operator_duration_seconds{pipeline,operator,phase}
  - telesim_operator_errors_total{pipeline,operator,phase}
  - telesim_observations_local
  - telesim_samples_simulated_total{operator}
  - telesim_collective_calls_total{comm}
  - telesim_aborts_total
  - telesim_http_requests_total, telesim_http_request_duration_seconds
  - telesim_uptime_seconds

# Usage

	metrics := monitoring.NewMetrics(world.Rank())

	timer := monitoring.NewTimer(metrics, "main", "sim_noise", "exec")
	err := op.Exec(ctx, d, nil)
	timer.Stop(err)

	// Rank 0 only.
	metrics.WriteTextfile("telesim.prom")

The status server exposes the same registry:

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
