// Package server provides the optional status server of a run.
//
// World rank 0 serves it when TELESIM_STATUS_ADDR is set:
//
//	GET /health   run identity, current phase and uptime
//	GET /timers   live snapshot of the global timers
//	GET /metrics  Prometheus exposition of the run registry
//
// The server is read-only; it never drives the pipeline.
package server
