// Package config provides the two configuration layers of a run.
//
// Process settings are 12-factor: they are loaded from TELESIM_* environment
// variables with defaults, and CLI flags in cmd/telesim override them.
//
// Configuration Sections:
//   - Run: group size, focal plane size, operator documents, output paths
//   - World: single, local or grpc world and coordinator settings
//   - Logging: log level and output format
//   - Timing: timing report basename and compression
//   - Status: optional status server address and CORS origins
//
// Operator parameters live in a Document: one table per named operator,
// carrying its registry class and typed parameters, plus the pipeline
// section that orders them. Documents are read from TOML, YAML or JSON files
// selected by glob patterns, merged over the registry defaults, adjusted by
// --set operator.key=value overrides and dumped back to TOML.
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	doc, files, err := config.Load(cfg.Run.ConfigFiles...)
//	defaults.Merge(doc)
//	defaults.ApplySet("sim_satellite.num_observations=4")
//	defaults.Dump(cfg.Run.ConfigOut)
//
// Environment Variables:
//   - TELESIM_GROUP_SIZE, TELESIM_FOCALPLANE_PIXELS, TELESIM_CONFIG,
//     TELESIM_CONFIG_OUT, TELESIM_METRICS_FILE
//   - TELESIM_WORLD_MODE, TELESIM_WORLD_SIZE, TELESIM_WORLD_RANK,
//     TELESIM_COORDINATOR_ADDR, TELESIM_JOB_ID, TELESIM_JOIN_TIMEOUT,
//     TELESIM_JOIN_ATTEMPTS
//   - TELESIM_LOG_LEVEL, TELESIM_LOG_DEV
//   - TELESIM_TIMING_OUT, TELESIM_TIMING_COMPRESSION
//   - TELESIM_STATUS_ADDR, TELESIM_STATUS_CORS_ORIGINS
package config
