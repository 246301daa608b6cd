// Package main is the entry point of the telesim pipeline driver.
//
// Each invocation runs the configured operator pipeline over a world of
// processes partitioned into process groups.
//
// World modes:
//
//	single  one process, no communicator
//	local   -world-size ranks as goroutines of this process
//	grpc    one process per rank; rank 0 hosts the coordinator
//
// Configuration:
//   - Environment variables (TELESIM_*)
//   - CLI flags (override env vars)
//   - Operator documents (-config, TOML/YAML/JSON, globs allowed)
//   - Parameter overrides (-set operator.key=value)
//
// Usage:
//
//	# Four ranks in two groups, in one process
//	./telesim -mode local -world-size 4 -group-size 2
//
//	# One process per rank
//	./telesim -mode grpc -world-size 4 -rank 0 -job-id sim1 &
//	./telesim -mode grpc -world-size 4 -rank 1 -job-id sim1 &
//
// Exit codes:
//   - 0: every rank completed
//   - 1: the run failed or the world was aborted
//   - 2: invalid settings
package main
