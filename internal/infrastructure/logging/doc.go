// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// Logs go to stderr by default so they interleave with the rank-tagged
// failure reports of the abort protocol rather than with report output.
//
// Example Usage:
//
//	logger := logging.NewDefault().WithRank(comm.WorldRank(), comm.Group())
//	logger.Info("pipeline starting", zap.Int("observations", n))
//	logger.Error("operator failed", zap.Error(err))
package logging
