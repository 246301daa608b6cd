// Package timing provides named stopwatches for instrumenting a run.
//
// GlobalTimers is the process-wide registry of named timers. It is created
// once at startup and handed to every component that records intervals; there
// is no hidden singleton. Each timer accumulates wall-clock time over any
// number of start/stop laps.
//
// At shutdown every process calls StopAll, then Gather reduces the timers of
// every rank onto world rank 0, which writes the report with Dump.
//
// Example Usage:
//
//	gt := timing.NewGlobalTimers()
//	gt.Start("run (total)")
//	defer gt.Scope("setup")()
//	...
//	gt.StopAll()
//	report, err := timing.Gather(ctx, world, gt)
//	if report != nil {
//		timing.Dump(report, "telesim_timing", timing.CompressionNone)
//	}
package timing
