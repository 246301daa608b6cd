// Package ops defines the operator contract and the pipeline that runs
// operators in a fixed order over a shared data container.
//
// An operator is built from an explicitly typed parameter struct plus any
// late-bound collaborators (Bindings) and never changes its parameters after
// construction. Its lifecycle is Unexecuted, Executed, Finalized: Exec may
// run once per detector pass, Finalize runs once at the end, and nothing runs
// after Finalize.
//
// A Pipeline is itself an Operator. For every detector pass it calls Exec on
// each child in list order with the same container, so a later operator
// consumes what an earlier one produced. After all passes, Finalize calls
// each child once in the same order. The first child error is returned
// unchanged; there is no retry and no partial recovery.
//
// Example Usage:
//
//	reg := ops.DefaultRegistry()
//	doc := reg.Defaults()
//	pipe, err := reg.Build(doc, ops.Bindings{Telescope: tele, RunID: run})
//	pipe = pipe.WithTimers(gt).WithMetrics(metrics).WithLogger(logger)
//	if err := pipe.Exec(ctx, d, nil); err != nil {
//		return err
//	}
//	return pipe.Finalize(ctx, d)
package ops
