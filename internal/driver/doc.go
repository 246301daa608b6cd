// Package driver connects a rank to its world and runs the configured
// pipeline inside the failure boundary.
//
// World modes:
//   - single: no world communicator, every group operation is a no-op
//   - local: every rank is a goroutine of this process sharing one hub
//   - grpc: one OS process per rank; world rank 0 hosts the coordinator
//
// A failure on any rank of a multi-process world aborts the whole world:
// the failing rank prints its error with every line prefixed by
// "Proc <rank>: " and calls Abort once. Ranks blocked in collectives wake up
// with mpi.ErrAborted.
package driver
