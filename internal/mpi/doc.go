// Package mpi provides the message-passing world used by the simulation core.
//
// A world is a fixed set of ranks that cooperate through collective calls.
// Every collective is built on a single rendezvous primitive, Exchange, in
// which each member of a communicator contributes a payload for a numbered
// round and receives the payloads of every member once the round is full.
//
// Transports:
//   - Hub: in-memory rendezvous, used directly by NewLocalWorld (one
//     goroutine per rank) and served over gRPC by the coordinator package
//   - coordinator.Client: remote transport for one OS process per rank
//
// Collective calls are blocking synchronization points: every member must
// reach them in the same order. A hung collective is a bug, not a
// recoverable condition, so collectives carry no timeouts. The only escape
// is Abort, which wakes every blocked rank with ErrAborted and invokes the
// world's abort hook exactly once.
//
// Example Usage:
//
//	comms, hub := mpi.NewLocalWorld(4, func(n mpi.AbortNotice) { os.Exit(n.Code) })
//	defer hub.Close()
//	group, err := comms[rank].Split(ctx, rank/2, rank)
package mpi
