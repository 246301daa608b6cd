// Package coordinator serves the rendezvous hub of a world over gRPC so that
// ranks can live in separate OS processes.
//
// World rank 0 runs a Server. Every rank, rank 0 included, dials it with a
// Client, which implements mpi.Transport:
//
//	srv := coordinator.NewServer(jobID, size, logger)
//	addr, _ := srv.Start(":50061")
//	cl, _ := coordinator.Dial(ctx, coordinator.ClientConfig{Addr: addr.String(), JobID: jobID, Rank: rank, Size: size})
//	world, _ := mpi.NewWorld(rank, size, cl)
//
// Messages are JSON encoded with sonic through a codec registered under the
// "json" content subtype, so no generated protobuf code is involved.
package coordinator
