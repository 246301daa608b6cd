/*
Package tracing records spans for coordinator RPCs.

Every rank's client tags outgoing calls with the job id as trace id, its
world rank, and the span of the call. The coordinator opens a server span per
call that keeps the caller's trace and parent span, so one job's exchange
rounds can be followed across processes in the coordinator log.

Spans are collected asynchronously and logged at debug level. A full buffer
drops spans rather than slowing a collective down.

	tracer := tracing.New("coordinator", logger)
	defer tracer.Close()

	server := grpc.NewServer(
		grpc.UnaryInterceptor(tracing.UnaryServerInterceptor(tracer)),
		grpc.StreamInterceptor(tracing.StreamServerInterceptor(tracer)),
	)
*/
package tracing
