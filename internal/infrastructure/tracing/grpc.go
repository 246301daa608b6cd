package tracing

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/telesim/internal/shared/id"
)

// Metadata keys carried on coordinator calls.
const (
	TraceHeader = "x-trace-id"
	SpanHeader  = "x-span-id"
	RankHeader  = "x-rank"
)

// UnaryClientInterceptor tags every outgoing call with trace as trace id,
// the caller's rank and a fresh client span id.
func UnaryClientInterceptor(trace TraceID, rank int) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(outgoing(ctx, trace, rank), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor is the streaming counterpart of
// UnaryClientInterceptor.
func StreamClientInterceptor(trace TraceID, rank int) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return streamer(outgoing(ctx, trace, rank), desc, cc, method, opts...)
	}
}

func outgoing(ctx context.Context, trace TraceID, rank int) context.Context {
	if t := TraceIDFrom(ctx); t != "" {
		trace = t
	}
	parent := SpanIDFrom(ctx)
	if parent == "" {
		parent = SpanID(id.Default().GenerateWithPrefix(spanPrefix))
	}
	return metadata.AppendToOutgoingContext(ctx,
		TraceHeader, string(trace),
		SpanHeader, string(parent),
		RankHeader, strconv.Itoa(rank),
	)
}

// UnaryServerInterceptor opens a span per call, continuing the caller's
// trace when the metadata carries one.
func UnaryServerInterceptor(tracer *Tracer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		span, ctx := tracer.StartSpan(incoming(ctx), info.FullMethod)
		tagCaller(ctx, span)

		resp, err := handler(ctx, req)
		finish(tracer, span, err)
		return resp, err
	}
}

// StreamServerInterceptor is the streaming counterpart of
// UnaryServerInterceptor.
func StreamServerInterceptor(tracer *Tracer) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		span, ctx := tracer.StartSpan(incoming(ss.Context()), info.FullMethod)
		tagCaller(ss.Context(), span)
		span.SetTag("rpc.streaming", "true")

		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		finish(tracer, span, err)
		return err
	}
}

func incoming(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	if v := md.Get(TraceHeader); len(v) > 0 && v[0] != "" {
		ctx = WithTrace(ctx, TraceID(v[0]))
	}
	if v := md.Get(SpanHeader); len(v) > 0 && v[0] != "" {
		ctx = WithSpan(ctx, SpanID(v[0]))
	}
	return ctx
}

func tagCaller(ctx context.Context, span *Span) {
	span.SetTag("rpc.system", "grpc")
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(RankHeader); len(v) > 0 {
			span.SetTag("rank", v[0])
		}
	}
}

func finish(tracer *Tracer, span *Span, err error) {
	span.Finish()
	if err != nil {
		span.SetError(err)
		span.SetTag("rpc.code", status.Code(err).String())
	}
	tracer.Submit(span)
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }
