package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/telesim/internal/infrastructure/logging"
)

func observed() (*logging.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logging.Wrap(zap.New(core)), logs
}

func TestStartSpanInheritsContext(t *testing.T) {
	tracer := New("test", nil)
	defer tracer.Close()

	root, ctx := tracer.StartSpan(context.Background(), "root")
	assert.NotEmpty(t, root.TraceID)
	assert.Empty(t, root.ParentID)

	child, childCtx := tracer.StartSpan(ctx, "child")
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.Equal(t, child.SpanID, SpanIDFrom(childCtx))
	assert.NotEqual(t, root.SpanID, child.SpanID)
}

func TestCloseFlushesSpans(t *testing.T) {
	logger, logs := observed()
	tracer := New("test", logger)

	for i := 0; i < 3; i++ {
		span, _ := tracer.StartSpan(WithTrace(context.Background(), "job"), "op")
		span.Finish()
		tracer.Submit(span)
	}
	failed, _ := tracer.StartSpan(context.Background(), "broken")
	failed.SetError(errors.New("boom"))
	tracer.Submit(failed)
	tracer.Close()

	assert.Equal(t, 3, logs.FilterMessage("Span completed").Len())
	require.Equal(t, 1, logs.FilterMessage("Span failed").Len())
	assert.Equal(t, "job", logs.FilterMessage("Span completed").All()[0].ContextMap()["trace_id"])

	// Dropped silently once closed.
	tracer.Submit(failed)
	tracer.Close()
}

func TestInterceptorsPropagateTrace(t *testing.T) {
	logger, logs := observed()
	tracer := New("coordinator", logger)

	var sent metadata.MD
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		sent, _ = metadata.FromOutgoingContext(ctx)
		return nil
	}
	client := UnaryClientInterceptor("job-7", 3)
	require.NoError(t, client(context.Background(), "/svc/Exchange", nil, nil, nil, invoker))
	assert.Equal(t, []string{"job-7"}, sent.Get(TraceHeader))
	assert.Equal(t, []string{"3"}, sent.Get(RankHeader))
	require.Len(t, sent.Get(SpanHeader), 1)

	var seen context.Context
	server := UnaryServerInterceptor(tracer)
	ctx := metadata.NewIncomingContext(context.Background(), sent)
	_, err := server(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Exchange"},
		func(ctx context.Context, req any) (any, error) {
			seen = ctx
			return nil, status.Error(codes.Aborted, "world aborted")
		})
	assert.Equal(t, codes.Aborted, status.Code(err))
	tracer.Close()

	assert.Equal(t, TraceID("job-7"), TraceIDFrom(seen))
	entries := logs.FilterMessage("Span failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "job-7", fields["trace_id"])
	assert.Equal(t, sent.Get(SpanHeader)[0], fields["parent_id"])
	assert.Equal(t, "3", fields["rank"])
	assert.Equal(t, "Aborted", fields["rpc.code"])
	assert.Equal(t, "/svc/Exchange", fields["operation"])
}

func TestServerInterceptorWithoutMetadata(t *testing.T) {
	tracer := New("coordinator", nil)
	defer tracer.Close()

	var seen context.Context
	_, err := UnaryServerInterceptor(tracer)(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/svc/Join"},
		func(ctx context.Context, req any) (any, error) {
			seen = ctx
			return "ok", nil
		})
	require.NoError(t, err)
	assert.NotEmpty(t, TraceIDFrom(seen))
	assert.NotEmpty(t, SpanIDFrom(seen))
}
