package coordinator

import (
	"context"

	"google.golang.org/grpc"

	"github.com/GriffinCanCode/telesim/internal/mpi"
)

const (
	serviceName    = "telesim.coordinator.v1.Coordinator"
	joinMethod     = "/" + serviceName + "/Join"
	exchangeMethod = "/" + serviceName + "/Exchange"
	abortMethod    = "/" + serviceName + "/Abort"
	watchMethod    = "/" + serviceName + "/Watch"
)

// JoinRequest registers a rank with the coordinator.
type JoinRequest struct {
	JobID string `json:"job_id"`
	Rank  int    `json:"rank"`
	Size  int    `json:"size"`
}

// JoinResponse acknowledges a join.
type JoinResponse struct {
	JobID  string `json:"job_id"`
	Size   int    `json:"size"`
	Joined int    `json:"joined"`
}

// ExchangeResponse carries the payloads of a completed round.
type ExchangeResponse struct {
	Payloads [][]byte `json:"payloads"`
}

// WatchRequest subscribes a rank to the abort notice.
type WatchRequest struct {
	Rank int `json:"rank"`
}

// Empty is the response of calls without a result.
type Empty struct{}

// CoordinatorServer is the server side of the coordinator service.
type CoordinatorServer interface {
	Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error)
	Exchange(ctx context.Context, req *mpi.ExchangeRequest) (*ExchangeResponse, error)
	Abort(ctx context.Context, req *mpi.AbortNotice) (*Empty, error)
	// Watch sends a single AbortNotice once the world is aborted.
	Watch(req *WatchRequest, stream grpc.ServerStream) error
}

func unaryHandler[Req any, Resp any](method string, call func(CoordinatorServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CoordinatorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CoordinatorServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CoordinatorServer).Watch(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Join",
			Handler:    unaryHandler(joinMethod, CoordinatorServer.Join),
		},
		{
			MethodName: "Exchange",
			Handler:    unaryHandler(exchangeMethod, CoordinatorServer.Exchange),
		},
		{
			MethodName: "Abort",
			Handler:    unaryHandler(abortMethod, CoordinatorServer.Abort),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "telesim/coordinator.json",
}
