package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/telesim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/telesim/internal/mpi"
)

// maxMessageSize bounds a single collective payload set.
const maxMessageSize = 256 * 1024 * 1024

// Server hosts the hub of one job.
type Server struct {
	hub    *mpi.Hub
	jobID  string
	size   int
	logger *logging.Logger

	mu     sync.Mutex
	joined map[int]struct{}

	grpc     *grpc.Server
	tracer   *tracing.Tracer
	done     chan struct{}
	stopOnce sync.Once
}

var _ CoordinatorServer = (*Server)(nil)

// NewServer creates a coordinator for a world of size ranks. An empty jobID
// accepts any job.
func NewServer(jobID string, size int, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{
		jobID:  jobID,
		size:   size,
		logger: logger.Named("coordinator"),
		joined: make(map[int]struct{}),
		done:   make(chan struct{}),
	}
	s.hub = mpi.NewHub(func(n mpi.AbortNotice) {
		s.logger.Warn("World aborted",
			zap.Int("rank", n.Rank),
			zap.Int("code", n.Code),
			zap.String("reason", n.Reason),
		)
	})
	s.tracer = tracing.New("coordinator", s.logger)
	s.grpc = grpc.NewServer(
		grpc.UnaryInterceptor(tracing.UnaryServerInterceptor(s.tracer)),
		grpc.StreamInterceptor(tracing.StreamServerInterceptor(s.tracer)),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             20 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
	)
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Hub returns the rendezvous behind the server.
func (s *Server) Hub() *mpi.Hub { return s.hub }

// Joined returns the number of ranks that joined.
func (s *Server) Joined() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.joined)
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when addr has port 0.
func (s *Server) Start(addr string) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	go func() {
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("Coordinator stopped", zap.Error(err))
		}
	}()
	s.logger.Info("Coordinator listening",
		zap.String("addr", lis.Addr().String()),
		zap.String("job_id", s.jobID),
		zap.Int("size", s.size),
	)
	return lis.Addr(), nil
}

// Stop releases blocked calls and closes every connection.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.hub.Close()
		s.grpc.Stop()
		s.tracer.Close()
	})
}

func (s *Server) Join(_ context.Context, req *JoinRequest) (*JoinResponse, error) {
	if s.jobID != "" && req.JobID != s.jobID {
		return nil, status.Errorf(codes.FailedPrecondition, "job %q is not served here (serving %q)", req.JobID, s.jobID)
	}
	if req.Size != s.size {
		return nil, status.Errorf(codes.InvalidArgument, "world size %d does not match %d", req.Size, s.size)
	}
	if req.Rank < 0 || req.Rank >= s.size {
		return nil, status.Errorf(codes.InvalidArgument, "rank %d out of range for size %d", req.Rank, s.size)
	}
	if _, aborted := s.hub.Notice(); aborted {
		return nil, status.Error(codes.Aborted, mpi.ErrAborted.Error())
	}

	s.mu.Lock()
	s.joined[req.Rank] = struct{}{}
	joined := len(s.joined)
	s.mu.Unlock()

	s.logger.Debug("Rank joined", zap.Int("rank", req.Rank), zap.Int("joined", joined))
	return &JoinResponse{JobID: s.jobID, Size: s.size, Joined: joined}, nil
}

func (s *Server) Exchange(ctx context.Context, req *mpi.ExchangeRequest) (*ExchangeResponse, error) {
	out, err := s.hub.Exchange(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ExchangeResponse{Payloads: out}, nil
}

func (s *Server) Abort(ctx context.Context, req *mpi.AbortNotice) (*Empty, error) {
	if err := s.hub.Abort(ctx, *req); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Server) Watch(_ *WatchRequest, stream grpc.ServerStream) error {
	select {
	case <-s.hub.Aborted():
		notice, _ := s.hub.Notice()
		return stream.SendMsg(&notice)
	case <-s.done:
		return status.Error(codes.Unavailable, "coordinator stopped")
	case <-stream.Context().Done():
		return status.FromContextError(stream.Context().Err()).Err()
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, mpi.ErrAborted):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, mpi.ErrHubClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.InvalidArgument, err.Error())
	}
}
