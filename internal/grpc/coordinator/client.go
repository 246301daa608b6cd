package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/telesim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/telesim/internal/mpi"
)

// ClientConfig configures a rank's connection to the coordinator.
type ClientConfig struct {
	Addr  string
	JobID string
	Rank  int
	Size  int

	// JoinTimeout bounds the time spent waiting for the coordinator to come
	// up. JoinAttempts join calls are spread evenly over it.
	JoinTimeout  time.Duration
	JoinAttempts int

	// OnAbort runs once when the world is aborted by any rank.
	OnAbort func(mpi.AbortNotice)
	Logger  *logging.Logger
}

// Client is the remote mpi.Transport of one rank.
type Client struct {
	conn   *grpc.ClientConn
	cfg    ClientConfig
	logger *logging.Logger

	abortOnce   sync.Once
	cancelWatch context.CancelFunc
	watchDone   chan struct{}
}

var _ mpi.Transport = (*Client)(nil)

// Dial connects to the coordinator, joins the world and starts watching for
// aborts. Joining is retried until JoinTimeout elapses.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 30 * time.Second
	}
	if cfg.JoinAttempts < 1 {
		cfg.JoinAttempts = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                60 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: false,
		}),
		// Ranks usually start before the coordinator is listening.
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  100 * time.Millisecond,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   2 * time.Second,
			},
			MinConnectTimeout: 5 * time.Second,
		}),
		grpc.WithUnaryInterceptor(tracing.UnaryClientInterceptor(tracing.TraceID(cfg.JobID), cfg.Rank)),
		grpc.WithStreamInterceptor(tracing.StreamClientInterceptor(tracing.TraceID(cfg.JobID), cfg.Rank)),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	}
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial coordinator: %w", err)
	}

	c := &Client{
		conn:   conn,
		cfg:    cfg,
		logger: cfg.Logger.Named("coordinator-client"),
	}
	if err := c.join(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	c.cancelWatch = cancel
	c.watchDone = make(chan struct{})
	go c.watch(watchCtx)
	return c, nil
}

func (c *Client) join(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
	defer cancel()

	interval := c.cfg.JoinTimeout / time.Duration(c.cfg.JoinAttempts)
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	breaker := resilience.New("coordinator", resilience.Settings{
		Cooldown: interval,
		OnStateChange: func(name string, from, to resilience.State) {
			c.logger.Debug("Join breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	req := &JoinRequest{JobID: c.cfg.JobID, Rank: c.cfg.Rank, Size: c.cfg.Size}
	err := resilience.Retry(ctx, limiter, breaker, c.cfg.JoinAttempts, func(ctx context.Context) error {
		resp := new(JoinResponse)
		err := c.conn.Invoke(ctx, joinMethod, req, resp)
		if err == nil {
			c.logger.Debug("Joined world", zap.Int("rank", c.cfg.Rank), zap.Int("joined", resp.Joined))
			return nil
		}
		switch status.Code(err) {
		case codes.InvalidArgument, codes.FailedPrecondition:
			return resilience.Permanent(err)
		case codes.Aborted:
			return resilience.Permanent(mpi.ErrAborted)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("join coordinator at %s: %w", c.cfg.Addr, err)
	}
	return nil
}

func (c *Client) watch(ctx context.Context) {
	defer close(c.watchDone)

	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], watchMethod)
	if err != nil {
		c.logger.Warn("Abort watch failed", zap.Error(err))
		return
	}
	if err := stream.SendMsg(&WatchRequest{Rank: c.cfg.Rank}); err != nil {
		c.logger.Warn("Abort watch failed", zap.Error(err))
		return
	}
	if err := stream.CloseSend(); err != nil {
		c.logger.Warn("Abort watch failed", zap.Error(err))
		return
	}

	var notice mpi.AbortNotice
	if err := stream.RecvMsg(&notice); err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("Abort watch ended", zap.Error(err))
		}
		return
	}
	c.notify(notice)
}

func (c *Client) notify(notice mpi.AbortNotice) {
	c.abortOnce.Do(func() {
		if c.cfg.OnAbort != nil {
			c.cfg.OnAbort(notice)
		}
	})
}

// Exchange implements mpi.Transport.
func (c *Client) Exchange(ctx context.Context, req mpi.ExchangeRequest) ([][]byte, error) {
	resp := new(ExchangeResponse)
	if err := c.conn.Invoke(ctx, exchangeMethod, &req, resp); err != nil {
		return nil, fromStatus(err)
	}
	return resp.Payloads, nil
}

// Abort implements mpi.Transport.
func (c *Client) Abort(ctx context.Context, notice mpi.AbortNotice) error {
	if err := c.conn.Invoke(ctx, abortMethod, &notice, new(Empty)); err != nil {
		return fromStatus(err)
	}
	return nil
}

// Close stops the abort watch and closes the connection.
func (c *Client) Close() error {
	if c.cancelWatch != nil {
		c.cancelWatch()
		<-c.watchDone
	}
	return c.conn.Close()
}

func fromStatus(err error) error {
	switch status.Code(err) {
	case codes.Aborted:
		return mpi.ErrAborted
	case codes.Canceled:
		return errors.Join(context.Canceled, err)
	case codes.DeadlineExceeded:
		return errors.Join(context.DeadlineExceeded, err)
	}
	return err
}
