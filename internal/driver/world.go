package driver

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/telesim/internal/grpc/coordinator"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/config"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/telesim/internal/mpi"
)

// Session is one rank's handle on its world.
type Session struct {
	// World is nil in single-process mode.
	World mpi.Communicator
	Rank  int
	Size  int

	closers []func() error
}

// Close releases the connections of the session.
func (s *Session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// countingTransport records every collective round in the metrics.
type countingTransport struct {
	next    mpi.Transport
	metrics *monitoring.Metrics
}

func (t countingTransport) Exchange(ctx context.Context, req mpi.ExchangeRequest) ([][]byte, error) {
	t.metrics.IncCollective(req.Comm)
	return t.next.Exchange(ctx, req)
}

func (t countingTransport) Abort(ctx context.Context, notice mpi.AbortNotice) error {
	return t.next.Abort(ctx, notice)
}

// ConnectSingle returns a session without a world.
func ConnectSingle() *Session {
	return &Session{Size: 1}
}

// ConnectLocal attaches rank to a world served by hub in this process.
func ConnectLocal(hub *mpi.Hub, rank, size int, metrics *monitoring.Metrics) (*Session, error) {
	world, err := mpi.NewWorld(rank, size, countingTransport{next: hub, metrics: metrics})
	if err != nil {
		return nil, err
	}
	return &Session{World: world, Rank: rank, Size: size}, nil
}

// ConnectGRPC joins the world of cfg over the coordinator. World rank 0
// also hosts the coordinator on cfg.Coordinator.
func ConnectGRPC(ctx context.Context, cfg config.WorldConfig, metrics *monitoring.Metrics, logger *logging.Logger, onAbort func(mpi.AbortNotice)) (*Session, error) {
	s := &Session{Rank: cfg.Rank, Size: cfg.Size}

	addr := cfg.Coordinator
	if cfg.Rank == 0 {
		srv := coordinator.NewServer(cfg.JobID, cfg.Size, logger)
		bound, err := srv.Start(cfg.Coordinator)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error { srv.Stop(); return nil })
		addr = bound.String()
	}

	client, err := coordinator.Dial(ctx, coordinator.ClientConfig{
		Addr:         addr,
		JobID:        cfg.JobID,
		Rank:         cfg.Rank,
		Size:         cfg.Size,
		JoinTimeout:  cfg.JoinTimeout,
		JoinAttempts: cfg.JoinAttempts,
		OnAbort:      onAbort,
		Logger:       logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, client.Close)

	s.World, err = mpi.NewWorld(cfg.Rank, cfg.Size, countingTransport{next: client, metrics: metrics})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
