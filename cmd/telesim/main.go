package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/telesim/internal/driver"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/config"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/telesim/internal/mpi"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	var configs, sets listFlag
	flag.StringVar(&cfg.World.Mode, "mode", cfg.World.Mode, "World mode: single, local or grpc")
	flag.IntVar(&cfg.World.Size, "world-size", cfg.World.Size, "Number of ranks")
	flag.IntVar(&cfg.World.Rank, "rank", cfg.World.Rank, "World rank of this process (grpc mode)")
	flag.StringVar(&cfg.World.Coordinator, "coordinator", cfg.World.Coordinator, "Coordinator address (grpc mode)")
	flag.StringVar(&cfg.World.JobID, "job-id", cfg.World.JobID, "Job identifier shared by every rank")
	flag.IntVar(&cfg.Run.GroupSize, "group-size", cfg.Run.GroupSize, "Processes per group (0 = whole world)")
	flag.IntVar(&cfg.Run.FocalplanePixels, "pixels", cfg.Run.FocalplanePixels, "Hexagonal focal plane pixel count")
	flag.Var(&configs, "config", "Operator config file or glob (repeatable)")
	flag.Var(&sets, "set", "Operator parameter override operator.key=value (repeatable)")
	flag.StringVar(&cfg.Run.ConfigOut, "config-out", cfg.Run.ConfigOut, "Where rank 0 dumps the effective config")
	flag.StringVar(&cfg.Run.MetricsFile, "metrics-file", cfg.Run.MetricsFile, "Prometheus textfile written by rank 0")
	flag.StringVar(&cfg.Timing.Out, "timing-out", cfg.Timing.Out, "Timing report basename")
	flag.StringVar(&cfg.Timing.Compression, "timing-compression", cfg.Timing.Compression, "Timing JSON compression: none, gzip or zstd")
	flag.StringVar(&cfg.Status.Addr, "status-addr", cfg.Status.Addr, "Status server address on rank 0 (empty disables)")
	flag.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level")
	flag.BoolVar(&cfg.Logging.Development, "dev", cfg.Logging.Development, "Development logging")
	flag.Parse()

	if len(configs) > 0 {
		cfg.Run.ConfigFiles = configs
	}
	if cfg.World.Mode == config.ModeSingle {
		cfg.World.Size, cfg.World.Rank = 1, 0
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer logger.Sync()

	if cfg.World.JobID == "" && cfg.World.Mode != config.ModeGRPC {
		cfg.World.JobID = uuid.NewString()
	}
	logger = logger.With(zap.String("job_id", cfg.World.JobID), zap.String("mode", cfg.World.Mode))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := driver.Options{Config: cfg, Sets: sets, Logger: logger, Stderr: os.Stderr}

	switch cfg.World.Mode {
	case config.ModeLocal:
		err = runLocal(ctx, cfg, opts)
	case config.ModeGRPC:
		err = runGRPC(ctx, cfg, opts)
	default:
		_, err = driver.Run(ctx, nil, opts)
	}
	if err != nil {
		logger.Error("Run failed", zap.Error(err))
		if cfg.World.Mode == config.ModeSingle {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}

func runLocal(ctx context.Context, cfg *config.Config, opts driver.Options) error {
	hub := mpi.NewHub(func(n mpi.AbortNotice) {
		opts.Logger.Error("World aborted", zap.Int("rank", n.Rank), zap.Int("code", n.Code))
	})
	defer hub.Close()

	var g errgroup.Group
	for rank := 0; rank < cfg.World.Size; rank++ {
		rank := rank
		g.Go(func() error {
			metrics := monitoring.NewMetrics(rank)
			s, err := driver.ConnectLocal(hub, rank, cfg.World.Size, metrics)
			if err != nil {
				return err
			}
			defer s.Close()

			rankOpts := opts
			rankOpts.Metrics = metrics
			_, err = driver.Run(ctx, s.World, rankOpts)
			return err
		})
	}
	return g.Wait()
}

func runGRPC(ctx context.Context, cfg *config.Config, opts driver.Options) error {
	metrics := monitoring.NewMetrics(cfg.World.Rank)
	onAbort := func(n mpi.AbortNotice) {
		opts.Logger.Error("World aborted", zap.Int("rank", n.Rank), zap.Int("code", n.Code))
		// The coordinator host stays up until its own run returns so that
		// every rank receives the notice.
		if cfg.World.Rank != 0 && n.Rank != cfg.World.Rank {
			os.Exit(n.Code)
		}
	}

	s, err := driver.ConnectGRPC(ctx, cfg.World, metrics, opts.Logger, onAbort)
	if err != nil {
		return err
	}
	defer s.Close()

	opts.Metrics = metrics
	_, err = driver.Run(ctx, s.World, opts)
	return err
}
