package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/telesim/internal/comm"
	"github.com/GriffinCanCode/telesim/internal/data"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/config"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/server"
	"github.com/GriffinCanCode/telesim/internal/instrument"
	"github.com/GriffinCanCode/telesim/internal/mpi"
	"github.com/GriffinCanCode/telesim/internal/ops"
	"github.com/GriffinCanCode/telesim/internal/shared/faults"
	"github.com/GriffinCanCode/telesim/internal/shared/id"
	"github.com/GriffinCanCode/telesim/internal/timing"
)

// TotalTimer spans a whole run.
const TotalTimer = "telesim (total)"

// TelescopeName names the simulated telescope.
const TelescopeName = "fake"

// Options configures one rank's run.
type Options struct {
	Config *config.Config
	// Sets are "operator.key=value" overrides applied after the config files.
	Sets []string
	// Registry defaults to ops.DefaultRegistry.
	Registry *ops.Registry

	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	Stderr  io.Writer

	// Timers defaults to a fresh set owned by the run.
	Timers *timing.GlobalTimers
}

// Result summarizes a completed run on one rank.
type Result struct {
	RunID        id.RunID
	WorldRank    int
	Group        int
	Observations []string
	// Report and Files are set on world rank 0 only.
	Report *timing.Report
	Files  []string
}

type runner struct {
	world   mpi.Communicator
	opts    Options
	cfg     *config.Config
	reg     *ops.Registry
	logger  *logging.Logger
	metrics *monitoring.Metrics
	timers  *timing.GlobalTimers
	status  *server.Server
}

// Run executes the configured pipeline on one rank of world, which is nil in
// single-process mode. Failures go through the Boundary of the rank.
func Run(ctx context.Context, world mpi.Communicator, opts Options) (*Result, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Registry == nil {
		opts.Registry = ops.DefaultRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	rank := 0
	if world != nil {
		rank = world.Rank()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics(rank)
	}
	if opts.Timers == nil {
		opts.Timers = timing.NewGlobalTimers()
	}

	r := &runner{
		world:   world,
		opts:    opts,
		cfg:     opts.Config,
		reg:     opts.Registry,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		timers:  opts.Timers,
	}

	var res *Result
	boundary := NewBoundary(world, opts.Stderr, opts.Logger, opts.Metrics)
	err := boundary.Guard(ctx, func(ctx context.Context) error {
		var err error
		res, err = r.run(ctx)
		return err
	})
	// A failed run leaves its timers running.
	r.timers.StopAll()
	if r.status != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.status.Close(shutdownCtx)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *runner) worldRank() int {
	if r.world == nil {
		return 0
	}
	return r.world.Rank()
}

func (r *runner) worldSize() int {
	if r.world == nil {
		return 1
	}
	return r.world.Size()
}

func (r *runner) setPhase(phase string) {
	if r.status != nil {
		r.status.SetPhase(phase)
	}
	r.logger.Debug("Run phase", zap.String("phase", phase))
}

func (r *runner) run(ctx context.Context) (*Result, error) {
	if err := r.timers.Start(TotalTimer); err != nil {
		return nil, err
	}

	doc, tele, groupSize, err := r.preflight()
	if err != nil {
		return nil, &preflightError{err: err}
	}

	c, err := comm.New(ctx, r.world, groupSize)
	if err != nil {
		return nil, err
	}
	r.logger = r.logger.WithRank(c.WorldRank(), c.Group())
	runID, err := r.shareRunID(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Starting run",
		zap.String("run_id", runID.String()),
		zap.String("layout", c.String()),
		zap.String("telescope", tele.String()),
	)

	if c.WorldRank() == 0 {
		if err := r.startStatus(runID, c); err != nil {
			return nil, err
		}
		if out := r.cfg.Run.ConfigOut; out != "" {
			if err := doc.Dump(out); err != nil {
				return nil, err
			}
		}
	}

	pipe, err := r.reg.Build(doc, ops.Bindings{
		Telescope: tele,
		RunID:     runID,
		Metrics:   r.metrics,
		Logger:    r.logger,
	})
	if err != nil {
		return nil, err
	}
	pipe.WithTimers(r.timers).WithMetrics(r.metrics).WithLogger(r.logger)

	d := data.New(c)
	r.setPhase("exec")
	if err := pipe.Exec(ctx, d, nil); err != nil {
		return nil, &faults.OperatorExecutionError{Pipeline: pipe.Name(), Phase: "exec", Err: err}
	}
	r.setPhase("finalize")
	if err := pipe.Finalize(ctx, d); err != nil {
		return nil, &faults.OperatorExecutionError{Pipeline: pipe.Name(), Phase: "finalize", Err: err}
	}

	res := &Result{RunID: runID, WorldRank: c.WorldRank(), Group: c.Group()}
	for ob := range d.Iterate() {
		res.Observations = append(res.Observations, ob.Name)
	}

	r.setPhase("report")
	r.timers.StopAll()
	report, err := timing.Gather(ctx, r.world, r.timers)
	if err != nil {
		return nil, err
	}
	if c.WorldRank() == 0 {
		res.Report = report
		if res.Files, err = r.writeReports(report); err != nil {
			return nil, err
		}
	}
	r.setPhase("done")
	r.logger.Info("Run complete",
		zap.Int("observations", len(res.Observations)),
		zap.Duration("elapsed", r.timers.Elapsed(TotalTimer)),
	)
	return res, nil
}

// preflight runs every check that needs no other rank, so that a bad
// configuration fails before the first collective call.
// It returns the effective group size, where 0 selects the whole world.
func (r *runner) preflight() (*config.Document, *instrument.Telescope, int, error) {
	groupSize := r.cfg.Run.GroupSize
	if groupSize == 0 {
		groupSize = r.worldSize()
	}
	if _, err := comm.Partition(r.worldSize(), groupSize); err != nil {
		return nil, nil, 0, err
	}
	if _, err := timing.ParseCompression(r.cfg.Timing.Compression); err != nil {
		return nil, nil, 0, faults.Configf("timing", "%v", err)
	}
	doc, err := r.document()
	if err != nil {
		return nil, nil, 0, err
	}
	tele, err := r.telescope()
	if err != nil {
		return nil, nil, 0, err
	}
	if _, err := r.reg.Build(doc, ops.Bindings{Telescope: tele}); err != nil {
		return nil, nil, 0, err
	}
	return doc, tele, groupSize, nil
}

// document merges the config files and overrides over the registry defaults.
func (r *runner) document() (*config.Document, error) {
	doc := r.reg.Defaults()
	if len(r.cfg.Run.ConfigFiles) > 0 {
		loaded, files, err := config.Load(r.cfg.Run.ConfigFiles...)
		if err != nil {
			return nil, err
		}
		doc.Merge(loaded)
		r.logger.Debug("Loaded operator config", zap.Strings("files", files))
	}
	for _, set := range r.opts.Sets {
		if err := doc.ApplySet(set); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (r *runner) telescope() (*instrument.Telescope, error) {
	hex := instrument.DefaultHexagon()
	hex.NPix = r.cfg.Run.FocalplanePixels
	fp, err := instrument.FakeHexagon(hex)
	if err != nil {
		return nil, err
	}
	return &instrument.Telescope{Name: TelescopeName, Focalplane: fp}, nil
}

// shareRunID broadcasts the run id chosen by world rank 0.
func (r *runner) shareRunID(ctx context.Context) (id.RunID, error) {
	if r.world == nil {
		return id.NewRunID(), nil
	}
	var local []byte
	if r.world.Rank() == 0 {
		local = []byte(id.NewRunID())
	}
	shared, err := r.world.Bcast(ctx, 0, local)
	if err != nil {
		return "", fmt.Errorf("failed to share run id: %w", err)
	}
	return id.RunID(shared), nil
}

func (r *runner) startStatus(runID id.RunID, c *comm.Comm) error {
	if r.cfg.Status.Addr == "" {
		return nil
	}
	r.status = server.New(server.Config{
		Addr:           r.cfg.Status.Addr,
		CORSOrigins:    r.cfg.Status.CORSOrigins,
		RateLimit:      r.cfg.Status.RateLimit,
		Development:    r.cfg.Logging.Development,
		MaxConns:       r.cfg.Status.MaxConns,
		StreamInterval: r.cfg.Status.StreamInterval,
	}, server.RunInfo{
		RunID:     runID.String(),
		WorldRank: c.WorldRank(),
		WorldSize: c.WorldSize(),
		NGroups:   c.NGroups(),
	}, r.timers, r.metrics, r.logger)
	_, err := r.status.Start()
	return err
}

func (r *runner) writeReports(report *timing.Report) ([]string, error) {
	var files []string
	if out := r.cfg.Timing.Out; out != "" {
		compression, err := timing.ParseCompression(r.cfg.Timing.Compression)
		if err != nil {
			return nil, err
		}
		written, err := timing.Dump(report, out, compression)
		if err != nil {
			return nil, err
		}
		files = append(files, written...)
	}
	if path := r.cfg.Run.MetricsFile; path != "" {
		if err := r.metrics.WriteTextfile(path); err != nil {
			return nil, fmt.Errorf("write metrics textfile: %w", err)
		}
		files = append(files, path)
	}
	return files, nil
}
