package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/telesim/internal/data"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/config"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/telesim/internal/mpi"
	"github.com/GriffinCanCode/telesim/internal/ops"
	"github.com/GriffinCanCode/telesim/internal/shared/faults"
	"github.com/GriffinCanCode/telesim/internal/timing"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Run.ConfigOut = filepath.Join(dir, "config.toml")
	cfg.Run.MetricsFile = filepath.Join(dir, "metrics.prom")
	cfg.Timing.Out = filepath.Join(dir, "timing")
	return cfg
}

func TestRunSingleProcess(t *testing.T) {
	cfg := testConfig(t)
	res, err := Run(context.Background(), nil, Options{
		Config: cfg,
		Sets:   []string{"sim_satellite.observation_seconds=10"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"fake_0"}, res.Observations)
	assert.NotEmpty(t, res.RunID)
	require.NotNil(t, res.Report)
	assert.Equal(t, 1, res.Report.WorldSize)

	for _, name := range []string{TotalTimer, "main.exec.sim_satellite", "main.finalize.sim_noise"} {
		agg, ok := res.Report.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, 1, agg.Ranks)
	}
	assert.Equal(t, []string{
		cfg.Timing.Out + ".csv",
		cfg.Timing.Out + ".json",
		cfg.Run.MetricsFile,
	}, res.Files)

	// The dumped config reproduces the effective document.
	doc, _, err := config.Load(cfg.Run.ConfigOut)
	require.NoError(t, err)
	assert.Equal(t, []string{"sim_satellite", "noise_model", "sim_noise"}, doc.Pipeline.Operators)
	assert.EqualValues(t, 10, doc.Operators["sim_satellite"]["observation_seconds"])
}

func TestRunConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
		sets   []string
	}{
		{name: "unknown parameter", sets: []string{"sim_noise.bogus=1"}},
		{name: "bad focal plane", mutate: func(cfg *config.Config) { cfg.Run.FocalplanePixels = 5 }},
		{name: "group too large", mutate: func(cfg *config.Config) { cfg.Run.GroupSize = 2 }},
		{name: "bad compression", mutate: func(cfg *config.Config) { cfg.Timing.Compression = "lz4" }},
		{name: "overlapping detector sets", sets: []string{"sim_noise.realization=1"}, mutate: func(cfg *config.Config) {
			cfg.Run.ConfigFiles = []string{writeDoc(t, "[pipeline]\ndetector_sets = [[\"D000A\"], [\"D000A\"]]\n")}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			_, err := Run(context.Background(), nil, Options{Config: cfg, Sets: tt.sets})
			var cfgErr *faults.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func writeDoc(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ops.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunLocalWorld(t *testing.T) {
	const size = 4
	cfg := testConfig(t)
	cfg.Run.GroupSize = 2

	hub := mpi.NewHub(nil)
	defer hub.Close()

	var mu sync.Mutex
	results := make(map[int]*Result)
	g, ctx := errgroup.WithContext(context.Background())
	for rank := 0; rank < size; rank++ {
		rank := rank
		g.Go(func() error {
			metrics := monitoring.NewMetrics(rank)
			s, err := ConnectLocal(hub, rank, size, metrics)
			if err != nil {
				return err
			}
			res, err := Run(ctx, s.World, Options{
				Config:  cfg,
				Sets:    []string{"sim_satellite.num_observations=2", "sim_satellite.observation_seconds=5"},
				Metrics: metrics,
			})
			if err != nil {
				return err
			}
			mu.Lock()
			results[rank] = res
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for rank := 0; rank < size; rank++ {
		res := results[rank]
		assert.Equal(t, rank/2, res.Group)
		assert.Equal(t, []string{fmt.Sprintf("fake_%d", rank/2)}, res.Observations)
		assert.Equal(t, results[0].RunID, res.RunID)
		if rank != 0 {
			assert.Nil(t, res.Report)
		}
	}
	agg, ok := results[0].Report.Lookup(TotalTimer)
	require.True(t, ok)
	assert.Equal(t, size, agg.Ranks)
}

// failOp fails its exec on one world rank.
type failOp struct {
	ops.Lifecycle
	rank int
	err  error
}

func (f *failOp) Name() string { return "fail" }

func (f *failOp) Exec(_ context.Context, d *data.Data, _ ops.Selection) error {
	if err := f.BeginExec(); err != nil {
		return err
	}
	if d.Comm().WorldRank() == f.rank {
		return f.err
	}
	return nil
}

func (f *failOp) Finalize(context.Context, *data.Data) error { return f.BeginFinalize() }

func TestRunLocalWorldFailureAbortsOnce(t *testing.T) {
	const size = 3
	boom := errors.New("detector melted")

	var calls atomic.Int32
	hub := mpi.NewHub(func(mpi.AbortNotice) { calls.Add(1) })
	defer hub.Close()

	cfg := testConfig(t)
	cfg.Run.GroupSize = 1
	var stderr syncBuffer

	errs := make([]error, size)
	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		rank := rank
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg := ops.NewRegistry()
			reg.Register("fail", func(string, config.Section, ops.Bindings) (ops.Operator, error) {
				return &failOp{rank: 1, err: boom}, nil
			}, func() any { return struct{}{} })

			s, err := ConnectLocal(hub, rank, size, nil)
			if err != nil {
				errs[rank] = err
				return
			}
			_, errs[rank] = Run(context.Background(), s.World, Options{
				Config:   cfg,
				Registry: reg,
				Stderr:   &stderr,
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for rank, err := range errs {
		assert.ErrorIs(t, err, mpi.ErrAborted, "rank %d", rank)
	}
	assert.ErrorIs(t, errs[1], boom)
	var execErr *faults.OperatorExecutionError
	require.ErrorAs(t, errs[1], &execErr)
	assert.Equal(t, "exec", execErr.Phase)

	assert.Contains(t, stderr.String(), "Proc 1: pipeline main failed during exec: detector melted")
	assert.NotContains(t, stderr.String(), "Proc 0:")
}

func TestSessionClose(t *testing.T) {
	var order bytes.Buffer
	s := &Session{closers: []func() error{
		func() error { order.WriteString("a"); return nil },
		func() error { order.WriteString("b"); return errors.New("b failed") },
	}}
	assert.EqualError(t, s.Close(), "b failed")
	assert.Equal(t, "ba", order.String())
	assert.NoError(t, ConnectSingle().Close())
}

func TestRunLocalWorldConfigurationErrorDoesNotAbort(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{name: "bad compression", mutate: func(cfg *config.Config) { cfg.Timing.Compression = "bogus" }},
		{name: "group too large", mutate: func(cfg *config.Config) { cfg.Run.GroupSize = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const size = 2
			var calls atomic.Int32
			hub := mpi.NewHub(func(mpi.AbortNotice) { calls.Add(1) })
			defer hub.Close()

			cfg := testConfig(t)
			tt.mutate(cfg)
			var stderr syncBuffer

			errs := make([]error, size)
			var wg sync.WaitGroup
			for rank := 0; rank < size; rank++ {
				rank := rank
				wg.Add(1)
				go func() {
					defer wg.Done()
					s, err := ConnectLocal(hub, rank, size, nil)
					if err != nil {
						errs[rank] = err
						return
					}
					_, errs[rank] = Run(context.Background(), s.World, Options{Config: cfg, Stderr: &stderr})
				}()
			}
			wg.Wait()

			for rank, err := range errs {
				var cfgErr *faults.ConfigurationError
				assert.ErrorAs(t, err, &cfgErr, "rank %d", rank)
				assert.NotErrorIs(t, err, mpi.ErrAborted, "rank %d", rank)
			}
			assert.Zero(t, calls.Load())
			assert.Empty(t, stderr.String())
		})
	}
}

func TestRunStopsTimersOnFailure(t *testing.T) {
	boom := errors.New("detector melted")
	reg := ops.NewRegistry()
	reg.Register("fail", func(string, config.Section, ops.Bindings) (ops.Operator, error) {
		return &failOp{rank: 0, err: boom}, nil
	}, func() any { return struct{}{} })

	timers := timing.NewGlobalTimers()
	_, err := Run(context.Background(), nil, Options{
		Config:   testConfig(t),
		Registry: reg,
		Timers:   timers,
	})
	require.ErrorIs(t, err, boom)

	assert.Empty(t, timers.Running())
	assert.False(t, timers.IsRunning(TotalTimer))
}
