package ops

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/GriffinCanCode/telesim/internal/comm"
	"github.com/GriffinCanCode/telesim/internal/data"
	"github.com/GriffinCanCode/telesim/internal/instrument"
	"github.com/GriffinCanCode/telesim/internal/mpi"
	"github.com/GriffinCanCode/telesim/internal/shared/id"
)

func testTelescope(t *testing.T) *instrument.Telescope {
	t.Helper()
	fp, err := instrument.FakeHexagon(instrument.DefaultHexagon())
	require.NoError(t, err)
	return &instrument.Telescope{Name: "fake", Focalplane: fp}
}

func referencePipeline(t *testing.T, tele *instrument.Telescope, run id.RunID, numObs int) *Pipeline {
	t.Helper()
	reg := DefaultRegistry()
	doc := reg.Defaults()
	require.NoError(t, doc.Set(SimSatelliteClass, "num_observations", int64(numObs)))
	require.NoError(t, doc.Set(SimSatelliteClass, "observation_seconds", 60.0))
	p, err := reg.Build(doc, Bindings{Telescope: tele, RunID: run})
	require.NoError(t, err)
	return p
}

type rankView struct {
	group     int
	refs      []data.Ref
	local     []string
	detectors []string
	localDets []string
	signal    map[string][]float64
}

func TestReferencePipelineOverGroups(t *testing.T) {
	const worldSize, groupSize = 4, 2
	tele := testTelescope(t)
	run := id.NewRunID()

	comms, hub := mpi.NewLocalWorld(worldSize, nil)
	defer hub.Close()

	var mu sync.Mutex
	views := make(map[int]rankView)

	pipelines := make([]*Pipeline, worldSize)
	for i := range pipelines {
		pipelines[i] = referencePipeline(t, tele, run, 2)
	}

	g, ctx := errgroup.WithContext(context.Background())
	for _, world := range comms {
		world := world
		p := pipelines[world.Rank()]
		g.Go(func() error {
			c, err := comm.New(ctx, world, groupSize)
			if err != nil {
				return err
			}
			d := data.New(c)
			if err := p.Exec(ctx, d, nil); err != nil {
				return err
			}
			if err := p.Finalize(ctx, d); err != nil {
				return err
			}

			v := rankView{group: c.Group(), refs: d.Refs()}
			for ob := range d.Iterate() {
				v.local = append(v.local, ob.Name)
				v.detectors = ob.Detectors
				v.localDets = ob.LocalDetectors()
				v.signal = ob.DetData["signal"]
			}
			mu.Lock()
			views[world.Rank()] = v
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for rank := 0; rank < worldSize; rank++ {
		v := views[rank]
		assert.Equal(t, rank/groupSize, v.group)
		require.Len(t, v.local, 1, "rank %d", rank)
		assert.Equal(t, fmt.Sprintf("fake_%d", v.group), v.local[0])
		assert.Len(t, v.refs, 2)
		assert.Len(t, v.localDets, 7)

		// Only local detectors carry samples, and they carry noise.
		assert.Len(t, v.signal, 7)
		for _, det := range v.localDets {
			require.Len(t, v.signal[det], 600)
			assert.NotZero(t, stat.Variance(v.signal[det], nil))
		}
	}

	// Both ranks of a group agree on the observation and its detectors but
	// hold disjoint halves of them.
	assert.Equal(t, views[0].local, views[1].local)
	assert.Equal(t, views[0].detectors, views[1].detectors)
	assert.Equal(t, tele.Focalplane.Names(), views[0].detectors)
	assert.NotEqual(t, views[0].localDets, views[1].localDets)
	assert.NotEqual(t, views[0].local, views[2].local)
}

func TestSimSatelliteCreatesOnce(t *testing.T) {
	tele := testTelescope(t)
	sets, err := Subsets([]string{"D000A"}, []string{"D000B"})
	require.NoError(t, err)

	sat, err := NewSimSatellite("sat", DefaultSimSatelliteParams(), tele, id.NewRunID())
	require.NoError(t, err)
	p, err := NewPipeline("main", PipelineParams{Operators: []Operator{sat}, DetectorSets: sets})
	require.NoError(t, err)

	d := emptyData(t)
	require.NoError(t, p.Exec(context.Background(), d, nil))
	require.Equal(t, 1, d.Len())

	ob, ok := d.Get("fake_0")
	require.True(t, ok)
	assert.Equal(t, 6000, ob.Samples)
	assert.Len(t, ob.Times, 6000)
	assert.InDelta(t, 0.1, ob.Times[1]-ob.Times[0], 1e-12)
	for _, q := range ob.Boresight[:10] {
		norm := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
		assert.InDelta(t, 1, norm, 1e-12)
	}
	assert.Same(t, tele, ob.Telescope)
}

func TestNoiseModelIsSelectionAware(t *testing.T) {
	tele := testTelescope(t)
	d := emptyData(t)
	sat, err := NewSimSatellite("sat", DefaultSimSatelliteParams(), tele, id.NewRunID())
	require.NoError(t, err)
	require.NoError(t, sat.Exec(context.Background(), d, nil))

	model, err := NewDefaultNoiseModel("noise", DefaultNoiseModelParams(), nil)
	require.NoError(t, err)
	require.NoError(t, model.Exec(context.Background(), d, Selection{"D000A"}))

	ob, _ := d.Get("fake_0")
	noise := ob.Meta["noise_model"].(*Noise)
	assert.Equal(t, []string{"D000A"}, noise.Detectors())

	freq, psd, ok := noise.Spectrum("D000A")
	require.True(t, ok)
	require.Len(t, freq, 1000)
	assert.InDelta(t, 1e-5, freq[0], 1e-12)
	assert.InDelta(t, 5, freq[len(freq)-1], 1e-9)
	// The spectrum flattens to NET² well above the knee.
	assert.InDelta(t, 1, psd[len(psd)-1], 0.02)
	assert.Greater(t, psd[0], psd[len(psd)-1])

	before := psd
	require.NoError(t, model.Exec(context.Background(), d, nil))
	assert.Len(t, noise.Detectors(), 14)
	_, after, _ := noise.Spectrum("D000A")
	assert.Same(t, &before[0], &after[0])
}

func TestRealizeIsDeterministic(t *testing.T) {
	freq := []float64{0.01, 1, 5}
	psd := []float64{1, 1, 1}

	a, err := Realize(0, 3, 42, 256, 10, freq, psd)
	require.NoError(t, err)
	b, err := Realize(0, 3, 42, 256, 10, freq, psd)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	for _, other := range []struct{ real, det int }{{1, 3}, {0, 4}} {
		c, err := Realize(other.real, other.det, 42, 256, 10, freq, psd)
		require.NoError(t, err)
		assert.NotEqual(t, a, c)
	}
	c, err := Realize(0, 3, 43, 256, 10, freq, psd)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestRealizeWhiteVariance(t *testing.T) {
	const (
		rate = 10.0
		net  = 2.0
		n    = 20000
	)
	det := instrument.Detector{NET: net, FMin: 1e-10, FKnee: 1e-9, Alpha: 1}
	freq := []float64{1e-5, 0.1, 1, rate / 2}
	psd := OneOverF(freq, det)

	tod, err := Realize(7, 0, 99, n, rate, freq, psd)
	require.NoError(t, err)

	want := net * net * rate / 2
	assert.InEpsilon(t, want, stat.Variance(tod, nil), 0.1)
	assert.InDelta(t, 0, stat.Mean(tod, nil), 1e-9)
}

func TestRealizeRejectsBadSpectrum(t *testing.T) {
	_, err := Realize(0, 0, 0, 16, 10, []float64{1, 1}, []float64{1, 1})
	assert.Error(t, err)
	_, err = Realize(0, 0, 0, 16, 10, []float64{1}, []float64{1})
	assert.Error(t, err)
	_, err = Realize(0, 0, 0, 16, 10, []float64{1, 2}, []float64{1})
	assert.Error(t, err)

	tod, err := Realize(0, 0, 0, 1, 10, nil, nil)
	require.NoError(t, err)
	assert.Len(t, tod, 1)
}
