package ops

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/GriffinCanCode/telesim/internal/data"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/config"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/telesim/internal/shared/faults"
)

// SimNoiseClass is the registry class of SimNoise.
const SimNoiseClass = "sim_noise"

// SimNoiseParams configures SimNoise.
type SimNoiseParams struct {
	Realization int    `toml:"realization" yaml:"realization" json:"realization"`
	DetData     string `toml:"det_data" yaml:"det_data" json:"det_data"`
	NoiseKey    string `toml:"noise_key" yaml:"noise_key" json:"noise_key"`
}

func DefaultSimNoiseParams() SimNoiseParams {
	return SimNoiseParams{
		DetData:  "signal",
		NoiseKey: "noise_model",
	}
}

// SimNoise adds a coloured noise realization to detector timestreams.
type SimNoise struct {
	Lifecycle

	name    string
	params  SimNoiseParams
	metrics *monitoring.Metrics
}

// NewSimNoise builds the operator.
func NewSimNoise(name string, params SimNoiseParams) (*SimNoise, error) {
	if params.DetData == "" {
		return nil, faults.Configf(name, "det_data must not be empty")
	}
	if params.NoiseKey == "" {
		return nil, faults.Configf(name, "noise_key must not be empty")
	}
	if params.Realization < 0 {
		return nil, faults.Configf(name, "realization must not be negative, got %d", params.Realization)
	}
	return &SimNoise{name: name, params: params}, nil
}

func newSimNoise(name string, sec config.Section, b Bindings) (Operator, error) {
	params, err := decodeParams(name, sec, DefaultSimNoiseParams())
	if err != nil {
		return nil, err
	}
	op, err := NewSimNoise(name, params)
	if err != nil {
		return nil, err
	}
	op.metrics = b.Metrics
	return op, nil
}

func (s *SimNoise) Name() string { return s.name }

// Exec adds noise to every selected local detector that has a PSD.
// Observations without a noise model are skipped.
func (s *SimNoise) Exec(_ context.Context, d *data.Data, sel Selection) error {
	if err := s.BeginExec(); err != nil {
		return err
	}
	return d.ForEach(nil, func(ob *data.Observation) error {
		noise, _ := ob.Meta[s.params.NoiseKey].(*Noise)
		if noise == nil {
			return nil
		}
		var buf map[string][]float64
		for _, det := range sel.Filter(ob.LocalDetectors()) {
			freq, psd, ok := noise.Spectrum(det)
			if !ok {
				continue
			}
			if buf == nil {
				buf = ob.EnsureDetData(s.params.DetData)
			}
			tod, err := Realize(s.params.Realization, ob.DetectorIndex(det), ob.UID, ob.Samples, ob.SampleRate, freq, psd)
			if err != nil {
				return faults.Configf(s.name, "detector %q of %q: %v", det, ob.Name, err)
			}
			out := buf[det]
			for i, v := range tod {
				out[i] += v
			}
			s.metrics.AddSamples(s.name, len(tod))
		}
		return nil
	})
}

// Finalize has nothing to flush.
func (s *SimNoise) Finalize(context.Context, *data.Data) error {
	return s.BeginFinalize()
}

// Realize draws n samples of noise with the one-sided PSD given on freq.
// The stream is fixed by realization, detector index and observation uid.
func Realize(realization, detIndex int, uid uint64, n int, rate float64, freq, psd []float64) ([]float64, error) {
	src := rand.NewPCG(uint64(realization)<<32|uint64(uint32(detIndex)), uid)
	white := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	tod := make([]float64, n)
	for i := range tod {
		tod[i] = white.Rand()
	}
	if n < 2 {
		return tod, nil
	}

	if err := checkSpectrum(freq, psd); err != nil {
		return nil, err
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(freq, psd); err != nil {
		return nil, err
	}

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, tod)
	coeff[0] = 0
	for k := 1; k < len(coeff); k++ {
		f := float64(k) * rate / float64(n)
		coeff[k] *= complex(math.Sqrt(pl.Predict(f)*rate/2), 0)
	}
	fft.Sequence(tod, coeff)
	scale := 1 / float64(n)
	for i := range tod {
		tod[i] *= scale
	}
	return tod, nil
}

// checkSpectrum rejects grids the interpolator would panic on.
func checkSpectrum(freq, psd []float64) error {
	if len(freq) != len(psd) {
		return fmt.Errorf("spectrum has %d frequencies but %d PSD values", len(freq), len(psd))
	}
	if len(freq) < 2 {
		return fmt.Errorf("spectrum needs at least 2 points, got %d", len(freq))
	}
	for i := 1; i < len(freq); i++ {
		if freq[i] <= freq[i-1] {
			return fmt.Errorf("spectrum frequencies not increasing at index %d", i)
		}
	}
	return nil
}
