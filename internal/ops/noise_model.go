package ops

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/GriffinCanCode/telesim/internal/data"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/config"
	"github.com/GriffinCanCode/telesim/internal/instrument"
	"github.com/GriffinCanCode/telesim/internal/shared/faults"
)

// NoiseModelClass is the registry class of DefaultNoiseModel.
const NoiseModelClass = "noise_model"

// Noise holds a one-sided PSD per detector, in K²/Hz.
type Noise struct {
	Freq map[string][]float64
	PSD  map[string][]float64
}

// NewNoise returns an empty model.
func NewNoise() *Noise {
	return &Noise{
		Freq: make(map[string][]float64),
		PSD:  make(map[string][]float64),
	}
}

// Detectors returns the modelled detectors in sorted order.
func (n *Noise) Detectors() []string {
	out := make([]string, 0, len(n.PSD))
	for det := range n.PSD {
		out = append(out, det)
	}
	sort.Strings(out)
	return out
}

// Has reports whether det is modelled.
func (n *Noise) Has(det string) bool {
	_, ok := n.PSD[det]
	return ok
}

// Spectrum returns the frequency grid and PSD of det.
func (n *Noise) Spectrum(det string) (freq, psd []float64, ok bool) {
	psd, ok = n.PSD[det]
	if !ok {
		return nil, nil, false
	}
	return n.Freq[det], psd, true
}

// OneOverF evaluates NET²·(f^α + fknee^α)/(f^α + fmin^α) on freq.
func OneOverF(freq []float64, det instrument.Detector) []float64 {
	out := make([]float64, len(freq))
	knee := math.Pow(det.FKnee, det.Alpha)
	fmin := math.Pow(det.FMin, det.Alpha)
	net2 := det.NET * det.NET
	for i, f := range freq {
		fa := math.Pow(f, det.Alpha)
		out[i] = net2 * (fa + knee) / (fa + fmin)
	}
	return out
}

// NoiseModelParams configures DefaultNoiseModel.
type NoiseModelParams struct {
	NoiseKey string  `toml:"noise_key" yaml:"noise_key" json:"noise_key"`
	FreqMin  float64 `toml:"freq_min" yaml:"freq_min" json:"freq_min"`
	NFreq    int     `toml:"n_freq" yaml:"n_freq" json:"n_freq"`
}

func DefaultNoiseModelParams() NoiseModelParams {
	return NoiseModelParams{
		NoiseKey: "noise_model",
		FreqMin:  1e-5,
		NFreq:    1000,
	}
}

// DefaultNoiseModel attaches the analytic 1/f model of each detector to the
// observations.
type DefaultNoiseModel struct {
	Lifecycle

	name      string
	params    NoiseModelParams
	telescope *instrument.Telescope
}

// NewDefaultNoiseModel builds the operator. tele is used for observations
// that do not carry their own telescope and may be nil.
func NewDefaultNoiseModel(name string, params NoiseModelParams, tele *instrument.Telescope) (*DefaultNoiseModel, error) {
	switch {
	case params.NoiseKey == "":
		return nil, faults.Configf(name, "noise_key must not be empty")
	case params.FreqMin <= 0:
		return nil, faults.Configf(name, "freq_min must be positive, got %g", params.FreqMin)
	case params.NFreq < 2:
		return nil, faults.Configf(name, "n_freq must be at least 2, got %d", params.NFreq)
	}
	return &DefaultNoiseModel{name: name, params: params, telescope: tele}, nil
}

func newDefaultNoiseModel(name string, sec config.Section, b Bindings) (Operator, error) {
	params, err := decodeParams(name, sec, DefaultNoiseModelParams())
	if err != nil {
		return nil, err
	}
	return NewDefaultNoiseModel(name, params, b.Telescope)
}

func (m *DefaultNoiseModel) Name() string { return m.name }

// Exec adds the selected detectors to the model of every local observation.
// Detectors already modelled are left untouched.
func (m *DefaultNoiseModel) Exec(_ context.Context, d *data.Data, sel Selection) error {
	if err := m.BeginExec(); err != nil {
		return err
	}
	return d.ForEach(nil, func(ob *data.Observation) error {
		tele := ob.Telescope
		if tele == nil {
			tele = m.telescope
		}
		if tele == nil {
			return faults.Configf(m.name, "observation %q has no telescope", ob.Name)
		}
		nyquist := ob.SampleRate / 2
		if nyquist <= m.params.FreqMin {
			return faults.Configf(m.name, "freq_min %g is above the Nyquist frequency %g of %q",
				m.params.FreqMin, nyquist, ob.Name)
		}

		noise, _ := ob.Meta[m.params.NoiseKey].(*Noise)
		if noise == nil {
			noise = NewNoise()
			ob.Meta[m.params.NoiseKey] = noise
		}

		var grid []float64
		for _, name := range sel.Filter(ob.Detectors) {
			if noise.Has(name) {
				continue
			}
			det, ok := tele.Focalplane.Get(name)
			if !ok {
				return faults.Configf(m.name, "detector %q of %q is not in the focal plane", name, ob.Name)
			}
			if grid == nil {
				grid = floats.LogSpan(make([]float64, m.params.NFreq), m.params.FreqMin, nyquist)
			}
			noise.Freq[name] = grid
			noise.PSD[name] = OneOverF(grid, det)
		}
		return nil
	})
}

// Finalize has nothing to flush.
func (m *DefaultNoiseModel) Finalize(context.Context, *data.Data) error {
	return m.BeginFinalize()
}
