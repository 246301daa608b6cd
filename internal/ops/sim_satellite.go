package ops

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/num/quat"

	"github.com/GriffinCanCode/telesim/internal/data"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/config"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/telesim/internal/instrument"
	"github.com/GriffinCanCode/telesim/internal/shared/faults"
	"github.com/GriffinCanCode/telesim/internal/shared/id"
)

// SimSatelliteClass is the registry class of SimSatellite.
const SimSatelliteClass = "sim_satellite"

// SimSatelliteParams configures the satellite scan.
type SimSatelliteParams struct {
	NumObservations    int     `toml:"num_observations" yaml:"num_observations" json:"num_observations"`
	ObservationSeconds float64 `toml:"observation_seconds" yaml:"observation_seconds" json:"observation_seconds"`
	GapSeconds         float64 `toml:"gap_seconds" yaml:"gap_seconds" json:"gap_seconds"`
	StartTime          float64 `toml:"start_time" yaml:"start_time" json:"start_time"`
	SpinPeriodSeconds  float64 `toml:"spin_period_seconds" yaml:"spin_period_seconds" json:"spin_period_seconds"`
	PrecPeriodSeconds  float64 `toml:"prec_period_seconds" yaml:"prec_period_seconds" json:"prec_period_seconds"`
	SpinAngleDeg       float64 `toml:"spin_angle_deg" yaml:"spin_angle_deg" json:"spin_angle_deg"`
	PrecAngleDeg       float64 `toml:"prec_angle_deg" yaml:"prec_angle_deg" json:"prec_angle_deg"`
}

// DefaultSimSatelliteParams returns a single ten minute observation.
func DefaultSimSatelliteParams() SimSatelliteParams {
	return SimSatelliteParams{
		NumObservations:    1,
		ObservationSeconds: 600,
		SpinPeriodSeconds:  600,
		PrecPeriodSeconds:  3000,
		SpinAngleDeg:       30,
		PrecAngleDeg:       65,
	}
}

// Validate checks the scan parameters.
func (p SimSatelliteParams) Validate(name string) error {
	switch {
	case p.NumObservations < 1:
		return faults.Configf(name, "num_observations must be positive, got %d", p.NumObservations)
	case p.ObservationSeconds <= 0:
		return faults.Configf(name, "observation_seconds must be positive, got %g", p.ObservationSeconds)
	case p.GapSeconds < 0:
		return faults.Configf(name, "gap_seconds must not be negative, got %g", p.GapSeconds)
	case p.SpinPeriodSeconds <= 0 || p.PrecPeriodSeconds <= 0:
		return faults.Configf(name, "spin and precession periods must be positive")
	}
	return nil
}

// SimSatellite creates the observations of a spinning, precessing
// satellite and distributes them over process groups.
type SimSatellite struct {
	Lifecycle

	name      string
	params    SimSatelliteParams
	telescope *instrument.Telescope
	run       id.RunID
	logger    *logging.Logger

	created bool
}

// NewSimSatellite builds the operator. A telescope is required.
func NewSimSatellite(name string, params SimSatelliteParams, tele *instrument.Telescope, run id.RunID) (*SimSatellite, error) {
	if tele == nil || tele.Focalplane == nil {
		return nil, faults.Configf(name, "no telescope bound")
	}
	if err := params.Validate(name); err != nil {
		return nil, err
	}
	return &SimSatellite{
		name:      name,
		params:    params,
		telescope: tele,
		run:       run,
		logger:    logging.Nop(),
	}, nil
}

func newSimSatellite(name string, sec config.Section, b Bindings) (Operator, error) {
	params, err := decodeParams(name, sec, DefaultSimSatelliteParams())
	if err != nil {
		return nil, err
	}
	op, err := NewSimSatellite(name, params, b.Telescope, b.RunID)
	if err != nil {
		return nil, err
	}
	if b.Logger != nil {
		op.logger = b.Logger.Named(name)
	}
	return op, nil
}

func (s *SimSatellite) Name() string { return s.name }

// Exec creates the observations on the first call. Later calls are no-ops,
// so detector-set passes share one set of observations.
func (s *SimSatellite) Exec(ctx context.Context, d *data.Data, _ Selection) error {
	if err := s.BeginExec(); err != nil {
		return err
	}
	if s.created {
		return nil
	}

	c := d.Comm()
	blocks := data.Distribute(s.params.NumObservations, c.NGroups())
	rate := s.telescope.Focalplane.SampleRate
	samples := int(math.Round(s.params.ObservationSeconds * rate))
	dets := s.telescope.Focalplane.Names()

	for group, block := range blocks {
		for i := block.First; i < block.First+block.Count; i++ {
			name := fmt.Sprintf("%s_%d", s.telescope.Name, i)
			if group != c.Group() {
				if err := d.AppendPlaceholder(name, group); err != nil {
					return err
				}
				continue
			}

			ob := data.NewObservation(s.run, name, group, c.GroupComm(), dets, samples, rate)
			ob.Telescope = s.telescope
			start := s.params.StartTime + float64(i)*(s.params.ObservationSeconds+s.params.GapSeconds)
			ob.Times, ob.Boresight = s.scan(start, samples, rate)
			if err := d.Append(ob); err != nil {
				return err
			}
			s.logger.Debug("Created observation",
				zap.String("observation", name),
				zap.Int("samples", samples),
				zap.Int("detectors", len(dets)),
			)
		}
	}
	s.created = true
	return nil
}

// scan returns the sample times and boresight quaternions of one
// observation starting at start.
func (s *SimSatellite) scan(start float64, samples int, rate float64) ([]float64, []quat.Number) {
	times := make([]float64, samples)
	bore := make([]quat.Number, samples)

	spinAngle := instrument.Rotation(instrument.YAxis, s.params.SpinAngleDeg*math.Pi/180)
	precAngle := instrument.Rotation(instrument.YAxis, s.params.PrecAngleDeg*math.Pi/180)
	for k := range times {
		t := start + float64(k)/rate
		times[k] = t
		prec := instrument.Rotation(instrument.XAxis, 2*math.Pi*t/s.params.PrecPeriodSeconds)
		spin := instrument.Rotation(instrument.ZAxis, 2*math.Pi*t/s.params.SpinPeriodSeconds)
		q := quat.Mul(quat.Mul(quat.Mul(prec, precAngle), spin), spinAngle)
		bore[k] = instrument.Normalize(q)
	}
	return times, bore
}

// Finalize has nothing to flush.
func (s *SimSatellite) Finalize(context.Context, *data.Data) error {
	return s.BeginFinalize()
}
