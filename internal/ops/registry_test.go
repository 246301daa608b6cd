package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/telesim/internal/infrastructure/config"
	"github.com/GriffinCanCode/telesim/internal/shared/faults"
)

func TestDefaultsDocument(t *testing.T) {
	reg := DefaultRegistry()
	doc := reg.Defaults()

	assert.Equal(t, DefaultPipelineName, doc.Pipeline.Name)
	assert.Equal(t, []string{SimSatelliteClass, NoiseModelClass, SimNoiseClass}, doc.Pipeline.Operators)
	assert.Equal(t, reg.Classes(), doc.Pipeline.Operators)

	sat := doc.Operators[SimSatelliteClass]
	assert.Equal(t, SimSatelliteClass, sat[config.ClassKey])
	assert.EqualValues(t, 1, sat["num_observations"])
	assert.EqualValues(t, 600, sat["observation_seconds"])
	assert.Equal(t, "signal", doc.Operators[SimNoiseClass]["det_data"])
}

func TestBuildFromDefaults(t *testing.T) {
	tele := testTelescope(t)
	p, err := DefaultRegistry().Build(DefaultRegistry().Defaults(), Bindings{Telescope: tele})
	require.NoError(t, err)

	assert.Equal(t, DefaultPipelineName, p.Name())
	require.Len(t, p.Operators(), 3)
	assert.Equal(t, SimSatelliteClass, p.Operators()[0].Name())
	assert.IsType(t, &SimNoise{}, p.Operators()[2])
	assert.True(t, p.DetectorSets().IsAll())
}

func TestBuildOverrides(t *testing.T) {
	reg := DefaultRegistry()
	doc := reg.Defaults()
	require.NoError(t, doc.ApplySet("sim_satellite.num_observations=4"))
	require.NoError(t, doc.ApplySet("sim_noise.realization=3"))
	doc.Pipeline.DetectorSets = [][]string{{"D000A"}, {"D000B"}}

	p, err := reg.Build(doc, Bindings{Telescope: testTelescope(t)})
	require.NoError(t, err)
	assert.Equal(t, 4, p.Operators()[0].(*SimSatellite).params.NumObservations)
	assert.Equal(t, 3, p.Operators()[2].(*SimNoise).params.Realization)
	assert.Len(t, p.DetectorSets().Passes(), 2)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(doc *config.Document)
		want   string
	}{
		{
			name:   "unknown parameter",
			mutate: func(doc *config.Document) { doc.Operators[SimNoiseClass]["bogus"] = int64(1) },
			want:   "bogus",
		},
		{
			name:   "wrong type",
			mutate: func(doc *config.Document) { doc.Operators[SimNoiseClass]["realization"] = "three" },
			want:   "malformed",
		},
		{
			name:   "unknown class",
			mutate: func(doc *config.Document) { doc.Operators["extra"] = config.Section{config.ClassKey: "nope"} },
			want:   `unknown operator class "nope"`,
		},
		{
			name:   "missing class",
			mutate: func(doc *config.Document) { doc.Operators["extra"] = config.Section{"x": int64(1)} },
			want:   "missing",
		},
		{
			name:   "unconfigured operator",
			mutate: func(doc *config.Document) { doc.Pipeline.Operators = append(doc.Pipeline.Operators, "ghost") },
			want:   `"ghost" is not configured`,
		},
		{
			name:   "no operators",
			mutate: func(doc *config.Document) { doc.Pipeline.Operators = nil },
			want:   "no operators",
		},
		{
			name:   "overlapping sets",
			mutate: func(doc *config.Document) { doc.Pipeline.DetectorSets = [][]string{{"D000A"}, {"D000A"}} },
			want:   "D000A",
		},
		{
			name:   "bad parameter value",
			mutate: func(doc *config.Document) { doc.Operators[NoiseModelClass]["n_freq"] = int64(1) },
			want:   "n_freq",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := DefaultRegistry()
			doc := reg.Defaults()
			tt.mutate(doc)

			_, err := reg.Build(doc, Bindings{Telescope: testTelescope(t)})
			var cfgErr *faults.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Error(), tt.want)
		})
	}
}

func TestSimSatelliteNeedsTelescope(t *testing.T) {
	reg := DefaultRegistry()
	_, err := reg.Build(reg.Defaults(), Bindings{})
	var cfgErr *faults.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, SimSatelliteClass, cfgErr.Component)
}

func TestRegisterTwicePanics(t *testing.T) {
	reg := DefaultRegistry()
	assert.Panics(t, func() {
		reg.Register(SimNoiseClass, newSimNoise, func() any { return DefaultSimNoiseParams() })
	})
}
