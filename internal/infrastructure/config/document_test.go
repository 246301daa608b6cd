package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/GriffinCanCode/telesim/internal/shared/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type satParams struct {
	NumObservations    int     `toml:"num_observations"`
	ObservationSeconds float64 `toml:"observation_seconds"`
	Label              string  `toml:"label"`
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDecodeFormats(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		body   string
	}{
		{
			name:   "toml",
			format: FormatTOML,
			body: `
[pipeline]
operators = ["sim"]

[operators.sim]
class = "sim_satellite"
num_observations = 3
observation_seconds = 60
`,
		},
		{
			name:   "yaml",
			format: FormatYAML,
			body: `
pipeline:
  operators: [sim]
operators:
  sim:
    class: sim_satellite
    num_observations: 3
    observation_seconds: 60
`,
		},
		{
			name:   "json",
			format: FormatJSON,
			body:   `{"pipeline": {"operators": ["sim"]}, "operators": {"sim": {"class": "sim_satellite", "num_observations": 3, "observation_seconds": 60}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Decode(tt.format, []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, []string{"sim"}, doc.Pipeline.Operators)
			require.Contains(t, doc.Operators, "sim")
			assert.Equal(t, "sim_satellite", doc.Operators["sim"][ClassKey])

			var p satParams
			require.NoError(t, DecodeParams("sim", doc.Operators["sim"], &p))
			assert.Equal(t, 3, p.NumObservations)
			assert.Equal(t, 60.0, p.ObservationSeconds)
		})
	}
}

func TestDecodeParamsRejectsUnknownKeys(t *testing.T) {
	var p satParams
	err := DecodeParams("sim", Section{"class": "x", "num_observatons": 2}, &p)

	var cerr *faults.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "sim", cerr.Component)
	assert.Contains(t, cerr.Reason, "num_observatons")
}

func TestDecodeParamsRejectsWrongType(t *testing.T) {
	var p satParams
	err := DecodeParams("sim", Section{"num_observations": "many"}, &p)
	var cerr *faults.ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestEncodeParamsRoundTrip(t *testing.T) {
	sec, err := EncodeParams("sim_satellite", satParams{NumObservations: 2, ObservationSeconds: 1.5, Label: "x"})
	require.NoError(t, err)
	assert.Equal(t, "sim_satellite", sec[ClassKey])

	var p satParams
	require.NoError(t, DecodeParams("sim", sec, &p))
	assert.Equal(t, satParams{NumObservations: 2, ObservationSeconds: 1.5, Label: "x"}, p)
}

func TestMergeAndSet(t *testing.T) {
	base := NewDocument()
	base.Operators["sim"] = Section{"class": "sim_satellite", "num_observations": int64(1), "label": "a"}
	base.Pipeline.Operators = []string{"sim"}

	over := NewDocument()
	over.Operators["sim"] = Section{"num_observations": int64(5)}
	over.Pipeline.DetectorSets = [][]string{{"A"}, {"B"}}
	base.Merge(over)

	assert.Equal(t, int64(5), base.Operators["sim"]["num_observations"])
	assert.Equal(t, "a", base.Operators["sim"]["label"])
	assert.Equal(t, []string{"sim"}, base.Pipeline.Operators)
	assert.Len(t, base.Pipeline.DetectorSets, 2)

	require.NoError(t, base.ApplySet("sim.num_observations=7"))
	require.NoError(t, base.ApplySet("sim.label = plain words"))
	require.NoError(t, base.ApplySet(`sim.ratio=0.25`))
	assert.Equal(t, int64(7), base.Operators["sim"]["num_observations"])
	assert.Equal(t, "plain words", base.Operators["sim"]["label"])
	assert.Equal(t, 0.25, base.Operators["sim"]["ratio"])

	assert.Error(t, base.ApplySet("missing.key=1"))
	assert.Error(t, base.ApplySet("novalue"))
	assert.Error(t, base.ApplySet("nodot=1"))
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, int64(3), ParseValue("3"))
	assert.Equal(t, true, ParseValue("true"))
	assert.Equal(t, "quoted", ParseValue(`"quoted"`))
	assert.Equal(t, "ALL", ParseValue("ALL"))
	assert.Equal(t, []any{int64(1), int64(2)}, ParseValue("[1, 2]"))
}

func TestLoadGlobsAndDump(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "conf/10-base.toml", `
[operators.sim]
class = "sim_satellite"
num_observations = 1
label = "base"
`)
	writeFile(t, dir, "conf/20-override.yaml", `
operators:
  sim:
    num_observations: 4
`)
	writeFile(t, dir, "extra/late.json", `{"operators": {"noise": {"class": "noise_model"}}}`)

	doc, files, err := Load(filepath.Join(dir, "conf", "*"), filepath.Join(dir, "**", "*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 3)
	assert.Equal(t, []string{"noise", "sim"}, doc.Names())

	var p satParams
	require.NoError(t, DecodeParams("sim", doc.Operators["sim"], &p))
	assert.Equal(t, 4, p.NumObservations)
	assert.Equal(t, "base", p.Label)

	out := filepath.Join(dir, "effective.toml")
	require.NoError(t, doc.Dump(out))
	back, err := ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, doc.Names(), back.Names())
	require.NoError(t, DecodeParams("sim", back.Operators["sim"], &p))
	assert.Equal(t, 4, p.NumObservations)
}

func TestLoadNoMatch(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "*.toml"))
	var cerr *faults.ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ops/b/noise.yml", "operators:\n  noise:\n    class: noise_model\n")
	writeFile(t, dir, "ops/a.toml", "[operators.sim]\nclass = \"sim_satellite\"\n")
	writeFile(t, dir, "ops/README.md", "not a document")

	doc, files, err := Load(filepath.Join(dir, "ops"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "ops", "a.toml"),
		filepath.Join(dir, "ops", "b", "noise.yml"),
	}, files)
	assert.Equal(t, []string{"noise", "sim"}, doc.Names())
}

func TestReadFileSniffsFormat(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "from-json", `{"pipeline": {"operators": ["sim"]}, "operators": {"sim": {"class": "sim_satellite", "num_observations": 2}}}`)
	writeFile(t, dir, "from-toml", "[pipeline]\noperators = [\"sim\"]\n")

	doc, err := ReadFile(filepath.Join(dir, "from-json"))
	require.NoError(t, err)
	assert.Equal(t, []string{"sim"}, doc.Pipeline.Operators)
	assert.Equal(t, int64(2), doc.Operators["sim"]["num_observations"])

	doc, err = ReadFile(filepath.Join(dir, "from-toml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"sim"}, doc.Pipeline.Operators)
}
