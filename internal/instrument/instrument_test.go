package instrument

import (
	"math"
	"testing"

	"github.com/GriffinCanCode/telesim/internal/shared/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexRings(t *testing.T) {
	tests := []struct {
		npix int
		want int
	}{
		{npix: 1, want: 0},
		{npix: 7, want: 1},
		{npix: 19, want: 2},
		{npix: 37, want: 3},
		{npix: 0, want: -1},
		{npix: 2, want: -1},
		{npix: 8, want: -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HexRings(tt.npix), "npix=%d", tt.npix)
	}
}

func TestFakeHexagon(t *testing.T) {
	cfg := DefaultHexagon()
	cfg.NPix = 19
	fp, err := FakeHexagon(cfg)
	require.NoError(t, err)

	assert.Equal(t, 38, fp.Len())
	assert.Len(t, fp.Pixels(), 19)
	names := fp.Names()
	assert.Equal(t, "D000A", names[0])
	assert.Equal(t, "D000B", names[1])
	assert.Equal(t, "D018B", names[37])

	a, ok := fp.Get("D003A")
	require.True(t, ok)
	b, ok := fp.Get("D003B")
	require.True(t, ok)
	assert.Equal(t, 3, a.Pixel)
	assert.Equal(t, 90.0, b.PolAngle-a.PolAngle)
	assert.InDelta(t, 1.0, quatNorm(a), 1e-12)

	// Both detectors of a pixel look in the same direction.
	da, db := Rotate(a.Quat, ZAxis), Rotate(b.Quat, ZAxis)
	for i := range da {
		assert.InDelta(t, da[i], db[i], 1e-12)
	}

	// The first pixel of the outer ring sits half the width from the center.
	edge, _ := fp.Get("D007A")
	dir := Rotate(edge.Quat, ZAxis)
	off := math.Acos(dir[2]) * 180 / math.Pi
	assert.InDelta(t, cfg.WidthDeg/2, off, 1e-9)
}

func TestFakeHexagonCenterIsBoresight(t *testing.T) {
	cfg := DefaultHexagon()
	cfg.NPix = 1
	fp, err := FakeHexagon(cfg)
	require.NoError(t, err)
	require.Equal(t, 2, fp.Len())

	d, _ := fp.Get("D000A")
	dir := Rotate(d.Quat, ZAxis)
	assert.InDelta(t, 1.0, dir[2], 1e-12)
}

func TestFakeHexagonRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*HexagonConfig)
	}{
		{name: "not hexagonal", mutate: func(c *HexagonConfig) { c.NPix = 10 }},
		{name: "zero width", mutate: func(c *HexagonConfig) { c.WidthDeg = 0 }},
		{name: "zero rate", mutate: func(c *HexagonConfig) { c.SampleRate = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultHexagon()
			tt.mutate(&cfg)
			_, err := FakeHexagon(cfg)
			var cerr *faults.ConfigurationError
			assert.ErrorAs(t, err, &cerr)
		})
	}
}

func TestNewFocalplaneRejectsDuplicates(t *testing.T) {
	_, err := NewFocalplane(1, []Detector{{Name: "a"}, {Name: "a"}})
	assert.Error(t, err)
	_, err = NewFocalplane(0, nil)
	assert.Error(t, err)
}

func TestRotation(t *testing.T) {
	q := Rotation(ZAxis, math.Pi/2)
	v := Rotate(q, XAxis)
	assert.InDelta(t, 0.0, v[0], 1e-12)
	assert.InDelta(t, 1.0, v[1], 1e-12)
	assert.InDelta(t, 0.0, v[2], 1e-12)

	assert.Equal(t, 1.0, Rotation(Vec3{}, 1).Real)
}

func quatNorm(d Detector) float64 {
	q := d.Quat
	return math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}
