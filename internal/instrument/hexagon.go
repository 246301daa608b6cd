package instrument

import (
	"fmt"
	"math"

	"github.com/GriffinCanCode/telesim/internal/shared/faults"
)

// HexagonConfig describes a synthetic hexagonal focal plane.
type HexagonConfig struct {
	NPix       int     `toml:"npix" yaml:"npix" json:"npix"`
	WidthDeg   float64 `toml:"width_deg" yaml:"width_deg" json:"width_deg"`
	SampleRate float64 `toml:"sample_rate" yaml:"sample_rate" json:"sample_rate"`
	Epsilon    float64 `toml:"epsilon" yaml:"epsilon" json:"epsilon"`
	NET        float64 `toml:"net" yaml:"net" json:"net"`
	FMin       float64 `toml:"fmin" yaml:"fmin" json:"fmin"`
	FKnee      float64 `toml:"fknee" yaml:"fknee" json:"fknee"`
	Alpha      float64 `toml:"alpha" yaml:"alpha" json:"alpha"`
}

// DefaultHexagon returns a seven pixel focal plane.
func DefaultHexagon() HexagonConfig {
	return HexagonConfig{
		NPix:       7,
		WidthDeg:   5,
		SampleRate: 10,
		NET:        1,
		FMin:       1e-5,
		FKnee:      0.05,
		Alpha:      1,
	}
}

// HexRings returns the number of rings around the center pixel of a
// hexagonal layout of npix pixels, or -1 if npix is not a hexagonal number.
func HexRings(npix int) int {
	if npix < 1 {
		return -1
	}
	for n := 0; ; n++ {
		total := 3*n*(n+1) + 1
		if total == npix {
			return n
		}
		if total > npix {
			return -1
		}
	}
}

// FakeHexagon lays out cfg.NPix pixels on a hexagonal grid spanning
// cfg.WidthDeg degrees. Each pixel carries two orthogonal detectors named
// D%03dA and D%03dB.
func FakeHexagon(cfg HexagonConfig) (*Focalplane, error) {
	rings := HexRings(cfg.NPix)
	if rings < 0 {
		return nil, faults.Configf("focalplane", "npix %d is not a hexagonal number (1, 7, 19, 37, ...)", cfg.NPix)
	}
	if cfg.WidthDeg <= 0 && cfg.NPix > 1 {
		return nil, faults.Configf("focalplane", "width_deg must be positive, got %g", cfg.WidthDeg)
	}
	if cfg.SampleRate <= 0 {
		return nil, faults.Configf("focalplane", "sample_rate must be positive, got %g", cfg.SampleRate)
	}

	spacing := 0.0
	if rings > 0 {
		spacing = cfg.WidthDeg / float64(2*rings)
	}

	dets := make([]Detector, 0, 2*cfg.NPix)
	for pix, pos := range hexPositions(rings) {
		x, y := pos[0]*spacing, pos[1]*spacing
		theta := math.Hypot(x, y) * math.Pi / 180
		phi := math.Atan2(y, x)

		for k, suffix := range []string{"A", "B"} {
			psi := float64(k) * 90
			offset := Normalize(mulAll(
				Rotation(ZAxis, phi),
				Rotation(YAxis, theta),
				Rotation(ZAxis, psi*math.Pi/180-phi),
			))
			dets = append(dets, Detector{
				Name:     fmt.Sprintf("D%03d%s", pix, suffix),
				Pixel:    pix,
				Quat:     offset,
				PolAngle: psi,
				Epsilon:  cfg.Epsilon,
				NET:      cfg.NET,
				FMin:     cfg.FMin,
				FKnee:    cfg.FKnee,
				Alpha:    cfg.Alpha,
			})
		}
	}
	return NewFocalplane(cfg.SampleRate, dets)
}

// hexPositions returns pixel centers in units of the grid spacing, center
// first, then ring by ring.
func hexPositions(rings int) [][2]float64 {
	out := [][2]float64{{0, 0}}
	// Axial directions walked around each ring.
	dirs := [6][2]int{{-1, 1}, {-1, 0}, {0, -1}, {1, -1}, {1, 0}, {0, 1}}
	for r := 1; r <= rings; r++ {
		q, s := r, 0
		for _, d := range dirs {
			for step := 0; step < r; step++ {
				x := float64(q) + float64(s)/2
				y := float64(s) * math.Sqrt(3) / 2
				out = append(out, [2]float64{x, y})
				q += d[0]
				s += d[1]
			}
		}
	}
	return out
}
