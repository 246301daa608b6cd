package instrument

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/num/quat"
)

// Detector is one detector of a focal plane.
type Detector struct {
	Name  string
	Pixel int
	// Quat rotates the boresight frame onto the detector frame.
	Quat     quat.Number
	PolAngle float64 // degrees
	Epsilon  float64 // cross-polar leakage

	// 1/f noise parameters.
	NET   float64 // K·√s
	FMin  float64 // Hz
	FKnee float64 // Hz
	Alpha float64
}

// Focalplane is an ordered set of detectors sharing a sample rate.
type Focalplane struct {
	SampleRate float64

	dets  []Detector
	index map[string]int
}

// NewFocalplane builds a focal plane. Detector names must be unique.
func NewFocalplane(rate float64, dets []Detector) (*Focalplane, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("focalplane: sample rate must be positive, got %g", rate)
	}
	fp := &Focalplane{
		SampleRate: rate,
		dets:       make([]Detector, len(dets)),
		index:      make(map[string]int, len(dets)),
	}
	copy(fp.dets, dets)
	for i, d := range fp.dets {
		if _, ok := fp.index[d.Name]; ok {
			return nil, fmt.Errorf("focalplane: duplicate detector %q", d.Name)
		}
		fp.index[d.Name] = i
	}
	return fp, nil
}

// Len returns the number of detectors.
func (fp *Focalplane) Len() int { return len(fp.dets) }

// Names returns detector names in focal-plane order.
func (fp *Focalplane) Names() []string {
	out := make([]string, len(fp.dets))
	for i, d := range fp.dets {
		out[i] = d.Name
	}
	return out
}

// Get returns the detector called name.
func (fp *Focalplane) Get(name string) (Detector, bool) {
	i, ok := fp.index[name]
	if !ok {
		return Detector{}, false
	}
	return fp.dets[i], true
}

// Pixels returns the sorted pixel indices present in the focal plane.
func (fp *Focalplane) Pixels() []int {
	seen := make(map[int]struct{})
	for _, d := range fp.dets {
		seen[d.Pixel] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Telescope pairs a focal plane with a name.
type Telescope struct {
	Name       string
	Focalplane *Focalplane
}

func (t *Telescope) String() string {
	return fmt.Sprintf("Telescope(%s, %d detectors @ %g Hz)", t.Name, t.Focalplane.Len(), t.Focalplane.SampleRate)
}
