package data

import (
	"hash/fnv"

	"github.com/GriffinCanCode/telesim/internal/instrument"
	"github.com/GriffinCanCode/telesim/internal/mpi"
	"github.com/GriffinCanCode/telesim/internal/shared/id"
	"gonum.org/v1/gonum/num/quat"
)

// Block is a contiguous range of items assigned to one participant.
type Block struct {
	First int
	Count int
}

// Distribute splits total items into parts contiguous blocks. The first
// total%parts blocks carry one extra item.
func Distribute(total, parts int) []Block {
	if parts < 1 {
		return nil
	}
	base, extra := total/parts, total%parts
	out := make([]Block, parts)
	first := 0
	for i := range out {
		n := base
		if i < extra {
			n++
		}
		out[i] = Block{First: first, Count: n}
		first += n
	}
	return out
}

// Observation is one scanning interval of detector samples, owned by a single
// process group.
type Observation struct {
	ID   id.ObservationID
	Name string
	// UID is a stable hash of Name used to seed per-observation streams.
	UID uint64

	Group     int
	GroupComm mpi.Communicator

	// Telescope is the instrument that produced the observation, if known.
	Telescope *instrument.Telescope

	Detectors  []string
	Samples    int
	SampleRate float64

	// Shared buffers, identical on every rank of the group.
	Times     []float64
	Boresight []quat.Number

	// DetData maps field name to detector name to samples. Only local
	// detectors are present.
	DetData map[string]map[string][]float64

	Meta map[string]any
}

// NewObservation creates an observation owned by group. Sample buffers are
// allocated lazily by the operators that fill them.
func NewObservation(run id.RunID, name string, group int, groupComm mpi.Communicator, detectors []string, samples int, rate float64) *Observation {
	dets := make([]string, len(detectors))
	copy(dets, detectors)
	return &Observation{
		ID:         id.ObservationFor(run, name),
		Name:       name,
		UID:        NameUID(name),
		Group:      group,
		GroupComm:  groupComm,
		Detectors:  dets,
		Samples:    samples,
		SampleRate: rate,
		DetData:    make(map[string]map[string][]float64),
		Meta:       make(map[string]any),
	}
}

// NameUID returns the 32-bit FNV-1a hash of name, widened to 64 bits.
func NameUID(name string) uint64 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return uint64(h.Sum32())
}

// LocalDetectors returns the detectors assigned to this rank of the group.
func (o *Observation) LocalDetectors() []string {
	rank, size := 0, 1
	if o.GroupComm != nil {
		rank, size = o.GroupComm.Rank(), o.GroupComm.Size()
	}
	b := Distribute(len(o.Detectors), size)[rank]
	return o.Detectors[b.First : b.First+b.Count]
}

// IsLocal reports whether det is assigned to this rank.
func (o *Observation) IsLocal(det string) bool {
	for _, d := range o.LocalDetectors() {
		if d == det {
			return true
		}
	}
	return false
}

// DetectorIndex returns the position of det in the detector list, or -1.
func (o *Observation) DetectorIndex(det string) int {
	for i, d := range o.Detectors {
		if d == det {
			return i
		}
	}
	return -1
}

// EnsureDetData returns the buffers of field, allocating zeroed samples for
// every local detector that has none.
func (o *Observation) EnsureDetData(field string) map[string][]float64 {
	buf, ok := o.DetData[field]
	if !ok {
		buf = make(map[string][]float64)
		o.DetData[field] = buf
	}
	for _, det := range o.LocalDetectors() {
		if _, ok := buf[det]; !ok {
			buf[det] = make([]float64, o.Samples)
		}
	}
	return buf
}

// DetectorData returns the samples of det in field.
func (o *Observation) DetectorData(field, det string) ([]float64, bool) {
	buf, ok := o.DetData[field]
	if !ok {
		return nil, false
	}
	samples, ok := buf[det]
	return samples, ok
}
