package data

import (
	"fmt"
	"iter"

	"github.com/GriffinCanCode/telesim/internal/comm"
	"github.com/GriffinCanCode/telesim/internal/mpi"
	"github.com/GriffinCanCode/telesim/internal/shared/faults"
)

// Ref names an observation known to this process. Local is false for
// placeholders of observations owned by other groups.
type Ref struct {
	Name  string
	Group int
	Local bool
}

// Data is the ordered observation container of one process.
type Data struct {
	comm  *comm.Comm
	obs   []*Observation
	refs  []Ref
	names map[string]struct{}
}

// New creates an empty container for the layout of c.
func New(c *comm.Comm) *Data {
	return &Data{
		comm:  c,
		names: make(map[string]struct{}),
	}
}

// Comm returns the communicator layout the container was built against.
func (d *Data) Comm() *comm.Comm { return d.comm }

// Append adds an observation owned by this process's group.
func (d *Data) Append(ob *Observation) error {
	if ob == nil {
		return fmt.Errorf("append: nil observation")
	}
	if ob.Group != d.comm.Group() {
		return &faults.OwnershipMismatchError{
			Observation: ob.Name,
			Group:       ob.Group,
			Expected:    d.comm.Group(),
		}
	}
	if !mpi.SameComm(ob.GroupComm, d.comm.GroupComm()) {
		return &faults.OwnershipMismatchError{
			Observation: ob.Name,
			Group:       ob.Group,
			Expected:    d.comm.Group(),
			Reason:      "group communicator differs from the container's",
		}
	}
	if err := d.claim(ob.Name); err != nil {
		return err
	}
	d.obs = append(d.obs, ob)
	d.refs = append(d.refs, Ref{Name: ob.Name, Group: ob.Group, Local: true})
	return nil
}

// AppendPlaceholder records an observation owned by another group.
func (d *Data) AppendPlaceholder(name string, group int) error {
	if group == d.comm.Group() {
		return fmt.Errorf("placeholder %q: group %d is local", name, group)
	}
	if group < 0 || group >= d.comm.NGroups() {
		return fmt.Errorf("placeholder %q: group %d out of range [0, %d)", name, group, d.comm.NGroups())
	}
	if err := d.claim(name); err != nil {
		return err
	}
	d.refs = append(d.refs, Ref{Name: name, Group: group})
	return nil
}

func (d *Data) claim(name string) error {
	if _, ok := d.names[name]; ok {
		return fmt.Errorf("observation %q already present", name)
	}
	d.names[name] = struct{}{}
	return nil
}

// ForEach applies fn in order to the local observations whose group
// satisfies pred. A nil pred matches every group. The first error from fn is
// returned unchanged.
func (d *Data) ForEach(pred func(group int) bool, fn func(*Observation) error) error {
	for _, ob := range d.obs {
		if pred != nil && !pred(ob.Group) {
			continue
		}
		if err := fn(ob); err != nil {
			return err
		}
	}
	return nil
}

// Iterate returns a sequence over the local observations. Each range over
// the sequence starts from the beginning.
func (d *Data) Iterate() iter.Seq[*Observation] {
	return func(yield func(*Observation) bool) {
		for _, ob := range d.obs {
			if !yield(ob) {
				return
			}
		}
	}
}

// Refs returns every observation known to this process in append order.
func (d *Data) Refs() []Ref {
	out := make([]Ref, len(d.refs))
	copy(out, d.refs)
	return out
}

// Len returns the number of local observations.
func (d *Data) Len() int { return len(d.obs) }

// Get returns the local observation called name.
func (d *Data) Get(name string) (*Observation, bool) {
	for _, ob := range d.obs {
		if ob.Name == name {
			return ob, true
		}
	}
	return nil, false
}

// LocalSamples returns the total sample count of the local observations.
func (d *Data) LocalSamples() int {
	n := 0
	for _, ob := range d.obs {
		n += ob.Samples
	}
	return n
}

// Clear drops every observation and placeholder.
func (d *Data) Clear() {
	d.obs = nil
	d.refs = nil
	d.names = make(map[string]struct{})
}
