package ops

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/telesim/internal/data"
)

var (
	// ErrFinalized is returned when an operator is used after Finalize.
	ErrFinalized = errors.New("operator already finalized")
	// ErrNotExecuted is returned by Finalize before any Exec.
	ErrNotExecuted = errors.New("operator finalized before exec")
)

// Operator is a unit of pipeline work over a data container.
type Operator interface {
	// Name is the configuration key of the operator instance.
	Name() string
	// Exec processes the detectors in sel. A nil selection means every
	// detector.
	Exec(ctx context.Context, d *data.Data, sel Selection) error
	// Finalize runs once after every Exec pass.
	Finalize(ctx context.Context, d *data.Data) error
}

// Selection restricts an Exec call to a set of detectors. Nil selects all.
type Selection []string

// All reports whether the selection covers every detector.
func (s Selection) All() bool { return s == nil }

// Contains reports whether det is selected.
func (s Selection) Contains(det string) bool {
	if s == nil {
		return true
	}
	for _, d := range s {
		if d == det {
			return true
		}
	}
	return false
}

// Filter returns the members of dets that are selected, keeping their order.
func (s Selection) Filter(dets []string) []string {
	if s == nil {
		return dets
	}
	out := make([]string, 0, len(dets))
	for _, d := range dets {
		if s.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}

// Intersect narrows s by other. Either side may be nil.
func (s Selection) Intersect(other Selection) Selection {
	if other == nil {
		return s
	}
	if s == nil {
		return other
	}
	return Selection(s.Filter(other))
}

// State is the lifecycle stage of an operator.
type State int

const (
	Unexecuted State = iota
	Executed
	Finalized
)

func (s State) String() string {
	switch s {
	case Unexecuted:
		return "unexecuted"
	case Executed:
		return "executed"
	case Finalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Lifecycle tracks the state of one operator. Operators embed it and call
// BeginExec and BeginFinalize on entry.
type Lifecycle struct {
	state State
}

// State returns the current stage.
func (l *Lifecycle) State() State { return l.state }

// BeginExec admits an Exec call.
func (l *Lifecycle) BeginExec() error {
	if l.state == Finalized {
		return ErrFinalized
	}
	l.state = Executed
	return nil
}

// BeginFinalize admits the Finalize call.
func (l *Lifecycle) BeginFinalize() error {
	switch l.state {
	case Unexecuted:
		return ErrNotExecuted
	case Finalized:
		return ErrFinalized
	}
	l.state = Finalized
	return nil
}
