// Package faults defines the error kinds shared across the simulation core.
//
// Error Kinds:
//   - ConfigurationError: invalid group size, operator parameters or
//     instrument description. Raised before any collective work starts.
//   - OwnershipMismatchError: an observation routed to a container of a
//     different process group.
//   - OperatorExecutionError: an operator failure surfaced at the driver
//     boundary.
//
// All kinds are plain structs and work with errors.As.
package faults

import "fmt"

// ConfigurationError reports invalid configuration for a component.
type ConfigurationError struct {
	Component string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Reason)
}

// Configf builds a ConfigurationError with a formatted reason.
func Configf(component, format string, args ...interface{}) error {
	return &ConfigurationError{
		Component: component,
		Reason:    fmt.Sprintf(format, args...),
	}
}

// OwnershipMismatchError reports an observation that does not belong to the
// process group of the container it was handed to.
type OwnershipMismatchError struct {
	Observation string
	Group       int
	Expected    int
	Reason      string
}

func (e *OwnershipMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("observation %q (group %d) does not belong to group %d: %s",
			e.Observation, e.Group, e.Expected, e.Reason)
	}
	return fmt.Sprintf("observation %q (group %d) does not belong to group %d",
		e.Observation, e.Group, e.Expected)
}

// OperatorExecutionError wraps a failure raised inside an operator's exec or
// finalize phase.
type OperatorExecutionError struct {
	Pipeline string
	Phase    string
	Err      error
}

func (e *OperatorExecutionError) Error() string {
	return fmt.Sprintf("pipeline %s failed during %s: %v", e.Pipeline, e.Phase, e.Err)
}

func (e *OperatorExecutionError) Unwrap() error {
	return e.Err
}
