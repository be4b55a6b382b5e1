// Package maybenot implements a host-agnostic traffic-analysis defense
// framework: probabilistic state machines that observe tunnel events and
// emit padding/blocking/timer actions.
package maybenot

import "errors"

// Sentinel errors, per the engine's error taxonomy. Validation errors
// surface at construction; the running engine never fails once a Machine
// has validated.
var (
	// ErrMachineInvalid is returned when a Machine's structure or
	// distribution parameters fail validation.
	ErrMachineInvalid = errors.New("maybenot: invalid machine")
	// ErrLimitInvalid is returned when a fraction or budget parameter is
	// outside its allowed range.
	ErrLimitInvalid = errors.New("maybenot: invalid limit")
	// ErrTraceInvalid is returned when a wire-format or trace string cannot
	// be parsed.
	ErrTraceInvalid = errors.New("maybenot: invalid trace")
	// ErrOverflow is returned when a decompressed machine would exceed the
	// maximum allowed size.
	ErrOverflow = errors.New("maybenot: size limit exceeded")
)
