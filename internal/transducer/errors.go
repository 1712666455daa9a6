package transducer

import "errors"

// Sentinel errors for the input-certification boundary. Failures are
// reported before any computation starts; a forward or backward call
// either returns fully populated tensors or fails atomically.
var (
	// ErrInvalidShape reports a dimensionality or length-consistency
	// violation between the input tensors.
	ErrInvalidShape = errors.New("transducer: invalid shape")

	// ErrInvalidType reports a wrong element type, a non-contiguous
	// layout, or a device mismatch between the score tensors.
	ErrInvalidType = errors.New("transducer: invalid type")

	// ErrDegenerate reports an example whose lattice is ill-defined:
	// a negative label length, a non-positive input length, or an input
	// too short to emit the label sequence. The whole batch call fails;
	// partial-batch failure would complicate the gradient contract.
	ErrDegenerate = errors.New("transducer: degenerate example")
)
