package compass

import "github.com/pkg/errors"

// Error kinds raised by the runtime module. All argument validation errors
// surface before any driver-side mutation happens, so a failed call never
// leaves the device session partially updated. Match with errors.Is.
var (
	// ErrArgumentCountMismatch: an operation received a different number of
	// tensor arguments than the loaded executable expects.
	ErrArgumentCountMismatch = errors.New("arguments count mismatched")

	// ErrArgumentTypeMismatch: a tensor argument's dtype differs from the
	// parameter descriptor at the same position.
	ErrArgumentTypeMismatch = errors.New("argument dtype mismatched")

	// ErrArgumentSizeMismatch: a tensor argument's byte size differs from the
	// parameter descriptor at the same position.
	ErrArgumentSizeMismatch = errors.New("argument size mismatched")

	// ErrInvalidTensorLayout: a tensor argument is not a simple contiguous
	// scalar element array (non-contiguous, nonzero byte offset, or lanes != 1).
	ErrInvalidTensorLayout = errors.New("tensor is not a contiguous zero-offset scalar array")

	// ErrIndexOutOfRange: a parameter or output index is negative or past the
	// end of the descriptor list.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrUnknownOperation: Call was given a name no operation is registered
	// under. Module.GetFunction reports this condition as (nil, false) instead,
	// so hosts can probe for optional operations.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrFatalLoad: deserializing a module record failed. Non-recoverable: no
	// partially constructed module is returned, since running with a corrupt
	// identity risks addressing device memory incorrectly.
	ErrFatalLoad = errors.New("failed to load module from binary")
)
