package quant

import "errors"

// Sentinel errors returned by the package. Returned errors wrap these, so
// check them with errors.Is.
var (
	// ErrInvalidInput is returned when a pixel buffer is empty or unreadable.
	ErrInvalidInput = errors.New("invalid pixel buffer")

	// ErrEmptyPalette is returned when no palette color survives pruning.
	ErrEmptyPalette = errors.New("palette is empty after pruning")

	// ErrCancelled is returned when work stops because cancellation was
	// requested. It is a normal outcome, not a failure.
	ErrCancelled = errors.New("quantization cancelled")

	// ErrWorkerFault is returned when a worker hits an unexpected fault.
	ErrWorkerFault = errors.New("worker fault")

	// ErrJobReused is returned when Run is called on a job that already ran.
	ErrJobReused = errors.New("job already started")

	// ErrInvalidTransition is returned for a phase change the job does not allow.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrUnknownColorSpace is returned by ParseColorSpace.
	ErrUnknownColorSpace = errors.New("unknown color space")
)
