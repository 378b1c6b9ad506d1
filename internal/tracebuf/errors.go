package tracebuf

import (
	"errors"
	"fmt"
)

var (
	// ErrEmpty is returned by a non-blocking read when no event is
	// available. It is a terminal result, not a failure.
	ErrEmpty = errors.New("trace buffer empty")

	// ErrInterrupted is returned when a blocking operation is cancelled
	// through its context. Nothing was consumed; the call may be retried.
	ErrInterrupted = errors.New("trace buffer read interrupted")

	// ErrDropped is returned by writes that did not fit in their lane. The
	// event is counted in Lost.
	ErrDropped = errors.New("trace event dropped")

	// ErrClosed is returned by every operation on a closed buffer.
	ErrClosed = errors.New("trace buffer closed")

	// ErrNoLane is returned for lane identifiers outside the buffer.
	ErrNoLane = errors.New("no such lane")

	// ErrInvalidConfig is returned by New and Resize for unusable
	// configurations.
	ErrInvalidConfig = errors.New("invalid trace buffer configuration")

	// ErrAllocation is returned by Resize when new lane storage could not be
	// allocated. The buffer keeps its previous configuration.
	ErrAllocation = errors.New("trace buffer allocation failed")
)

// AllocError reports a failed resize.
//
// AllocError matches ErrAllocation with errors.Is.
type AllocError struct {
	// Size is the per-lane capacity that was requested.
	Size int
	// Lane is the first lane whose storage could not be allocated.
	Lane int
	// Err is the allocator's error.
	Err error
}

// Error implements the error interface.
func (e *AllocError) Error() string {
	return fmt.Sprintf("%s: lane %d, %d bytes: %v", ErrAllocation, e.Lane, e.Size, e.Err)
}

// Unwrap returns the allocator's error.
func (e *AllocError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrAllocation.
func (e *AllocError) Is(target error) bool {
	return target == ErrAllocation
}

// IsRetryable reports whether err leaves the buffer untouched and the
// operation may simply be retried.
// Uses errors.Is to handle wrapped errors.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

// IsLoss reports whether err is a counted, non-fatal loss of an event.
func IsLoss(err error) bool {
	return errors.Is(err, ErrDropped)
}

func interrupted(cause error) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, cause)
}
