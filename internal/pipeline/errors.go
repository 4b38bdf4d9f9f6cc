package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrClassifierStateMismatch means the classifier predicts labels the
	// registry does not have. The pipeline refuses further work until it is
	// rebuilt.
	ErrClassifierStateMismatch = errors.New("classifier state does not match class registry")
	// ErrEnrollmentIO marks an enrollment image that could not be read or decoded
	ErrEnrollmentIO = errors.New("enrollment image unreadable")
	// ErrUnknownLabel is returned when enrolling a label not in the registry
	ErrUnknownLabel = errors.New("unknown label")
	// ErrEmptyName is returned when adding an identity without a name
	ErrEmptyName = errors.New("identity name is empty")
	// ErrNoEnrollmentImages is returned when no image produced an embedding
	ErrNoEnrollmentImages = errors.New("no usable enrollment images")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("pipeline closed")
)

// StateMismatchError describes a classifier/registry disagreement
type StateMismatchError struct {
	Label      int  // offending predicted label
	Predicted  bool // false when the class count is the problem
	NumClasses int
	Registry   int
}

func (e *StateMismatchError) Error() string {
	if e.Predicted {
		return fmt.Sprintf("%v: label %d with %d registered names", ErrClassifierStateMismatch, e.Label, e.Registry)
	}
	return fmt.Sprintf("%v: %d classes with %d registered names", ErrClassifierStateMismatch, e.NumClasses, e.Registry)
}

func (e *StateMismatchError) Unwrap() error { return ErrClassifierStateMismatch }
