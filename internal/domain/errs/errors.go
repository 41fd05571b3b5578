// Package errs holds the error kinds shared by the research pipeline.
// Callers distinguish them with errors.Is.
package errs

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInputShape marks missing columns, wrong types or empty input
	// where non-empty input is required.
	ErrInputShape = errors.New("input shape error")

	// ErrOrdering marks non-monotonic timestamps or index inversions.
	ErrOrdering = errors.New("ordering error")

	// ErrNotFitted is returned when a transform runs before its fit.
	ErrNotFitted = errors.New("component not fitted")

	// ErrSingleClass is returned by classifiers that refuse to fit a
	// training set holding only one class.
	ErrSingleClass = errors.New("single-class training set")
)

// Eps replaces zero denominators in ratio features and weights.
const Eps = 1e-12

// OrderingError reports where a sequence stopped being monotonic.
type OrderingError struct {
	Position int
	Previous time.Time
	Current  time.Time
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("timestamp at position %d (%s) precedes previous %s",
		e.Position, e.Current.Format(time.RFC3339Nano), e.Previous.Format(time.RFC3339Nano))
}

// Unwrap lets errors.Is match ErrOrdering.
func (e *OrderingError) Unwrap() error {
	return ErrOrdering
}

// Shape wraps ErrInputShape with a formatted detail.
func Shape(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInputShape, fmt.Sprintf(format, args...))
}

// SingleClass wraps ErrSingleClass with the lone class seen.
func SingleClass(class int) error {
	return fmt.Errorf("%w: only class %d present", ErrSingleClass, class)
}
