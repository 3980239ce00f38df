package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid operation")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")

	ErrInsufficientStock   = errors.New("insufficient stock available")
	ErrReservationReleased = errors.New("reservation already released")
)

// TransitionError is returned when an order command is not legal in the
// order's current status. It matches ErrInvalidState.
type TransitionError struct {
	Op   string
	From OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s: order is %s", e.Op, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidState
}

// IsBusinessError reports whether err is an expected business-rule rejection
// rather than an infrastructure fault.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrReservationReleased)
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// NotFound builds an ErrNotFound naming the missing record.
func NotFound(kind string, key any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, kind, key)
}
