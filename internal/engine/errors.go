package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrHydration matches every failure to load the actor's roles
	ErrHydration = errors.New("role hydration failed")

	// ErrNilUser is returned when a check is made without an actor
	ErrNilUser = errors.New("user cannot be nil")

	// ErrNilHydrator is returned by New without a role source
	ErrNilHydrator = errors.New("hydrator cannot be nil")
)

// HydrationError reports that roles could not be loaded for a user. It
// matches ErrHydration and unwraps to the underlying cause, including
// context.Canceled and context.DeadlineExceeded.
type HydrationError struct {
	UserID string
	Err    error
}

func (e *HydrationError) Error() string {
	return fmt.Sprintf("%v for user %q: %v", ErrHydration, e.UserID, e.Err)
}

func (e *HydrationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrHydration
func (e *HydrationError) Is(target error) bool {
	return target == ErrHydration
}
