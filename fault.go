package mcpsession

import (
	"errors"
	"fmt"
)

// Fault taxonomy surfaced by storage adapters and everything above them.
// Backend specific errors never cross the adapter boundary; they are mapped
// onto this sum before returning.
var (
	// ErrNotFound indicates no session record exists for the given id.
	ErrNotFound = errors.New("session not found")
	// ErrExists indicates a create collided with an existing record.
	ErrExists = errors.New("session already exists")
	// ErrConflict indicates an optimistic update lost a version race.
	ErrConflict = errors.New("session version conflict")
	// ErrLockHeld indicates an advisory lock is owned by another holder.
	ErrLockHeld = errors.New("lock held by another holder")
	// ErrUnavailable indicates a transient backend fault; callers may retry and
	// the circuit breaker counts it.
	ErrUnavailable = errors.New("store unavailable")
	// ErrIllegalTransition indicates a lifecycle move that violates the DAG.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Unavailable wraps a backend error as a transient fault.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnavailable, err)
}

// IsNotFound returns true if err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsUnavailable returns true if err is or wraps ErrUnavailable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// IsConflict returns true if err is or wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
