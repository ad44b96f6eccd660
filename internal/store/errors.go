package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key, record or action does not exist
	// (or existed but has expired).
	ErrNotFound = errors.New("not found")

	// ErrExists is returned by Add when the key is already present.
	ErrExists = errors.New("already exists")

	// ErrUnknownCollection is returned for collection names outside the schema.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrIllegalTransition is returned when a queued action status change
	// would violate the state machine (e.g. leaving synced).
	ErrIllegalTransition = errors.New("illegal status transition")
)

// InitError reports that the database could not be opened or initialized.
// Callers usually degrade to OpenOrMemory.
type InitError struct {
	Path string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("storage init %s: %v", e.Path, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// IsInitError reports whether err is a storage initialization failure.
func IsInitError(err error) bool {
	var ie *InitError
	return errors.As(err, &ie)
}
