package domain

import "errors"

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrAgentBusy       = errors.New("agent busy")
	ErrInternal        = errors.New("internal error")
)

// UnrecoverableError marks a failure the queue must never retry, such as
// an unknown operation kind or a handler timeout. The queue adapter
// translates it into its skip-retry mechanism.
type UnrecoverableError struct {
	Err error
}

func (e *UnrecoverableError) Error() string { return e.Err.Error() }

func (e *UnrecoverableError) Unwrap() error { return e.Err }

// Unrecoverable wraps err so IsUnrecoverable recognises it. A nil err
// stays nil.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &UnrecoverableError{Err: err}
}

// IsUnrecoverable reports whether any error in the chain is marked
// unrecoverable.
func IsUnrecoverable(err error) bool {
	var ue *UnrecoverableError
	return errors.As(err, &ue)
}
