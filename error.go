package osql

import (
	"errors"
	"fmt"
)

// ErrorCode classifies structural failures of the session core. Transaction-semantic
// failures never travel through these; they go through the completion Errstat.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	// DuplicateRequest is an identity collision on create/insert. Recoverable by the
	// caller (replace or retry), never fatal.
	DuplicateRequest
	// NotFound is a lookup or delivery for an unknown identity. Expected under
	// normal session-teardown races.
	NotFound
	// AlreadyHandled means termination or completion was attempted on a session that
	// already progressed past that point. Callers treat it as a success no-op.
	AlreadyHandled
	// LockFailure is a locking or invariant failure; fatal to the current operation,
	// which is left fully unapplied.
	LockFailure
)

// Error is the osql custom error carrying a code from the taxonomy above.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e Error) Error() string {
	return fmt.Sprintf("osql error %d: %v", e.Code, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the given code.
func NewError(code ErrorCode, err error) Error {
	return Error{Code: code, Err: err}
}

// Errorf formats a new Error with the given code.
func Errorf(code ErrorCode, format string, args ...any) Error {
	return Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// IsCode reports whether err is an osql Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.Code == code
}
