package session

import "errors"

// Local validation failures, detected before any network call.
var ErrPasswordRequired = errors.New("password required")

// ErrRejoinFailed is returned when the routing target vanished between the
// server accepting the join and the roster registration.
var ErrRejoinFailed = errors.New("rejoin failed")

// Error is the user-facing failure shape: a short message, an optional full
// diagnostic underneath, and whether retrying can possibly help. The UI must
// not offer a retry action when CanRetry is false.
type Error struct {
	Msg      string
	CanRetry bool
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Diag returns the full diagnostic string, or "" when there is none.
func (e *Error) Diag() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Retryable reports the CanRetry flag of err, defaulting to true for errors
// that do not carry one.
func Retryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.CanRetry
	}
	return true
}
