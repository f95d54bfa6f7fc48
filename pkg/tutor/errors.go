package tutor

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingContext is returned when a question is sent before a part has
	// been selected. It is a precondition failure: no status is emitted and
	// no network call is made.
	ErrMissingContext = errors.New("tutor: no part selected")

	// ErrNetwork matches every [*NetworkError] via errors.Is.
	ErrNetwork = errors.New("tutor: network error")

	// ErrSuperseded is returned by a question that was cancelled because a
	// newer question started under [PolicySupersede]. Superseded questions
	// emit no terminal status and trigger no playback.
	ErrSuperseded = errors.New("tutor: superseded by a newer question")
)

// NetworkError reports a failed exchange with the tutor backend: a dial or
// timeout error, a non-2xx status, or a response body that could not be read
// or parsed. The exchange is never retried.
type NetworkError struct {
	// Op names the failing step ("post", "status", "read", "decode", or
	// "breaker" when the circuit breaker rejected the call).
	Op string

	// StatusCode is the HTTP status when the server answered, 0 otherwise.
	StatusCode int

	// Err is the underlying cause. May be nil for a bare status failure.
	Err error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("tutor: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("tutor: %s: status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("tutor: %s: %v", e.Op, e.Err)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is reports whether target is [ErrNetwork].
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }
