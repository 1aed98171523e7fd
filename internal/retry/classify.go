package retry

import "strings"

// Class buckets a dispatch error for the state machine.
type Class int

const (
	// ClassTransient errors are retried with backoff until attempts run out.
	ClassTransient Class = iota
	// ClassPermanent errors terminate delivery immediately.
	ClassPermanent
	// ClassInvalidToken is permanent and additionally deactivates the
	// recipient's device registration.
	ClassInvalidToken
)

var tokenMarkers = []string{
	"invalid token",
	"invalid device token",
	"bad device token",
	"unregistered",
	"not registered",
	"token expired",
	"expired token",
}

var permanentMarkers = []string{
	"malformed payload",
	"invalid payload",
	"payload too large",
}

// Classify buckets a reported dispatch error. Errors carrying an explicit
// retryability marker (RetryableError) are honored first; otherwise the
// message is matched against known gateway error shapes. Unknown errors
// default to transient.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range tokenMarkers {
		if strings.Contains(msg, marker) {
			return ClassInvalidToken
		}
	}

	type retryable interface{ IsRetryable() bool }
	if r, ok := err.(retryable); ok && !r.IsRetryable() {
		return ClassPermanent
	}

	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return ClassPermanent
		}
	}
	return ClassTransient
}

// RetryableError wraps an error with an explicit retryability decision,
// letting the transport boundary pre-classify gateway responses.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string { return e.Err.Error() }

// IsRetryable reports whether the wrapped error should be retried.
func (e *RetryableError) IsRetryable() bool { return e.Retryable }

func (e *RetryableError) Unwrap() error { return e.Err }

// NewRetryableError marks err as transient.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError marks err as permanent.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
