package capability

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrUnavailable means a capability cannot be invoked at all.
	ErrUnavailable = errors.New("capability unavailable")
	// ErrInvocationFailed means a capability was invoked but failed for this input.
	ErrInvocationFailed = errors.New("capability invocation failed")
)

// Error wraps backend errors with the capability kind and status metadata.
type Error struct {
	Kind      Kind
	Backend   string
	Status    int
	Temporary bool
	Err       error

	unavailable bool
}

func (e *Error) Error() string {
	if e == nil {
		return "capability error"
	}
	prefix := string(e.Kind)
	if e.Backend != "" {
		prefix = fmt.Sprintf("%s/%s", e.Kind, e.Backend)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return fmt.Sprintf("%s: error (status=%d)", prefix, e.Status)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports the sentinel kind of the error.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrUnavailable:
		return e.unavailable
	case ErrInvocationFailed:
		return !e.unavailable
	}
	return false
}

// Unavailable builds an error for a capability that cannot be invoked.
func Unavailable(kind Kind, backend string, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Err: err, unavailable: true}
}

// InvocationFailed builds an error for a failed call.
func InvocationFailed(kind Kind, backend string, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Err: err}
}

// WithStatus records the provider HTTP status on the error.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// IsTransient reports whether an error is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var capErr *Error
	if errors.As(err, &capErr) {
		if capErr.Temporary {
			return true
		}
		if capErr.Status == 429 || (capErr.Status >= 500 && capErr.Status <= 599) {
			return true
		}
	}
	return false
}
