package refresh

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthExpired is the original authentication failure a caller observes when
	// recovery was not possible.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrRefreshFailed reports that the refresh call could not produce a new token.
	ErrRefreshFailed = errors.New("refresh failed")
	// ErrNoRefreshToken is a refresh failure caused by an empty refresh slot.
	ErrNoRefreshToken = fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	// ErrSessionClosed is a refresh failure caused by the session ending while the
	// refresh was in flight.
	ErrSessionClosed = fmt.Errorf("%w: session closed", ErrRefreshFailed)
	// ErrAlreadyRetried reports that a replayed request was rejected again.
	ErrAlreadyRetried = errors.New("request already retried after refresh")
)

// AuthFailure is the terminal error handed to a caller whose request failed
// authentication and could not be recovered.
//
// It matches [ErrAuthExpired] and its Reason under errors.Is.
type AuthFailure struct {
	// StatusCode is the status of the rejected response (401 for HTTP).
	StatusCode int
	// Body holds the rejected response body, if any.
	Body []byte
	// Reason is ErrAlreadyRetried or an error wrapping ErrRefreshFailed.
	Reason error
	// Original is the transport error for non-HTTP transports (gRPC status).
	Original error
}

func (e *AuthFailure) Error() string {
	status := e.StatusCode
	if status == 0 {
		status = http.StatusUnauthorized
	}
	if e.Reason == nil {
		return fmt.Sprintf("%s (status %d)", ErrAuthExpired, status)
	}
	return fmt.Sprintf("%s (status %d): %v", ErrAuthExpired, status, e.Reason)
}

func (e *AuthFailure) Unwrap() []error {
	errs := []error{ErrAuthExpired}
	if e.Reason != nil {
		errs = append(errs, e.Reason)
	}
	if e.Original != nil {
		errs = append(errs, e.Original)
	}
	return errs
}
