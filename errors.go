package questauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/lifequest/questauth/refresh"
)

var (
	// ErrInvalidCredentials reports that login was rejected by the server.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNetwork wraps transport-level failures.
	ErrNetwork = errors.New("network error")
	// ErrBuilderUsed is returned when Build is called twice on one Builder.
	ErrBuilderUsed = errors.New("questauth: builder already used")
	// ErrClientClosed is returned by operations on a closed Client.
	ErrClientClosed = errors.New("questauth: client closed")

	// ErrAuthExpired is the original 401, observable only when recovery failed.
	ErrAuthExpired = refresh.ErrAuthExpired
	// ErrRefreshFailed reports the refresh call could not produce a new token.
	ErrRefreshFailed = refresh.ErrRefreshFailed
	// ErrNoRefreshToken is a refresh failure caused by an empty refresh slot.
	ErrNoRefreshToken = refresh.ErrNoRefreshToken
	// ErrSessionClosed is a refresh failure caused by logout or re-login.
	ErrSessionClosed = refresh.ErrSessionClosed
	// ErrAlreadyRetried reports that a replayed request was rejected again.
	ErrAlreadyRetried = refresh.ErrAlreadyRetried
)

// AuthFailure is the terminal error for a request whose authentication could
// not be recovered.
type AuthFailure = refresh.AuthFailure

// APIError is a non-2xx response other than a recovered 401.
type APIError struct {
	StatusCode int
	// Detail is the server's {"detail": ...} message, if any.
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api error: %d %s", e.StatusCode, e.Detail)
}

// transportError maps an error from the pipeline client onto the public
// taxonomy. Authentication failures and context errors pass through.
func transportError(err error) error {
	if err == nil {
		return nil
	}
	var af *refresh.AuthFailure
	if errors.As(err, &af) {
		return af
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}
