package flows

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// LoginFailureKind classifies login flow failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureInput
	LoginFailureTransport
	LoginFailureRejected
	LoginFailureStatus
	LoginFailureDecode
)

// LoginInput is the credential form posted to the login endpoint.
type LoginInput struct {
	Username string
	Password string
	Remember bool
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	Client *http.Client
	URL    string
	Now    func() time.Time
}

// LoginResult carries either the issued token pair or failure metadata.
type LoginResult struct {
	Failure    LoginFailureKind
	Err        error
	StatusCode int
	Detail     string
	Token      *oauth2.Token
}

// RunLogin posts the form-encoded credentials with the remember_me query flag.
// 400 and 401 are treated as rejected credentials.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) LoginResult {
	if strings.TrimSpace(in.Username) == "" || in.Password == "" {
		return LoginResult{Failure: LoginFailureInput}
	}

	endpoint, err := url.Parse(deps.URL)
	if err != nil {
		return LoginResult{Failure: LoginFailureInput, Err: err}
	}
	q := endpoint.Query()
	q.Set("remember_me", strconv.FormatBool(in.Remember))
	endpoint.RawQuery = q.Encode()

	form := url.Values{}
	form.Set("username", in.Username)
	form.Set("password", in.Password)

	ex, err := exchange(ctx, deps.Client, http.MethodPost, endpoint.String(),
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return LoginResult{Failure: LoginFailureTransport, Err: err, StatusCode: ex.StatusCode}
	}

	switch {
	case ex.StatusCode == http.StatusUnauthorized || ex.StatusCode == http.StatusBadRequest:
		return LoginResult{Failure: LoginFailureRejected, StatusCode: ex.StatusCode, Detail: ex.Detail()}
	case !ex.OK():
		return LoginResult{Failure: LoginFailureStatus, StatusCode: ex.StatusCode, Detail: ex.Detail()}
	}

	tok, err := decodeToken(ex.Body, now(deps.Now))
	if err != nil {
		return LoginResult{Failure: LoginFailureDecode, Err: err, StatusCode: ex.StatusCode}
	}
	return LoginResult{StatusCode: ex.StatusCode, Token: tok}
}

func now(fn func() time.Time) time.Time {
	if fn == nil {
		return time.Now()
	}
	return fn()
}
