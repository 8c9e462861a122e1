package flows

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureTransport
	RefreshFailureRejected
	RefreshFailureDecode
)

// RefreshDeps captures refresh flow dependencies. Client must not carry the
// authenticated pipeline.
type RefreshDeps struct {
	Client *http.Client
	URL    string
	Now    func() time.Time
}

// RefreshResult carries either the rotated token pair or failure metadata.
type RefreshResult struct {
	Failure    RefreshFailureKind
	Err        error
	StatusCode int
	Token      *oauth2.Token
}

// RunRefresh exchanges refreshToken at the refresh endpoint. Any non-2xx
// status means the refresh token is no longer usable.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	body, err := jsonBody(struct {
		RefreshToken string `json:"refresh_token"`
	}{refreshToken})
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}

	ex, err := exchange(ctx, deps.Client, http.MethodPost, deps.URL, contentTypeJSON, body)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureTransport, Err: err, StatusCode: ex.StatusCode}
	}
	if !ex.OK() {
		msg := ex.Detail()
		if msg == "" {
			msg = http.StatusText(ex.StatusCode)
		}
		return RefreshResult{
			Failure:    RefreshFailureRejected,
			Err:        fmt.Errorf("refresh rejected with status %d: %s", ex.StatusCode, msg),
			StatusCode: ex.StatusCode,
		}
	}

	tok, err := decodeToken(ex.Body, now(deps.Now))
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: errors.Join(errors.New("decode refresh response"), err), StatusCode: ex.StatusCode}
	}
	return RefreshResult{StatusCode: ex.StatusCode, Token: tok}
}
