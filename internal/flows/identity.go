package flows

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

var errInvalidIdentity = errors.New("identity payload is not valid JSON")

// IdentityDeps captures identity fetch dependencies.
type IdentityDeps struct {
	Client *http.Client
	URL    string
}

// IdentityResult carries the raw identity payload or failure metadata.
type IdentityResult struct {
	CallResult
	Payload json.RawMessage
}

// RunIdentity fetches the current user through the authenticated pipeline.
func RunIdentity(ctx context.Context, deps IdentityDeps) IdentityResult {
	res := RunCall(ctx, CallInput{Method: http.MethodGet}, CallDeps{Client: deps.Client, BaseURL: deps.URL})
	if res.Failure != CallFailureNone {
		return IdentityResult{CallResult: res}
	}
	if !json.Valid(res.Body) {
		res.Failure = CallFailureDecode
		res.Err = errInvalidIdentity
		return IdentityResult{CallResult: res}
	}
	return IdentityResult{CallResult: res, Payload: json.RawMessage(res.Body)}
}
