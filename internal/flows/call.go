package flows

import (
	"context"
	"encoding/json"
	"net/http"
)

// CallFailureKind classifies generic API call failures.
type CallFailureKind int

const (
	CallFailureNone CallFailureKind = iota
	CallFailureEncode
	CallFailureTransport
	CallFailureStatus
	CallFailureDecode
)

// CallDeps captures dependencies for authenticated API calls.
type CallDeps struct {
	Client  *http.Client
	BaseURL string
}

// CallInput describes one JSON API call. Out, when non-nil, receives the
// decoded 2xx body.
type CallInput struct {
	Method string
	Path   string
	Body   any
	Out    any
}

// CallResult carries the status and raw body of a call, or failure metadata.
type CallResult struct {
	Failure    CallFailureKind
	Err        error
	StatusCode int
	Detail     string
	Body       []byte
}

// RunCall performs a JSON request against BaseURL+Path.
func RunCall(ctx context.Context, in CallInput, deps CallDeps) CallResult {
	body, err := jsonBody(in.Body)
	if err != nil {
		return CallResult{Failure: CallFailureEncode, Err: err}
	}

	ex, err := exchange(ctx, deps.Client, in.Method, deps.BaseURL+in.Path, contentTypeJSON, body)
	if err != nil {
		return CallResult{Failure: CallFailureTransport, Err: err, StatusCode: ex.StatusCode}
	}
	if !ex.OK() {
		return CallResult{Failure: CallFailureStatus, StatusCode: ex.StatusCode, Detail: ex.Detail(), Body: ex.Body}
	}
	if in.Out != nil && len(ex.Body) > 0 && ex.StatusCode != http.StatusNoContent {
		if err := json.Unmarshal(ex.Body, in.Out); err != nil {
			return CallResult{Failure: CallFailureDecode, Err: err, StatusCode: ex.StatusCode, Body: ex.Body}
		}
	}
	return CallResult{StatusCode: ex.StatusCode, Body: ex.Body}
}
