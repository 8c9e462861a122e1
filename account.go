package questauth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lifequest/questauth/internal/flows"
)

// UpdateEmail changes the signed-in user's email and refreshes the identity.
func (c *Client) UpdateEmail(ctx context.Context, email string) error {
	if err := callError(c.flows.UpdateEmail(ctx, email)); err != nil {
		return err
	}
	return c.RefreshIdentity(ctx)
}

// ChangePassword replaces the signed-in user's password. A wrong current
// password surfaces as an *APIError with the server's detail.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	return callError(c.flows.ChangePassword(ctx, current, next))
}

// SetupPassword redeems a password setup token. It needs no session.
func (c *Client) SetupPassword(ctx context.Context, token, password string) error {
	return callError(c.flows.SetupPassword(ctx, token, password))
}

// DeleteAccount deletes the signed-in user and ends the session.
func (c *Client) DeleteAccount(ctx context.Context) error {
	if err := callError(c.flows.DeleteAccount(ctx)); err != nil {
		return err
	}
	c.Logout(ctx)
	return nil
}

// Do sends a JSON request to path through the authenticated pipeline. body is
// encoded when non-nil; out receives the decoded 2xx response when non-nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if method == "" {
		method = http.MethodGet
	}
	return callError(c.flows.Call(ctx, flows.CallInput{Method: method, Path: path, Body: body, Out: out}))
}

func callError(res flows.CallResult) error {
	switch res.Failure {
	case flows.CallFailureNone:
		return nil
	case flows.CallFailureTransport:
		return transportError(res.Err)
	case flows.CallFailureStatus:
		return &APIError{StatusCode: res.StatusCode, Detail: res.Detail}
	case flows.CallFailureEncode:
		return fmt.Errorf("encode request: %w", res.Err)
	default:
		return fmt.Errorf("decode response: %w", res.Err)
	}
}
