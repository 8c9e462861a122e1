package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/lifequest/questauth/refresh"
)

// maxFailureBody caps how much of a rejected response body is kept on the error.
const maxFailureBody = 64 << 10

// Refresh recovers from 401 responses through the coordinator and replays the
// request once with the recovered credential. It must sit outside [Bearer],
// which leaves that credential on the replay.
//
// Requests matched by skip (login, refresh) are returned as-is even on 401.
// When recovery fails, or the replay is rejected again, the caller receives a
// *refresh.AuthFailure instead of a response. A 401 that arrives after the
// session it was sent under has ended settles with [refresh.ErrSessionClosed]
// and affects neither the replay nor the newer session.
func Refresh(c *refresh.Coordinator, skip Matcher) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if skip.match(req) {
				return next.RoundTrip(req)
			}

			r, err := replayable(req)
			if err != nil {
				return nil, err
			}

			epoch := c.Epoch()
			resp, err := next.RoundTrip(r)
			if err != nil || resp.StatusCode != http.StatusUnauthorized {
				return resp, err
			}

			ctx := r.Context()
			if refresh.Retried(ctx) {
				body := drain(resp)
				return nil, c.Fail(ctx, epoch, resp.StatusCode, body, nil)
			}

			token, err := c.Recover(ctx, epoch, sentToken(resp, r))
			if err != nil {
				body := drain(resp)
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, &refresh.AuthFailure{StatusCode: resp.StatusCode, Body: body, Reason: err}
			}
			drain(resp)

			retry := r.Clone(refresh.WithAttempt(ctx, 1))
			if r.GetBody != nil {
				body, err := r.GetBody()
				if err != nil {
					return nil, fmt.Errorf("rewind request body: %w", err)
				}
				retry.Body = body
			}
			retry.Header.Set("Authorization", bearerPrefix+token)

			resp, err = next.RoundTrip(retry)
			if err != nil {
				c.Replayed(false)
				return nil, err
			}
			if resp.StatusCode == http.StatusUnauthorized {
				c.Replayed(false)
				body := drain(resp)
				return nil, c.Fail(ctx, epoch, resp.StatusCode, body, nil)
			}
			c.Replayed(true)
			return resp, nil
		})
	}
}

// replayable returns a clone of req whose body can be produced again.
func replayable(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if r.Body == nil || r.Body == http.NoBody || r.GetBody != nil {
		return r, nil
	}

	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	r.ContentLength = int64(len(data))
	return r, nil
}

// sentToken returns the bearer credential the rejected request actually carried.
func sentToken(resp *http.Response, req *http.Request) string {
	for _, r := range []*http.Request{resp.Request, req} {
		if r == nil {
			continue
		}
		if token, ok := TokenFromHeader(r.Header.Get("Authorization")); ok {
			return token
		}
	}
	return ""
}

func drain(resp *http.Response) []byte {
	if resp == nil || resp.Body == nil {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxFailureBody))
	_ = resp.Body.Close()
	return body
}
