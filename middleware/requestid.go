package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// HeaderRequestID carries the logical request id.
const HeaderRequestID = "X-Request-ID"

// RequestID sets X-Request-ID to a random UUID unless the request already has one.
// Placed outside Refresh, the original dispatch and its replay share the id.
func RequestID() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get(HeaderRequestID) != "" {
				return next.RoundTrip(req)
			}
			r := req.Clone(req.Context())
			r.Header.Set(HeaderRequestID, uuid.NewString())
			return next.RoundTrip(r)
		})
	}
}
