package middleware

import (
	"net/http"
	"strings"

	"github.com/lifequest/questauth/credential"
	"github.com/lifequest/questauth/refresh"
)

const bearerPrefix = "Bearer "

// Bearer attaches "Authorization: Bearer <token>" from the store's access slot.
// Requests matched by skip pass through unmodified. A missing token, or a store
// read failure, sends the request without credentials and leaves the 401 to the
// Refresh stage. A replay keeps the credential Refresh recovered for it.
func Bearer(store credential.Store, skip Matcher) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if skip.match(req) {
				return next.RoundTrip(req)
			}
			if refresh.Retried(req.Context()) && req.Header.Get("Authorization") != "" {
				return next.RoundTrip(req)
			}

			token, err := credential.Lookup(req.Context(), store, credential.KeyAccessToken)
			if err != nil || token == "" {
				return next.RoundTrip(req)
			}

			r := req.Clone(req.Context())
			r.Header.Set("Authorization", bearerPrefix+token)
			return next.RoundTrip(r)
		})
	}
}

// TokenFromHeader extracts the bearer credential from an Authorization value.
func TokenFromHeader(value string) (string, bool) {
	if !strings.HasPrefix(value, bearerPrefix) {
		return "", false
	}

	token := value[len(bearerPrefix):]
	if token == "" {
		return "", false
	}

	return token, true
}
