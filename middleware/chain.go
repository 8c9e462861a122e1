package middleware

import (
	"net/http"
	"strings"
)

// Middleware wraps a RoundTripper with one pipeline stage.
type Middleware func(next http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements http.RoundTripper.
func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Chain wraps base with stages. stages[0] is outermost and sees the request first.
// A nil base uses http.DefaultTransport.
func Chain(base http.RoundTripper, stages ...Middleware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	for i := len(stages) - 1; i >= 0; i-- {
		if stages[i] == nil {
			continue
		}
		rt = stages[i](rt)
	}
	return rt
}

// Matcher selects requests a stage must leave untouched.
type Matcher func(*http.Request) bool

// MatchPaths matches requests whose URL path ends with one of paths, so a base URL
// mounted under a prefix still matches "/auth/login".
func MatchPaths(paths ...string) Matcher {
	clean := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p != "" {
			clean = append(clean, p)
		}
	}
	return func(req *http.Request) bool {
		if req == nil || req.URL == nil {
			return false
		}
		path := strings.TrimRight(req.URL.Path, "/")
		for _, p := range clean {
			if strings.HasSuffix(path, p) {
				return true
			}
		}
		return false
	}
}

func (m Matcher) match(req *http.Request) bool {
	return m != nil && m(req)
}
