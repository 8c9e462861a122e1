// Package middleware builds the client request pipeline as an ordered chain of
// [http.RoundTripper] stages.
//
// # Stages
//
//   - [RequestID] tags each logical request once, so a replay keeps the same id.
//   - [Refresh] turns a 401 into one coordinated refresh and a single replay.
//   - [Logging] writes one line per attempt.
//   - [Bearer] attaches the stored access token.
//
// [Chain] wraps a base transport with stages so that the first stage listed runs
// first. The default order is RequestID, Refresh, Logging, Bearer, with extra stages
// after Bearer so they see the signed request. [UnaryClientInterceptor]
// applies the Bearer and Refresh stages to gRPC calls.
//
// # Architecture boundaries
//
// This package translates transport semantics into [refresh.Coordinator] calls. The
// refresh protocol, teardown, and retry accounting live in the refresh package.
//
// # What this package must NOT do
//
//   - Mutate the caller's request (stages clone before changing headers).
//   - Modify login or refresh requests (callers pass a [Matcher] for those).
//   - Replay a request more than once.
package middleware
