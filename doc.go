// Package questauth is the client-side session layer for the Quest API: it
// holds the signed-in identity, signs outgoing requests with the stored access
// token, and transparently recovers from expired tokens through a single-flight
// refresh.
//
// The package is designed for concurrent client workloads: Client methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build]. Any number of requests failing with 401 at the same time
// share one refresh call and are each replayed once with the new token.
//
// # Architecture boundaries
//
// questauth is the public surface. It exposes [Client], [Builder], [Config] and
// value types (Identity, State, SessionInfo, MetricsSnapshot). Token storage
// lives in credential/, the refresh protocol in refresh/, the request pipeline
// in middleware/ and the wire calls in internal/flows.
//
// # What this package must NOT do
//
//   - Log or emit token material.
//   - Retry a request more than once after an authentication failure.
//   - Route the refresh call through the authenticated pipeline.
package questauth
