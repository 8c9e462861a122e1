// Package jwt reads session claims out of access tokens held by the client and
// issues signed token pairs for test and development servers.
//
// # Architecture boundaries
//
// The client never trusts claims it reads with [Inspect]: they are used for
// display and expiry hints only. The server remains the authority and a 401
// is the only signal that drives a refresh.
//
// [Manager] signs and verifies tokens the way a Quest API deployment does. It
// backs internal/apitest and the load-test command.
//
// # What this package must NOT do
//
//   - Store tokens or talk to the network.
//   - Decide whether a request needs a refresh.
package jwt
