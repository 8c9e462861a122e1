// Package refresh coordinates recovery from expired access tokens.
//
// # Single-flight
//
// When requests fail with an authentication-expired signal, [Coordinator.Recover]
// collapses every concurrent caller onto one refresh call. All callers receive the
// same outcome: the new access token to replay with, or the failure that tore the
// session down.
//
// # Teardown
//
// An unrecoverable session (no refresh token, refresh rejected, replay rejected) is
// torn down at most once per session epoch: both credentials are purged and the
// OnTeardown hook fires. [Coordinator.StartSession] opens a new epoch;
// [Coordinator.EndSession] closes the current one and settles any in-flight refresh.
//
// Callers capture [Coordinator.Epoch] when they dispatch a request. A rejection
// that arrives after the epoch moved on settles with [ErrSessionClosed] and
// leaves the newer session untouched.
//
// # Architecture boundaries
//
// This package owns refresh state and the per-request retry marker. It is
// transport-agnostic: HTTP and gRPC stages in the middleware package call into it.
//
// # What this package must NOT do
//
//   - Import questauth or middleware.
//   - Issue the refresh call through the request pipeline (the [Refresher] must use
//     a raw transport).
//   - Retry a request more than once.
package refresh
