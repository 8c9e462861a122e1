// Package flows contains the wire-level orchestrators behind every Client
// operation.
//
// Each flow function (RunLogin, RunRefresh, RunIdentity, RunCall) accepts a
// typed dependency struct and returns a result value carrying either the
// decoded payload or a failure kind. The root package maps failure kinds onto
// its public error taxonomy.
//
// # Architecture boundaries
//
// Flows issue exactly one HTTP exchange each through the *http.Client they are
// given. Whether that client carries the authenticated pipeline (bearer,
// refresh, replay) is decided by the caller: login and identity calls use the
// pipeline, the refresh call never does.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import questauth (to avoid import cycles).
//   - Read or write the credential store.
package flows
