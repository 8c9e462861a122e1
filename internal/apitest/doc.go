// Package apitest runs an in-process Quest API with the auth endpoints a
// questauth client talks to: form login, refresh, identity and account
// management, plus a small task collection for authenticated CRUD calls.
//
// Access tokens are tracked server-side so a test can expire every outstanding
// token at once with [Server.ExpireAccess] and observe the client's recovery.
package apitest
