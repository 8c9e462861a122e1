// Package credential provides durable storage for the access and refresh tokens of
// one device profile.
//
// # Storage model
//
// A [Store] is a flat string key-value slot holder. Tokens are opaque strings: no
// shape validation and no expiry tracking happen here. Expiry is discovered by the
// refresh coordinator when a request is rejected.
//
// # Backends
//
// [MemoryStore] lives for the process, [FileStore] persists a JSON document per
// profile, [RedisStore] and [PostgresStore] persist slots under a profile-scoped key.
//
// # What this package must NOT do
//
//   - Import questauth, refresh, or middleware (no upward imports).
//   - Interpret token contents.
//   - Perform network calls other than to its own backend.
package credential
