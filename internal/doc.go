// Package internal groups the packages private to questauth.
//
// # Sub-packages
//
//   - apitest: in-process fake of the Quest API used by tests, examples and the load test
//   - audit: async session event dispatch (Dispatcher + Sink implementations)
//   - flows: wire-level orchestration of login, refresh, identity and account calls
//   - metrics: lock-free counters and the refresh latency histogram
//
// Nothing here appears in the public questauth API except through the type
// aliases in the root package.
package internal
