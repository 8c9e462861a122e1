// Package metrics counts session activity for one client: logins, refresh calls
// and their outcomes, replays, teardowns and redirects, plus a latency
// histogram of refresh calls.
//
// # Design
//
// Each counter sits in its own cache-line-padded slot so that concurrent
// requests recovering from a 401 do not contend on one line. The histogram has
// 8 fixed buckets from 10ms to +Inf. Recording never allocates.
//
// # Architecture boundaries
//
// [Metrics.Snapshot] is the only read path. The Prometheus and OTel exporters
// under metrics/export/ read snapshots through the questauth client.
//
// # What this package must NOT do
//
//   - Perform I/O.
//   - Import questauth or any sibling package.
//   - Register anything globally.
package metrics
