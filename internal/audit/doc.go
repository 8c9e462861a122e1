// Package audit implements async dispatching of session lifecycle events.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, zap, no-op).
//   - [Dispatcher]: ordered async relay. With drop-if-full it sheds events under
//     load, but teardown events always wait for room.
//   - [Event]: session record with ULID id, timestamp, type, profile, subject, metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the Client and its coordinator hooks do.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on session state.
//   - Import questauth or any sibling internal package.
//   - Carry token material in events.
package audit
