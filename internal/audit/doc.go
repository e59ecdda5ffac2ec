// Package audit implements async dispatch of operational audit events.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, logrus, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured record with timestamp, type, user, family, IP, metadata.
//
// Audit events are a log feed. Persisted security events (token reuse, lockout)
// go through session.SecurityEventSink instead.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import the root package or any sibling internal package.
package audit
