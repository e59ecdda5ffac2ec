// Package session defines the refresh-token family model and the persistence
// contracts the Engine depends on.
//
// # Families
//
// A login creates a family. Each rotation deletes the presented token row and
// inserts its successor with the same family id, so at rest a family holds at
// most one live row. Family metadata (ip, user agent, creation time, revocation
// state) is copied onto every row and revoked in a single set-based update.
//
// # Architecture boundaries
//
// This package owns the [RefreshToken], [Family], [LoginAttempt] and
// [SecurityEvent] models, the store interfaces, and [MemoryStore]. SQL
// implementations live in internal/stores/postgres.
//
// # What this package must NOT do
//
//   - Import the root package, jwt, or refresh (no upward imports).
//   - Decide rotation, reuse or lockout policy.
//   - Store plaintext refresh secrets in [RefreshToken.Token].
package session
