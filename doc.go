// Package tokenauth is the refresh-token session core: token families with
// single-use rotating refresh tokens, reuse detection that revokes a whole
// family, and a login lockout gate derived from an append-only attempt ledger.
//
// Engine methods are safe to call from multiple goroutines after [Builder.Build].
// The Engine keeps no session state in memory; the [session.TokenStore] is the
// source of truth and several processes may share one store.
//
// # Rotation
//
// [Engine.Rotate] takes the family lock, looks up the presented token, deletes
// it and inserts its successor in one transaction. Revocations take the same
// lock, so a revocation racing a rotation also revokes the successor. A token whose row is gone but whose
// signed claim still names a live family is treated as stolen and the family is
// revoked. [Engine.Refresh] wraps Rotate and reports every non-rotated outcome
// as [ErrSessionInvalid].
//
// # Architecture boundaries
//
// tokenauth is the public surface. It exposes [Engine], [Builder], [Config] and
// value types. Storage lives behind the session interfaces (SQL in
// internal/stores/postgres), and audit dispatch, lockout and throttling live
// under internal/.
//
// # What this package must NOT do
//
//   - Hash or store passwords; that is a [CredentialVerifier] concern.
//   - Cache current tokens or lockout counts between calls.
//   - Import any sub-package that re-imports tokenauth (no import cycles).
package tokenauth
