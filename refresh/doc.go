// Package refresh implements the wire format of presented refresh tokens.
//
// # Token format
//
// A presented token is "<secret>.<claim>". The secret is 32 random bytes,
// base64url without padding, and is the only part the store knows about
// (as its SHA-256 digest). The claim is a signed JWT naming the family, user
// and token id. It is optional on input: a bare secret still rotates, it just
// cannot be attributed to a family once its row is gone.
//
// # What this package must NOT do
//
//   - Access storage or any I/O.
//   - Verify claim signatures (see package jwt).
//   - Implement rotation or replay logic.
package refresh
