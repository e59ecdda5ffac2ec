// Package middleware exposes gin and net/http guards that authenticate
// requests with access tokens issued by a tokenauth.Engine.
//
// # Guards
//
//   - [RequireAccess]: validates with the engine's configured mode.
//   - [RequireJWTOnly]: signature and expiry only, no store lookup.
//   - [RequireStrict]: also requires the token's family to be unrevoked.
//   - [Guard]: the net/http form for non-gin handlers.
//
// [ClientInfo] copies the caller's address and user agent onto the request
// context so Login and IssueSession record them without extra plumbing.
//
// This package translates HTTP into Engine calls. It does not parse JWTs or
// touch storage itself.
package middleware
