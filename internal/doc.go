// Package internal contains helpers private to the session core.
//
// # Sub-packages
//
//   - audit: async operational event dispatch (Dispatcher + Sink implementations)
//   - config: service configuration loading (viper + dotenv)
//   - credentials: bcrypt credential verifier over the users table
//   - httpapi: gin handlers for the session endpoints
//   - limiters: ledger-backed lockout gate
//   - rate: Redis fixed-window refresh throttle
//   - security: configuration posture report
//   - stores/postgres: pgx implementations of the session store contracts
//
// # What this package must NOT do
//
//   - Be imported by any package outside this module.
package internal
