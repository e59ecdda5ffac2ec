// Package limiters implements the login lockout gate.
//
// The gate counts failed rows in the login attempt ledger over a trailing
// window. There is no in-process or Redis counter: the ledger is the only
// source of truth, and a ledger read failure is reported rather than guessed.
//
// All methods are nil-safe: a nil *LockoutGate allows every attempt.
//
// # What this package must NOT do
//
//   - Import the root package or any sibling internal package.
//   - Write to the ledger; recording attempts is the Engine's job.
package limiters
