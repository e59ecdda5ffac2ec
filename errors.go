package tokenauth

import "errors"

var (
	// ErrSessionInvalid is the only error a refresh caller sees for an unknown,
	// replayed, expired or revoked refresh token. The cases are deliberately
	// indistinguishable to the client.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrStorageFailure wraps errors from the token store. The operation was
	// rolled back and may be retried.
	ErrStorageFailure = errors.New("session storage failure")
	// ErrLoginLocked is returned while an identifier is locked out. It is
	// distinct from ErrInvalidCredentials so clients can show a lockout notice.
	ErrLoginLocked = errors.New("login temporarily locked")
	// ErrInvalidCredentials covers unknown identifiers and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLockoutUnavailable means the attempt ledger could not be read, so no
	// lockout decision was possible. Login fails closed.
	ErrLockoutUnavailable = errors.New("lockout state unavailable")
	// ErrCredentialsUnavailable means the credential verifier failed.
	ErrCredentialsUnavailable = errors.New("credential backend unavailable")
	// ErrRefreshRateLimited is returned when a family exceeds its refresh budget.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrFamilyNotFound is returned by administrative lookups only.
	ErrFamilyNotFound = errors.New("session family not found")
	// ErrTokenInvalid is returned for access tokens that fail verification.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrInvalidRequest is returned for empty or malformed arguments.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEngineNotReady is returned when a required collaborator is missing.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrEventsUnsupported is returned by SecurityEvents when the configured
	// sink cannot be queried.
	ErrEventsUnsupported = errors.New("security event sink is write-only")
)
