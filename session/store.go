package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("session: not found")
	// ErrDuplicateToken is returned when a token digest is already stored.
	ErrDuplicateToken = errors.New("session: duplicate token")
)

// TokenQueries is the set of token operations usable both directly and inside
// a transaction. Inside [TokenStore.WithinTx], FindByToken and FindFamilyByID
// lock the rows they read until the transaction ends.
type TokenQueries interface {
	// LockFamily blocks until no other transaction holds familyID, then holds
	// it until the enclosing transaction ends. Every write that can change a
	// family's live row or revocation state takes this lock first, so a
	// revocation can never miss a successor inserted by a concurrent rotation.
	// Outside WithinTx it has no lasting effect.
	LockFamily(ctx context.Context, familyID string) error
	Create(ctx context.Context, token *RefreshToken) error
	FindByToken(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// DeleteByToken reports whether a row was removed.
	DeleteByToken(ctx context.Context, tokenHash string) (bool, error)
	FindFamilyByID(ctx context.Context, familyID string) (*Family, error)
	// RevokeFamily marks every not-yet-revoked row of the family revoked and
	// returns the number of rows changed. Already revoked rows keep their
	// original timestamp and reason.
	RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int64, error)
}

// TokenStore persists refresh token rows.
type TokenStore interface {
	TokenQueries

	// WithinTx runs fn against a transactional handle. A non-nil error from fn,
	// or cancellation of ctx, rolls back every write made through the handle.
	WithinTx(ctx context.Context, fn func(q TokenQueries) error) error

	// FindActiveFamilies lists families of userID that are not revoked and
	// hold at least one row unexpired at now.
	FindActiveFamilies(ctx context.Context, userID string, now time.Time) ([]Family, error)
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// LoginAttemptLedger is the append-only record of login attempts.
type LoginAttemptLedger interface {
	Create(ctx context.Context, attempt *LoginAttempt) error
	// CountRecentByIP counts attempts from ip since the given instant that
	// count toward lockout.
	CountRecentByIP(ctx context.Context, ip string, since time.Time) (int, error)
	// FindRecentByEmail matches the normalized identifier exactly.
	FindRecentByEmail(ctx context.Context, email string, since time.Time) ([]LoginAttempt, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// SecurityEventSink persists security events.
type SecurityEventSink interface {
	Create(ctx context.Context, event *SecurityEvent) error
}

// SecurityEventReader is implemented by sinks that can list stored events.
type SecurityEventReader interface {
	FindByUser(ctx context.Context, userID string, limit int) ([]SecurityEvent, error)
}
