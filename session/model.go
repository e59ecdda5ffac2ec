package session

import "time"

// FamilyMeta is the family-level state copied onto every row of a family.
type FamilyMeta struct {
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
	RevokedAt    *time.Time
	RevokeReason *string
}

// Revoked reports whether the family carrying this metadata has been revoked.
func (m FamilyMeta) Revoked() bool {
	return m.RevokedAt != nil
}

// RefreshToken is a single persisted refresh token row.
//
// Token holds the SHA-256 digest of the bearer secret, never the secret.
type RefreshToken struct {
	ID        string
	UserID    string
	FamilyID  string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
	Family    FamilyMeta
}

// Expired reports whether the row is past its expiry at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Family is the grouped view over all rows sharing a family id.
type Family struct {
	FamilyID        string
	UserID          string
	IPAddress       string
	UserAgent       string
	CreatedAt       time.Time
	RevokedAt       *time.Time
	RevokeReason    *string
	LatestExpiresAt time.Time
}

// Revoked reports whether the family has been revoked.
func (f *Family) Revoked() bool {
	return f.RevokedAt != nil
}

// LoginAttempt is an append-only ledger record of one login attempt.
type LoginAttempt struct {
	ID            string
	Email         string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason *string
	CreatedAt     time.Time
}

// FailureSessionIssue marks an attempt whose credentials were accepted but
// whose session could not be stored.
const FailureSessionIssue = "session_issue_failed"

// CountsTowardLockout reports whether a is a failure the user caused. Failures
// to store the session are recorded but not held against the identifier.
func (a LoginAttempt) CountsTowardLockout() bool {
	if a.Success {
		return false
	}
	return a.FailureReason == nil || *a.FailureReason != FailureSessionIssue
}

// SecurityEvent records a security-relevant incident such as token reuse.
type SecurityEvent struct {
	ID        string
	Type      string
	UserID    string
	FamilyID  string
	IPAddress string
	UserAgent string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Security event types written by the Engine.
const (
	EventRefreshReuseDetected = "refresh_reuse_detected"
	EventLoginLocked          = "login_locked"
	EventFamilyRevoked        = "family_revoked"
	EventFamiliesRevoked      = "families_revoked"
)

// Revocation reasons stored on revoked families.
const (
	ReasonReuseDetected = "reuse_detected"
	ReasonLogout        = "logout"
	ReasonLogoutAll     = "logout_all"
	ReasonSessionLimit  = "session_limit"
	ReasonAdmin         = "admin"
)
