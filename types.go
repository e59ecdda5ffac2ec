package tokenauth

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/abrahamahn/abe-stack-sub006/internal/audit"
	"github.com/abrahamahn/abe-stack-sub006/internal/limiters"
	"github.com/sirupsen/logrus"
)

// CredentialVerifier checks a password for an identifier. ok is false for
// unknown identifiers and wrong passwords alike; err is reserved for backend
// failures. Hashing policy belongs to the implementation.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, identifier, password string) (userID string, ok bool, err error)
}

// IssuedSession is the result of starting a new token family.
type IssuedSession struct {
	FamilyID  string
	TokenID   string
	Token     string
	ExpiresAt time.Time
}

// RotationKind is the outcome of presenting a refresh token.
type RotationKind int

const (
	RotationNotFound RotationKind = iota
	RotationRotated
	RotationReuseDetected
	RotationFamilyRevoked
)

func (k RotationKind) String() string {
	switch k {
	case RotationRotated:
		return "rotated"
	case RotationReuseDetected:
		return "reuse_detected"
	case RotationFamilyRevoked:
		return "family_revoked"
	default:
		return "not_found"
	}
}

// RotationResult describes one Rotate call. Token, TokenID and ExpiresAt are
// set only when Kind is RotationRotated. FamilyID and UserID are set whenever
// the presented token could be attributed to a family.
type RotationResult struct {
	Kind      RotationKind
	Token     string
	TokenID   string
	FamilyID  string
	UserID    string
	ExpiresAt time.Time
}

// RevocationOutcome is the result of a family revocation request.
type RevocationOutcome int

const (
	FamilyUnknown RevocationOutcome = iota
	FamilyRevokedNow
	FamilyAlreadyRevoked
)

func (o RevocationOutcome) String() string {
	switch o {
	case FamilyRevokedNow:
		return "revoked"
	case FamilyAlreadyRevoked:
		return "already_revoked"
	default:
		return "unknown"
	}
}

// LockoutDecision is the outcome of CheckLockout.
type LockoutDecision = limiters.Decision

const (
	LockoutAllowed = limiters.Allowed
	LockoutLocked  = limiters.Locked
)

// LoginRequest carries one login attempt. Empty IPAddress and UserAgent fall
// back to WithClientIP and WithUserAgent values on the context.
type LoginRequest struct {
	Identifier string
	Password   string
	IPAddress  string
	UserAgent  string
}

// LoginResult is returned by Login and Refresh.
type LoginResult struct {
	UserID           string
	FamilyID         string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// AccessIdentity is the verified content of an access token.
type AccessIdentity struct {
	UserID    string
	FamilyID  string
	ExpiresAt time.Time
}

// LoginAttemptInput is a ledger entry supplied by callers of RecordLoginAttempt.
type LoginAttemptInput struct {
	Identifier    string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
}

// PruneResult reports what PruneRetention removed.
type PruneResult struct {
	TokensDeleted   int64
	AttemptsDeleted int64
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// AuditStats is the audit dispatcher's delivery accounting.
type AuditStats = internalaudit.Stats

type NoOpSink = internalaudit.NoOpSink

type ChannelSink = internalaudit.ChannelSink

type JSONWriterSink = internalaudit.JSONWriterSink

type LogrusSink = internalaudit.LogrusSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewLogrusSink writes audit events through logger.
func NewLogrusSink(logger logrus.FieldLogger) *LogrusSink {
	return internalaudit.NewLogrusSink(logger)
}
