package tokenauth

import (
	"context"
	"errors"
	"strconv"
	"time"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginLocked          = "login_locked"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshRateLimited   = "refresh_rate_limited"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventFamilyRevoked        = "family_revoked"
	auditEventFamilyEvicted        = "family_evicted"
	auditEventLogout               = "logout"
	auditEventLogoutAll            = "logout_all"
)

// AuditErrorCode is the stable, non-sensitive error label put on audit events.
type AuditErrorCode string

const (
	auditErrSessionInvalid     AuditErrorCode = "session_invalid"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrLoginLocked        AuditErrorCode = "login_locked"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrCanceled           AuditErrorCode = "canceled"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	familyID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	e.audit.Emit(ctx, newAuditEvent(ctx, eventType, success, userID, familyID, err, metadata))
}

// emitRevocationAudit records a family revocation. The event carries the
// revocation reason and is marked critical, so the dispatcher waits for
// buffer space instead of dropping it.
func (e *Engine) emitRevocationAudit(ctx context.Context, eventType string, success bool, userID, familyID, reason string, rows int64, err error) {
	if e == nil || e.audit == nil {
		return
	}

	event := newAuditEvent(ctx, eventType, success, userID, familyID, err, map[string]string{
		"revoked_rows": strconv.FormatInt(rows, 10),
	})
	event.Reason = reason
	event.Critical = true
	e.audit.Emit(ctx, event)
}

func newAuditEvent(ctx context.Context, eventType string, success bool, userID, familyID string, err error, metadata map[string]string) AuditEvent {
	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		FamilyID:  familyID,
		IP:        ClientIPFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	return event
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrSessionInvalid):
		return auditErrSessionInvalid
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginLocked):
		return auditErrLoginLocked
	case errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrStorageFailure),
		errors.Is(err, ErrLockoutUnavailable),
		errors.Is(err, ErrCredentialsUnavailable):
		return auditErrUnavailable
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	default:
		return auditErrInternal
	}
}
