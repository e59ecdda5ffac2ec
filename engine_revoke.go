package tokenauth

import (
	"context"
	"errors"
	"strconv"

	"github.com/abrahamahn/abe-stack-sub006/session"
)

// RevokeFamily revokes every row of familyID with reason. Revocation is
// monotonic: an already revoked family keeps its original timestamp and
// reason, and the call reports FamilyAlreadyRevoked.
func (e *Engine) RevokeFamily(ctx context.Context, familyID, reason string) (RevocationOutcome, error) {
	if e == nil || e.tokens == nil {
		return FamilyUnknown, ErrEngineNotReady
	}
	if familyID == "" {
		return FamilyUnknown, ErrInvalidRequest
	}
	if reason == "" {
		reason = session.ReasonAdmin
	}

	rev, err := e.revokeAndRecord(ctx, familyID, "", reason, auditEventFamilyRevoked)
	if err != nil {
		return FamilyUnknown, err
	}
	return rev.outcome, nil
}

// revokeAndRecord revokes familyID under the family lock and, if that changed
// anything, records the revocation.
func (e *Engine) revokeAndRecord(ctx context.Context, familyID, expectUserID, reason, auditType string) (revocation, error) {
	var rev revocation
	err := e.tokens.WithinTx(ctx, func(q session.TokenQueries) error {
		if err := q.LockFamily(ctx, familyID); err != nil {
			return err
		}
		var err error
		rev, err = e.revokeLocked(ctx, q, familyID, expectUserID, reason, e.now())
		return err
	})
	if err != nil {
		return revocation{}, e.storageFailure(err)
	}
	if rev.outcome != FamilyRevokedNow {
		return rev, nil
	}

	e.familyRevoked(ctx, familyID, reason, rev, &session.SecurityEvent{Type: session.EventFamilyRevoked})
	e.emitRevocationAudit(ctx, auditType, true, rev.userID, familyID, reason, rev.rows, nil)
	return rev, nil
}

// familyRevoked runs the side effects shared by every fresh family
// revocation and persists event, filled in with the family, owner, client
// and reason.
func (e *Engine) familyRevoked(ctx context.Context, familyID, reason string, rev revocation, event *session.SecurityEvent) {
	e.metricInc(MetricFamilyRevoked)
	e.metricInc(revocationMetric(reason))
	if err := e.throttle.ResetRefresh(ctx, familyID); err != nil {
		e.logger.WithError(err).WithField("family_id", familyID).Debug("refresh throttle reset failed")
	}

	event.UserID = rev.userID
	event.FamilyID = familyID
	event.IPAddress = ClientIPFromContext(ctx)
	event.UserAgent = UserAgentFromContext(ctx)
	if event.Metadata == nil {
		event.Metadata = make(map[string]string, 2)
	}
	event.Metadata["reason"] = reason
	event.Metadata["revoked_rows"] = strconv.FormatInt(rev.rows, 10)
	e.writeSecurityEvent(ctx, event)
}

func revocationMetric(reason string) MetricID {
	switch reason {
	case session.ReasonReuseDetected:
		return MetricRevokedReuse
	case session.ReasonLogout:
		return MetricRevokedLogout
	case session.ReasonLogoutAll:
		return MetricRevokedLogoutAll
	case session.ReasonSessionLimit:
		return MetricRevokedSessionLimit
	default:
		return MetricRevokedAdmin
	}
}

// RevokeAllFamilies revokes every active family of userID and records a
// security event when anything changed.
func (e *Engine) RevokeAllFamilies(ctx context.Context, userID, reason string) (int64, error) {
	if e == nil || e.tokens == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrInvalidRequest
	}
	if reason == "" {
		reason = session.ReasonAdmin
	}

	n, err := e.tokens.RevokeAllForUser(ctx, userID, reason, e.now())
	if err != nil {
		return 0, e.storageFailure(err)
	}
	if n == 0 {
		return 0, nil
	}

	e.metricInc(revocationMetric(reason))
	e.writeSecurityEvent(ctx, &session.SecurityEvent{
		Type:      session.EventFamiliesRevoked,
		UserID:    userID,
		IPAddress: ClientIPFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
		Metadata: map[string]string{
			"reason":       reason,
			"revoked_rows": strconv.FormatInt(n, 10),
		},
	})
	e.emitRevocationAudit(ctx, auditEventLogoutAll, true, userID, "", reason, n, nil)
	return n, nil
}

// FindFamily returns the grouped view of familyID.
func (e *Engine) FindFamily(ctx context.Context, familyID string) (*session.Family, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	family, err := e.tokens.FindFamilyByID(ctx, familyID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrFamilyNotFound
	}
	if err != nil {
		return nil, e.storageFailure(err)
	}
	return family, nil
}

// ActiveFamilies lists the unrevoked, unexpired families of userID, oldest
// first. This is the "active devices" view.
func (e *Engine) ActiveFamilies(ctx context.Context, userID string) ([]session.Family, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrInvalidRequest
	}

	families, err := e.tokens.FindActiveFamilies(ctx, userID, e.now())
	if err != nil {
		return nil, e.storageFailure(err)
	}
	return families, nil
}

// RevokeUserFamily revokes familyID only if it belongs to userID. It backs
// per-device logout where the caller is identified by an access token.
func (e *Engine) RevokeUserFamily(ctx context.Context, userID, familyID string) (RevocationOutcome, error) {
	if e == nil || e.tokens == nil {
		return FamilyUnknown, ErrEngineNotReady
	}
	if userID == "" || familyID == "" {
		return FamilyUnknown, ErrInvalidRequest
	}

	rev, err := e.revokeAndRecord(ctx, familyID, userID, session.ReasonLogout, auditEventFamilyRevoked)
	if err != nil {
		return FamilyUnknown, err
	}
	return rev.outcome, nil
}

// SecurityEvents returns the newest security events of userID.
func (e *Engine) SecurityEvents(ctx context.Context, userID string, limit int) ([]session.SecurityEvent, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	reader, ok := e.events.(session.SecurityEventReader)
	if !ok {
		return nil, ErrEventsUnsupported
	}
	events, err := reader.FindByUser(ctx, userID, limit)
	if err != nil {
		return nil, e.storageFailure(err)
	}
	return events, nil
}
