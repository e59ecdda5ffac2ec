package tokenauth

import (
	"context"
	"time"

	"github.com/abrahamahn/abe-stack-sub006/internal"
	"github.com/abrahamahn/abe-stack-sub006/refresh"
	"github.com/abrahamahn/abe-stack-sub006/session"
)

// IssueSession starts a new token family for userID and returns its first
// refresh token. It performs a single insert and never touches the ledger.
func (e *Engine) IssueSession(ctx context.Context, userID, ipAddress, userAgent string) (*IssuedSession, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrInvalidRequest
	}

	now := e.now()
	familyID := internal.NewFamilyID()
	meta := session.FamilyMeta{
		IPAddress: ipAddress,
		UserAgent: userAgent,
		CreatedAt: now,
	}

	row, secret, err := e.newRow(userID, familyID, meta, now)
	if err != nil {
		return nil, err
	}
	if err := e.tokens.Create(ctx, row); err != nil {
		return nil, e.storageFailure(err)
	}

	token, err := e.encodeToken(row, secret)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionIssued)
	e.enforceFamilyLimit(ctx, userID, familyID)

	return &IssuedSession{
		FamilyID:  familyID,
		TokenID:   row.ID,
		Token:     token,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

// newRow builds the next row of a family with a fresh secret. The row expiry
// never passes the family's absolute deadline.
func (e *Engine) newRow(userID, familyID string, meta session.FamilyMeta, now time.Time) (*session.RefreshToken, string, error) {
	secret, err := refresh.NewSecret()
	if err != nil {
		return nil, "", err
	}

	expiresAt := now.Add(e.config.Refresh.TTL)
	if deadline, ok := e.familyDeadline(meta); ok && deadline.Before(expiresAt) {
		expiresAt = deadline
	}

	return &session.RefreshToken{
		ID:        internal.NewTokenID(),
		UserID:    userID,
		FamilyID:  familyID,
		Token:     refresh.HashSecret(secret),
		ExpiresAt: expiresAt,
		CreatedAt: now,
		Family:    meta,
	}, secret, nil
}

func (e *Engine) familyDeadline(meta session.FamilyMeta) (time.Time, bool) {
	if e.config.Refresh.AbsoluteLifetime <= 0 {
		return time.Time{}, false
	}
	return meta.CreatedAt.Add(e.config.Refresh.AbsoluteLifetime), true
}

func (e *Engine) encodeToken(row *session.RefreshToken, secret string) (string, error) {
	if !e.config.Refresh.EmbedFamilyClaim {
		return refresh.Encode(secret, ""), nil
	}
	claim, err := e.jwtManager.CreateRefreshClaim(row.UserID, row.FamilyID, row.ID, row.ExpiresAt)
	if err != nil {
		return "", err
	}
	return refresh.Encode(secret, claim), nil
}

// enforceFamilyLimit revokes the oldest active families of userID beyond
// Refresh.MaxFamiliesPerUser. The new family is never evicted. Failures are
// logged; the login that triggered eviction has already succeeded.
func (e *Engine) enforceFamilyLimit(ctx context.Context, userID, keepFamilyID string) {
	limit := e.config.Refresh.MaxFamiliesPerUser
	if limit <= 0 {
		return
	}

	families, err := e.tokens.FindActiveFamilies(ctx, userID, e.now())
	if err != nil {
		e.logger.WithError(err).WithField("user_id", userID).Warn("family limit check failed")
		return
	}

	excess := len(families) - limit
	for _, f := range families {
		if excess <= 0 {
			break
		}
		if f.FamilyID == keepFamilyID {
			continue
		}
		rev, err := e.revokeAndRecord(ctx, f.FamilyID, userID, session.ReasonSessionLimit, auditEventFamilyEvicted)
		if err != nil {
			e.logger.WithError(err).WithField("family_id", f.FamilyID).Warn("family eviction failed")
			return
		}
		excess--
		if rev.outcome == FamilyRevokedNow {
			e.metricInc(MetricFamilyEvicted)
		}
	}
}
