package tokenauth

import (
	"context"
	"errors"
	"time"

	"github.com/abrahamahn/abe-stack-sub006/jwt"
	"github.com/abrahamahn/abe-stack-sub006/refresh"
	"github.com/abrahamahn/abe-stack-sub006/session"
)

// Rotate redeems presented and, if it is the live token of an active family,
// replaces it with a successor in the same transaction.
//
// The transaction takes the family lock before reading the presented row, so
// rotations, replays and revocations of one family run one after another.
// Lookup, delete, insert and any reuse revocation commit together; the
// successor is inserted only after the presented row is deleted. A returned
// error means nothing was committed; outcomes that are not errors are
// reported through Kind.
func (e *Engine) Rotate(ctx context.Context, presented string) (RotationResult, error) {
	if e == nil || e.tokens == nil {
		return RotationResult{}, ErrEngineNotReady
	}

	start := time.Now()
	defer func() {
		if e.metrics.LatencyEnabled() {
			e.metrics.Observe(MetricRotateLatency, time.Since(start))
		}
	}()

	p, err := refresh.Decode(presented)
	if err != nil {
		e.finishRotation(ctx, RotationResult{Kind: RotationNotFound}, nil)
		return RotationResult{Kind: RotationNotFound}, nil
	}
	claims := e.parseClaim(p)
	hash := refresh.HashSecret(p.Secret)
	now := e.now()

	familyID, err := e.familyToLock(ctx, claims, hash)
	if err != nil {
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", err, nil)
		return RotationResult{}, e.storageFailure(err)
	}
	if familyID == "" {
		e.finishRotation(ctx, RotationResult{Kind: RotationNotFound}, nil)
		return RotationResult{Kind: RotationNotFound}, nil
	}

	var (
		result  RotationResult
		reuse   *revocation
		pending string
	)
	err = e.tokens.WithinTx(ctx, func(q session.TokenQueries) error {
		result, reuse, pending = RotationResult{Kind: RotationNotFound}, nil, ""

		if err := q.LockFamily(ctx, familyID); err != nil {
			return err
		}

		row, err := q.FindByToken(ctx, hash)
		if errors.Is(err, session.ErrNotFound) {
			if claims == nil {
				return nil
			}
			out, err := e.revokeLocked(ctx, q, claims.FID, claims.UID, session.ReasonReuseDetected, now)
			if err != nil {
				return err
			}
			if out.outcome == FamilyUnknown {
				return nil
			}
			out.tokenID = claims.ID
			reuse = &out
			result = RotationResult{Kind: RotationReuseDetected, FamilyID: claims.FID, UserID: claims.UID}
			return nil
		}
		if err != nil {
			return err
		}

		if claims != nil && !claimMatchesRow(claims, row) {
			return nil
		}

		result.FamilyID, result.UserID = row.FamilyID, row.UserID
		if row.Family.Revoked() {
			result.Kind = RotationFamilyRevoked
			return nil
		}

		if row.Expired(now) || e.familyExhausted(row.Family, now) {
			_, err := q.DeleteByToken(ctx, hash)
			return err
		}

		deleted, err := q.DeleteByToken(ctx, hash)
		if err != nil {
			return err
		}
		if !deleted {
			return nil
		}

		next, secret, err := e.newRow(row.UserID, row.FamilyID, row.Family, now)
		if err != nil {
			return err
		}
		if err := q.Create(ctx, next); err != nil {
			return err
		}

		result.Kind = RotationRotated
		result.TokenID = next.ID
		result.ExpiresAt = next.ExpiresAt
		pending = secret
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", err, nil)
		return RotationResult{}, e.storageFailure(err)
	}

	if result.Kind == RotationRotated {
		token, err := e.encodeToken(&session.RefreshToken{
			ID:        result.TokenID,
			UserID:    result.UserID,
			FamilyID:  result.FamilyID,
			ExpiresAt: result.ExpiresAt,
		}, pending)
		if err != nil {
			return RotationResult{}, err
		}
		result.Token = token
	}

	e.finishRotation(ctx, result, reuse)
	return result, nil
}

// DetectReuse revokes familyID as compromised. It is what Rotate runs when a
// token is presented whose row no longer exists but whose signed claim still
// names a family; callers holding such a claim out of band may call it
// directly. Revoking an already revoked family writes nothing.
func (e *Engine) DetectReuse(ctx context.Context, familyID string) (RevocationOutcome, error) {
	if e == nil || e.tokens == nil {
		return FamilyUnknown, ErrEngineNotReady
	}
	if familyID == "" {
		return FamilyUnknown, ErrInvalidRequest
	}

	var out revocation
	err := e.tokens.WithinTx(ctx, func(q session.TokenQueries) error {
		if err := q.LockFamily(ctx, familyID); err != nil {
			return err
		}
		var err error
		out, err = e.revokeLocked(ctx, q, familyID, "", session.ReasonReuseDetected, e.now())
		return err
	})
	if err != nil {
		return FamilyUnknown, e.storageFailure(err)
	}

	if out.outcome != FamilyUnknown {
		e.finishRotation(ctx, RotationResult{Kind: RotationReuseDetected, FamilyID: familyID, UserID: out.userID}, &out)
	}
	return out.outcome, nil
}

// familyToLock names the family whose lock Rotate must hold. A verified claim
// names it directly; otherwise the presented row is looked up without a lock.
// An empty result means the token can match nothing.
func (e *Engine) familyToLock(ctx context.Context, claims *jwt.RefreshClaims, hash string) (string, error) {
	if claims != nil {
		return claims.FID, nil
	}
	row, err := e.tokens.FindByToken(ctx, hash)
	if errors.Is(err, session.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.FamilyID, nil
}

type revocation struct {
	outcome RevocationOutcome
	userID  string
	tokenID string
	rows    int64
}

// revokeLocked revokes familyID with reason if it is still active. The
// caller must hold the family lock. A non-empty expectUserID must match the
// family owner, otherwise the family is treated as unknown.
func (e *Engine) revokeLocked(ctx context.Context, q session.TokenQueries, familyID, expectUserID, reason string, now time.Time) (revocation, error) {
	family, err := q.FindFamilyByID(ctx, familyID)
	if errors.Is(err, session.ErrNotFound) {
		return revocation{outcome: FamilyUnknown}, nil
	}
	if err != nil {
		return revocation{}, err
	}
	if expectUserID != "" && family.UserID != expectUserID {
		return revocation{outcome: FamilyUnknown}, nil
	}
	if family.Revoked() {
		return revocation{outcome: FamilyAlreadyRevoked, userID: family.UserID}, nil
	}

	n, err := q.RevokeFamily(ctx, familyID, reason, now)
	if err != nil {
		return revocation{}, err
	}
	if n == 0 {
		return revocation{outcome: FamilyAlreadyRevoked, userID: family.UserID}, nil
	}
	return revocation{outcome: FamilyRevokedNow, userID: family.UserID, rows: n}, nil
}

// finishRotation runs the post-commit side effects of a rotation: metrics,
// audit and, for a fresh reuse revocation, the security event.
func (e *Engine) finishRotation(ctx context.Context, result RotationResult, reuse *revocation) {
	switch result.Kind {
	case RotationRotated:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, result.UserID, result.FamilyID, nil, nil)
	case RotationFamilyRevoked:
		e.metricInc(MetricRefreshFamilyRevoked)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, result.UserID, result.FamilyID, ErrSessionInvalid, func() map[string]string {
			return map[string]string{"kind": result.Kind.String()}
		})
	case RotationReuseDetected:
		e.metricInc(MetricRefreshReuseDetected)
		if reuse == nil || reuse.outcome != FamilyRevokedNow {
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, result.UserID, result.FamilyID, ErrSessionInvalid, nil)
			return
		}
		e.emitRevocationAudit(ctx, auditEventRefreshReuseDetected, false, result.UserID, result.FamilyID, session.ReasonReuseDetected, reuse.rows, ErrSessionInvalid)
		e.familyRevoked(ctx, result.FamilyID, session.ReasonReuseDetected, *reuse, &session.SecurityEvent{
			Type:     session.EventRefreshReuseDetected,
			Metadata: map[string]string{"token_id": reuse.tokenID},
		})
		if e.config.Security.RevokeAllOnReuse && result.UserID != "" {
			if _, err := e.RevokeAllFamilies(ctx, result.UserID, session.ReasonReuseDetected); err != nil {
				e.logger.WithError(err).WithField("user_id", result.UserID).Warn("revoke-all after reuse failed")
			}
		}
	default:
		e.metricInc(MetricRefreshNotFound)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrSessionInvalid, func() map[string]string {
			return map[string]string{"kind": result.Kind.String()}
		})
	}
}

func (e *Engine) familyExhausted(meta session.FamilyMeta, now time.Time) bool {
	deadline, ok := e.familyDeadline(meta)
	return ok && !now.Before(deadline)
}

func claimMatchesRow(claims *jwt.RefreshClaims, row *session.RefreshToken) bool {
	return claims.FID == row.FamilyID && claims.UID == row.UserID && claims.ID == row.ID
}
