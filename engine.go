package tokenauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abrahamahn/abe-stack-sub006/internal/audit"
	"github.com/abrahamahn/abe-stack-sub006/internal/limiters"
	"github.com/abrahamahn/abe-stack-sub006/internal/rate"
	"github.com/abrahamahn/abe-stack-sub006/jwt"
	"github.com/abrahamahn/abe-stack-sub006/refresh"
	"github.com/abrahamahn/abe-stack-sub006/session"
	"github.com/sirupsen/logrus"
)

// Engine runs login, rotation, reuse detection and revocation against the
// configured stores. It holds no per-session state of its own; every decision
// is made from the stores, so any number of Engines may share them.
type Engine struct {
	config     Config
	tokens     session.TokenStore
	attempts   session.LoginAttemptLedger
	events     session.SecurityEventSink
	verifier   CredentialVerifier
	lockout    *limiters.LockoutGate
	throttle   *rate.Limiter
	audit      *audit.Dispatcher
	metrics    *Metrics
	jwtManager *jwt.Manager
	logger     logrus.FieldLogger
	now        func() time.Time
}

// Close flushes and stops the audit dispatcher. Stores are owned by the
// caller and are not closed.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditStats reports what the audit dispatcher did with emitted events.
func (e *Engine) AuditStats() AuditStats {
	if e == nil || e.audit == nil {
		return AuditStats{}
	}
	return e.audit.Stats()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login checks the lockout gate, verifies credentials and starts a new token
// family. Every attempt that reaches a decision is appended to the ledger.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil || e.verifier == nil {
		return nil, ErrEngineNotReady
	}

	identifier := limiters.NormalizeIdentifier(req.Identifier)
	ip := firstNonEmpty(req.IPAddress, ClientIPFromContext(ctx))
	ua := firstNonEmpty(req.UserAgent, UserAgentFromContext(ctx))
	if identifier == "" || req.Password == "" {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	decision, err := e.CheckLockout(ctx, identifier, ip)
	if err != nil {
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", err, func() map[string]string {
			return map[string]string{"identifier": identifier}
		})
		return nil, err
	}
	if decision == LockoutLocked {
		e.metricInc(MetricLoginLocked)
		e.recordAttempt(ctx, identifier, ip, ua, false, failureLocked)
		e.writeSecurityEvent(ctx, &session.SecurityEvent{
			Type:      session.EventLoginLocked,
			IPAddress: ip,
			UserAgent: ua,
			Metadata:  map[string]string{"identifier": identifier},
		})
		e.emitAudit(ctx, auditEventLoginLocked, false, "", "", ErrLoginLocked, func() map[string]string {
			return map[string]string{"identifier": identifier}
		})
		return nil, ErrLoginLocked
	}

	userID, ok, err := e.verifier.VerifyCredentials(ctx, identifier, req.Password)
	if err != nil {
		e.logger.WithError(err).Error("credential verification failed")
		return nil, fmt.Errorf("%w: %v", ErrCredentialsUnavailable, err)
	}
	if !ok || userID == "" {
		e.metricInc(MetricLoginFailure)
		e.recordAttempt(ctx, identifier, ip, ua, false, failureInvalidCredentials)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"identifier": identifier}
		})
		return nil, ErrInvalidCredentials
	}

	issued, err := e.IssueSession(ctx, userID, ip, ua)
	if err != nil {
		e.recordAttempt(ctx, identifier, ip, ua, false, failureSessionIssue)
		return nil, err
	}

	access, accessExp, err := e.jwtManager.CreateAccess(userID, issued.FamilyID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.recordAttempt(ctx, identifier, ip, ua, true, "")
	e.emitAudit(ctx, auditEventLoginSuccess, true, userID, issued.FamilyID, nil, nil)

	return &LoginResult{
		UserID:           userID,
		FamilyID:         issued.FamilyID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     issued.Token,
		RefreshExpiresAt: issued.ExpiresAt,
	}, nil
}

// Refresh rotates presented and mints a new access token. Every failure other
// than storage, throttling or cancellation is reported as ErrSessionInvalid.
func (e *Engine) Refresh(ctx context.Context, presented string) (*LoginResult, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	if familyID := e.peekFamily(presented); familyID != "" {
		limited, err := e.refreshThrottled(ctx, familyID, presented)
		if err != nil {
			return nil, err
		}
		if limited {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, "", familyID, ErrRefreshRateLimited, nil)
			return nil, ErrRefreshRateLimited
		}
	}

	res, err := e.Rotate(ctx, presented)
	if err != nil {
		return nil, err
	}
	if res.Kind != RotationRotated {
		return nil, ErrSessionInvalid
	}

	access, accessExp, err := e.jwtManager.CreateAccess(res.UserID, res.FamilyID)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		UserID:           res.UserID,
		FamilyID:         res.FamilyID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     res.Token,
		RefreshExpiresAt: res.ExpiresAt,
	}, nil
}

// Logout revokes the family of presented with reason "logout". Unknown tokens
// are not an error, so logout reveals nothing about token validity.
func (e *Engine) Logout(ctx context.Context, presented string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}

	familyID, userID := "", ""
	p, err := refresh.Decode(presented)
	if err != nil {
		return nil
	}

	row, err := e.tokens.FindByToken(ctx, refresh.HashSecret(p.Secret))
	switch {
	case err == nil:
		familyID, userID = row.FamilyID, row.UserID
	case errors.Is(err, session.ErrNotFound):
		if claims := e.parseClaim(p); claims != nil {
			familyID, userID = claims.FID, claims.UID
		}
	default:
		return e.storageFailure(err)
	}
	if familyID == "" {
		return nil
	}

	rev, err := e.revokeAndRecord(ctx, familyID, userID, session.ReasonLogout, auditEventLogout)
	if err != nil {
		return err
	}
	if rev.outcome == FamilyRevokedNow {
		e.metricInc(MetricLogout)
	}
	return nil
}

// LogoutAll revokes every family of userID.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := e.RevokeAllFamilies(ctx, userID, session.ReasonLogoutAll)
	if err != nil {
		return 0, err
	}
	e.metricInc(MetricLogoutAll)
	return n, nil
}

// ValidateAccess verifies an access token using the configured
// ValidationMode. In ModeStrict the token's family must also still be
// unrevoked in the store.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*AccessIdentity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.ValidateAccessWithMode(ctx, token, e.config.ValidationMode)
}

// ValidateAccessWithMode is ValidateAccess with a per-call mode, for routes
// that need stricter or cheaper checks than the engine default.
func (e *Engine) ValidateAccessWithMode(ctx context.Context, token string, mode ValidationMode) (*AccessIdentity, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(token)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	identity := &AccessIdentity{UserID: claims.UID, FamilyID: claims.FID}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}

	if mode != ModeStrict {
		return identity, nil
	}

	family, err := e.tokens.FindFamilyByID(ctx, claims.FID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrSessionInvalid
	}
	if err != nil {
		return nil, e.storageFailure(err)
	}
	if family.Revoked() || family.UserID != claims.UID {
		return nil, ErrSessionInvalid
	}
	return identity, nil
}

// peekFamily returns the family named by a verifiable claim, or "".
func (e *Engine) peekFamily(presented string) string {
	if e.throttle == nil {
		return ""
	}
	p, err := refresh.Decode(presented)
	if err != nil {
		return ""
	}
	if claims := e.parseClaim(p); claims != nil {
		return claims.FID
	}
	return ""
}

// refreshThrottled reports whether a refresh of familyID must be refused by
// the throttle. Only the family's live token is ever refused: a replayed dead
// token still goes through Rotate, so reuse is detected and answered like any
// other invalid session.
func (e *Engine) refreshThrottled(ctx context.Context, familyID, presented string) (bool, error) {
	err := e.throttle.CheckRefresh(ctx, familyID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, rate.ErrRateLimited) {
		// The throttle only bounds request rate; rotation stays correct
		// without it.
		e.logger.WithError(err).WithField("family_id", familyID).Warn("refresh throttle unavailable")
		return false, nil
	}

	p, err := refresh.Decode(presented)
	if err != nil {
		return false, nil
	}
	row, err := e.tokens.FindByToken(ctx, refresh.HashSecret(p.Secret))
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, e.storageFailure(err)
	}
	return !row.Family.Revoked() && !row.Expired(e.now()), nil
}

func (e *Engine) parseClaim(p refresh.Presented) *jwt.RefreshClaims {
	if !p.HasClaim() {
		return nil
	}
	claims, err := e.jwtManager.ParseRefreshClaim(p.Claim)
	if err != nil {
		return nil
	}
	return claims
}

func (e *Engine) storageFailure(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	e.metricInc(MetricStorageFailure)
	e.logger.WithError(err).Error("session store operation failed")
	return fmt.Errorf("%w: %v", ErrStorageFailure, err)
}
