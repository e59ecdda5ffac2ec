package tokenauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/abrahamahn/abe-stack-sub006/internal"
	"github.com/abrahamahn/abe-stack-sub006/internal/limiters"
	"github.com/abrahamahn/abe-stack-sub006/session"
	"github.com/sirupsen/logrus"
)

// Ledger failure reasons.
const (
	failureInvalidCredentials = "invalid_credentials"
	failureLocked             = "locked"
	failureSessionIssue       = session.FailureSessionIssue
)

// CheckLockout reports whether identifier may attempt a login. The decision
// is computed from the ledger on every call: Locked iff the failed attempts
// for identifier inside Lockout.Window reach Lockout.Threshold (or the
// address reaches Lockout.IPThreshold). A ledger read failure returns
// ErrLockoutUnavailable rather than guessing.
func (e *Engine) CheckLockout(ctx context.Context, identifier, ipAddress string) (LockoutDecision, error) {
	if e == nil {
		return LockoutAllowed, ErrEngineNotReady
	}

	decision, failures, err := e.lockout.Check(ctx, identifier, ipAddress)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return LockoutAllowed, err
		}
		e.metricInc(MetricLockoutUnavailable)
		e.logger.WithError(err).WithField("identifier", limiters.NormalizeIdentifier(identifier)).Error("lockout check failed")
		return LockoutAllowed, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if decision == LockoutLocked {
		e.logger.WithFields(logrus.Fields{
			"identifier": limiters.NormalizeIdentifier(identifier),
			"failures":   failures,
		}).Info("login locked out")
	}
	return decision, nil
}

// RecordLoginAttempt appends one attempt to the ledger.
func (e *Engine) RecordLoginAttempt(ctx context.Context, in LoginAttemptInput) error {
	if e == nil || e.attempts == nil {
		return ErrEngineNotReady
	}
	identifier := limiters.NormalizeIdentifier(in.Identifier)
	if identifier == "" {
		return ErrInvalidRequest
	}

	attempt := &session.LoginAttempt{
		ID:        internal.NewEventID(),
		Email:     identifier,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
		Success:   in.Success,
		CreatedAt: e.now(),
	}
	if !in.Success && in.FailureReason != "" {
		reason := in.FailureReason
		attempt.FailureReason = &reason
	}

	if err := e.attempts.Create(ctx, attempt); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

// recordAttempt is the best-effort form used inside Login: a ledger outage
// must not fail a login that has already been decided. It does, however,
// stop lockout from counting the attempt, so it is logged and counted.
func (e *Engine) recordAttempt(ctx context.Context, identifier, ip, ua string, success bool, reason string) {
	err := e.RecordLoginAttempt(ctx, LoginAttemptInput{
		Identifier:    identifier,
		IPAddress:     ip,
		UserAgent:     ua,
		Success:       success,
		FailureReason: reason,
	})
	if err == nil {
		return
	}
	e.metricInc(MetricLedgerWriteFailure)
	e.logger.WithError(err).WithField("identifier", identifier).Warn("login attempt not recorded")
}

// PruneRetention deletes token rows expired for longer than
// Retention.TokenGrace and ledger rows older than
// Retention.LoginAttemptRetention. A zero retention keeps ledger rows.
func (e *Engine) PruneRetention(ctx context.Context) (PruneResult, error) {
	if e == nil || e.tokens == nil {
		return PruneResult{}, ErrEngineNotReady
	}

	now := e.now()
	var res PruneResult

	n, err := e.tokens.DeleteExpired(ctx, now.Add(-e.config.Retention.TokenGrace))
	if err != nil {
		return res, e.storageFailure(err)
	}
	res.TokensDeleted = n

	if e.attempts != nil && e.config.Retention.LoginAttemptRetention > 0 {
		n, err := e.attempts.DeleteOlderThan(ctx, now.Add(-e.config.Retention.LoginAttemptRetention))
		if err != nil {
			return res, e.storageFailure(err)
		}
		res.AttemptsDeleted = n
	}

	if e.metrics != nil {
		e.metrics.Add(MetricRetentionPruned, uint64(res.TokensDeleted+res.AttemptsDeleted))
	}
	e.logger.WithFields(logrus.Fields{
		"tokens_deleted":   res.TokensDeleted,
		"attempts_deleted": res.AttemptsDeleted,
	}).Debug("retention pruned")
	return res, nil
}
