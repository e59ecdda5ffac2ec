package postgres

import (
	"context"
	"time"

	"github.com/abrahamahn/abe-stack-sub006/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LoginAttemptLedger is an append-only session.LoginAttemptLedger.
type LoginAttemptLedger struct {
	db querier
}

func NewLoginAttemptLedger(pool *pgxpool.Pool) *LoginAttemptLedger {
	return &LoginAttemptLedger{db: pool}
}

func (l *LoginAttemptLedger) Create(ctx context.Context, a *session.LoginAttempt) error {
	_, err := l.db.Exec(ctx, `
    INSERT INTO login_attempts (id, email, ip_address, user_agent, success, failure_reason, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7);`,
		a.ID, a.Email, a.IPAddress, a.UserAgent, a.Success, a.FailureReason, a.CreatedAt,
	)
	return err
}

// CountRecentByIP counts failures from ip since the given time, leaving out
// attempts that failed only because the session could not be stored.
func (l *LoginAttemptLedger) CountRecentByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	var n int
	err := l.db.QueryRow(ctx, `
    SELECT count(*) FROM login_attempts
    WHERE ip_address = $1 AND created_at >= $2 AND NOT success
      AND failure_reason IS DISTINCT FROM $3;`, ip, since, session.FailureSessionIssue).Scan(&n)
	return n, err
}

// FindRecentByEmail matches email exactly so login_attempts_email_idx serves
// the lookup. Rows are written with the normalized identifier and callers
// pass it normalized.
func (l *LoginAttemptLedger) FindRecentByEmail(ctx context.Context, email string, since time.Time) ([]session.LoginAttempt, error) {
	rows, err := l.db.Query(ctx, `
    SELECT id, email, ip_address, user_agent, success, failure_reason, created_at
    FROM login_attempts
    WHERE email = $1 AND created_at >= $2
    ORDER BY created_at;`, email, since)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.LoginAttempt, error) {
		var a session.LoginAttempt
		err := row.Scan(&a.ID, &a.Email, &a.IPAddress, &a.UserAgent, &a.Success, &a.FailureReason, &a.CreatedAt)
		return a, err
	})
}

func (l *LoginAttemptLedger) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	tag, err := l.db.Exec(ctx, `DELETE FROM login_attempts WHERE created_at < $1;`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
