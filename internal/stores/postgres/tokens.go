package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abrahamahn/abe-stack-sub006/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tokenColumns = `id, user_id, family_id, token, expires_at, created_at,
    family_ip_address, family_user_agent, family_created_at,
    family_revoked_at, family_revoke_reason`

// TokenStore is a session.TokenStore over the refresh_tokens table.
type TokenStore struct {
	pool *pgxpool.Pool
	tokenQueries
}

// NewTokenStore returns a TokenStore using pool.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{
		pool:         pool,
		tokenQueries: tokenQueries{db: pool},
	}
}

// WithinTx runs fn in a READ COMMITTED transaction. The transaction commits
// only if fn returns nil and ctx is still live.
func (s *TokenStore) WithinTx(ctx context.Context, fn func(q session.TokenQueries) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if err := fn(tokenQueries{db: tx, lock: true}); err != nil {
			return err
		}
		return ctx.Err()
	})
}

func (s *TokenStore) FindActiveFamilies(ctx context.Context, userID string, now time.Time) ([]session.Family, error) {
	rows, err := s.pool.Query(ctx, `
    SELECT family_id, user_id, family_ip_address, family_user_agent,
           family_created_at, max(expires_at)
    FROM refresh_tokens
    WHERE user_id = $1 AND family_revoked_at IS NULL
    GROUP BY family_id, user_id, family_ip_address, family_user_agent, family_created_at
    HAVING max(expires_at) > $2
    ORDER BY family_created_at, family_id;`, userID, now)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.Family, error) {
		var f session.Family
		err := row.Scan(&f.FamilyID, &f.UserID, &f.IPAddress, &f.UserAgent, &f.CreatedAt, &f.LatestExpiresAt)
		return f, err
	})
}

// RevokeAllForUser takes the family lock of every unrevoked family of userID,
// in family id order so concurrent callers cannot deadlock, and then revokes
// them in one statement.
func (s *TokenStore) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	var n int64
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
    SELECT DISTINCT family_id FROM refresh_tokens
    WHERE user_id = $1 AND family_revoked_at IS NULL
    ORDER BY family_id;`, userID)
		if err != nil {
			return err
		}
		families, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}

		q := tokenQueries{db: tx, lock: true}
		for _, familyID := range families {
			if err := q.LockFamily(ctx, familyID); err != nil {
				return err
			}
		}

		tag, err := tx.Exec(ctx, `
    UPDATE refresh_tokens
    SET family_revoked_at = $2, family_revoke_reason = $3
    WHERE user_id = $1 AND family_revoked_at IS NULL;`, userID, at, reason)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("revoke user families: %w", err)
	}
	return n, nil
}

func (s *TokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1;`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// tokenQueries implements session.TokenQueries on a pool or a transaction.
// With lock set, reads take row locks.
type tokenQueries struct {
	db   querier
	lock bool
}

func (q tokenQueries) forUpdate() string {
	if q.lock {
		return " FOR UPDATE"
	}
	return ""
}

// LockFamily takes a transaction-scoped advisory lock keyed by the family id.
// Row locks alone are not enough under READ COMMITTED: an UPDATE blocked on a
// row that a rotation deletes never sees the successor the rotation inserted.
func (q tokenQueries) LockFamily(ctx context.Context, familyID string) error {
	if _, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0));`, familyID); err != nil {
		return fmt.Errorf("lock family: %w", err)
	}
	return nil
}

func (q tokenQueries) Create(ctx context.Context, t *session.RefreshToken) error {
	_, err := q.db.Exec(ctx, `
    INSERT INTO refresh_tokens (`+tokenColumns+`)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);`,
		t.ID, t.UserID, t.FamilyID, t.Token, t.ExpiresAt, t.CreatedAt,
		t.Family.IPAddress, t.Family.UserAgent, t.Family.CreatedAt,
		t.Family.RevokedAt, t.Family.RevokeReason,
	)
	if isUniqueViolation(err) {
		return session.ErrDuplicateToken
	}
	return err
}

func (q tokenQueries) FindByToken(ctx context.Context, tokenHash string) (*session.RefreshToken, error) {
	row := q.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token = $1`+q.forUpdate(), tokenHash)

	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (q tokenQueries) DeleteByToken(ctx context.Context, tokenHash string) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE token = $1;`, tokenHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FindFamilyByID folds the family's rows in Go so the rows themselves can be
// locked; aggregates cannot be selected FOR UPDATE.
func (q tokenQueries) FindFamilyByID(ctx context.Context, familyID string) (*session.Family, error) {
	rows, err := q.db.Query(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE family_id = $1`+q.forUpdate(), familyID)
	if err != nil {
		return nil, err
	}

	tokens, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*session.RefreshToken, error) {
		return scanToken(row)
	})
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, session.ErrNotFound
	}

	first := tokens[0]
	f := &session.Family{
		FamilyID:        first.FamilyID,
		UserID:          first.UserID,
		IPAddress:       first.Family.IPAddress,
		UserAgent:       first.Family.UserAgent,
		CreatedAt:       first.Family.CreatedAt,
		RevokedAt:       first.Family.RevokedAt,
		RevokeReason:    first.Family.RevokeReason,
		LatestExpiresAt: first.ExpiresAt,
	}
	for _, t := range tokens[1:] {
		if t.ExpiresAt.After(f.LatestExpiresAt) {
			f.LatestExpiresAt = t.ExpiresAt
		}
		if f.RevokedAt == nil && t.Family.RevokedAt != nil {
			f.RevokedAt, f.RevokeReason = t.Family.RevokedAt, t.Family.RevokeReason
		}
	}
	return f, nil
}

func (q tokenQueries) RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
    UPDATE refresh_tokens
    SET family_revoked_at = $2, family_revoke_reason = $3
    WHERE family_id = $1 AND family_revoked_at IS NULL;`, familyID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke family: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanToken(row pgx.Row) (*session.RefreshToken, error) {
	var t session.RefreshToken
	err := row.Scan(
		&t.ID, &t.UserID, &t.FamilyID, &t.Token, &t.ExpiresAt, &t.CreatedAt,
		&t.Family.IPAddress, &t.Family.UserAgent, &t.Family.CreatedAt,
		&t.Family.RevokedAt, &t.Family.RevokeReason,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
