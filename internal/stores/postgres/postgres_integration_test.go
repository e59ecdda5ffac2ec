//go:build integration
// +build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abrahamahn/abe-stack-sub006/session"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("SESSIONS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SESSIONS_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := Connect(ctx, PoolConfig{DSN: dsn, MaxConns: 20})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE refresh_tokens, login_attempts, security_events, users;`)
	require.NoError(t, err)
	return pool
}

func newRow(userID, familyID string, now time.Time) *session.RefreshToken {
	return &session.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		FamilyID:  familyID,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
		Family: session.FamilyMeta{
			IPAddress: "203.0.113.7",
			UserAgent: "integration",
			CreatedAt: now,
		},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	pool := newTestPool(t)
	require.NoError(t, Migrate(context.Background(), pool))
}

func TestTokenStoreCreateAndFind(t *testing.T) {
	pool := newTestPool(t)
	store := NewTokenStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	row := newRow("u1", "f1", now)
	require.NoError(t, store.Create(ctx, row))
	assert.ErrorIs(t, store.Create(ctx, row), session.ErrDuplicateToken)

	got, err := store.FindByToken(ctx, row.Token)
	require.NoError(t, err)
	assert.Equal(t, row.ID, got.ID)
	assert.Equal(t, "203.0.113.7", got.Family.IPAddress)
	assert.Nil(t, got.Family.RevokedAt)

	_, err = store.FindByToken(ctx, "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestTokenStoreRotationRollsBack(t *testing.T) {
	pool := newTestPool(t)
	store := NewTokenStore(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	row := newRow("u1", "f1", now)
	require.NoError(t, store.Create(ctx, row))

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(q session.TokenQueries) error {
		deleted, err := q.DeleteByToken(ctx, row.Token)
		require.NoError(t, err)
		require.True(t, deleted)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.FindByToken(ctx, row.Token)
	assert.NoError(t, err, "delete must roll back")
}

func TestTokenStoreConcurrentDeleteSingleWinner(t *testing.T) {
	pool := newTestPool(t)
	store := NewTokenStore(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	row := newRow("u1", "f1", now)
	require.NoError(t, store.Create(ctx, row))

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithinTx(ctx, func(q session.TokenQueries) error {
				found, err := q.FindByToken(ctx, row.Token)
				if errors.Is(err, session.ErrNotFound) {
					return nil
				}
				if err != nil {
					return err
				}
				deleted, err := q.DeleteByToken(ctx, row.Token)
				if err != nil || !deleted {
					return err
				}
				next := newRow(found.UserID, found.FamilyID, now)
				if err := q.Create(ctx, next); err != nil {
					return err
				}
				mu.Lock()
				winners++
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	fam, err := store.FindFamilyByID(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, fam.Revoked())
}

func TestTokenStoreRevokeFamilyIsMonotonic(t *testing.T) {
	pool := newTestPool(t)
	store := NewTokenStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.Create(ctx, newRow("u1", "f1", now)))
	require.NoError(t, store.Create(ctx, newRow("u1", "f2", now)))

	n, err := store.RevokeFamily(ctx, "f1", session.ReasonReuseDetected, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = store.RevokeFamily(ctx, "f1", session.ReasonAdmin, now.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	fam, err := store.FindFamilyByID(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, fam.RevokeReason)
	assert.Equal(t, session.ReasonReuseDetected, *fam.RevokeReason)
	assert.True(t, fam.RevokedAt.Equal(now))

	active, err := store.FindActiveFamilies(ctx, "u1", now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "f2", active[0].FamilyID)

	n, err = store.RevokeAllForUser(ctx, "u1", session.ReasonLogoutAll, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestTokenStoreDeleteExpired(t *testing.T) {
	pool := newTestPool(t)
	store := NewTokenStore(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	old := newRow("u1", "f1", now.Add(-2*time.Hour))
	require.NoError(t, store.Create(ctx, old))
	require.NoError(t, store.Create(ctx, newRow("u1", "f2", now)))

	n, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestLoginAttemptLedger(t *testing.T) {
	pool := newTestPool(t)
	ledger := NewLoginAttemptLedger(pool)
	ctx := context.Background()
	now := time.Now().UTC()
	reason := "invalid_credentials"

	for i := 0; i < 3; i++ {
		require.NoError(t, ledger.Create(ctx, &session.LoginAttempt{
			ID: uuid.NewString(), Email: "alice@example.com", IPAddress: "203.0.113.7",
			FailureReason: &reason, CreatedAt: now,
		}))
	}
	require.NoError(t, ledger.Create(ctx, &session.LoginAttempt{
		ID: uuid.NewString(), Email: "alice@example.com", IPAddress: "203.0.113.7",
		Success: true, CreatedAt: now,
	}))

	attempts, err := ledger.FindRecentByEmail(ctx, "alice@example.com", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, attempts, 4)

	n, err := ledger.CountRecentByIP(ctx, "203.0.113.7", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	deleted, err := ledger.DeleteOlderThan(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 4, deleted)
}

func TestLoginAttemptEmailLookupUsesIndex(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	// An empty table would always be scanned, so rule that plan out.
	_, err = tx.Exec(ctx, `SET LOCAL enable_seqscan = off;`)
	require.NoError(t, err)

	rows, err := tx.Query(ctx, `
    EXPLAIN SELECT id, email, ip_address, user_agent, success, failure_reason, created_at
    FROM login_attempts
    WHERE email = 'alice@example.com' AND created_at >= now() - interval '15 minutes'
    ORDER BY created_at;`)
	require.NoError(t, err)
	plan, err := pgx.CollectRows(rows, pgx.RowTo[string])
	require.NoError(t, err)

	assert.Contains(t, strings.Join(plan, "\n"), "login_attempts_email_idx")
}

func TestSecurityEventStore(t *testing.T) {
	pool := newTestPool(t)
	events := NewSecurityEventStore(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, events.Create(ctx, &session.SecurityEvent{
		ID: uuid.NewString(), Type: session.EventRefreshReuseDetected, UserID: "u1", FamilyID: "f1",
		Metadata: map[string]string{"token_id": "t1"}, CreatedAt: now,
	}))
	require.NoError(t, events.Create(ctx, &session.SecurityEvent{
		ID: uuid.NewString(), Type: session.EventFamiliesRevoked, UserID: "u1", CreatedAt: now.Add(time.Second),
	}))

	got, err := events.FindByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, session.EventFamiliesRevoked, got[0].Type)
	assert.Equal(t, "t1", got[1].Metadata["token_id"])
}

func TestUserStore(t *testing.T) {
	pool := newTestPool(t)
	users := NewUserStore(pool)
	ctx := context.Background()

	id, err := users.CreateUser(ctx, "Alice@Example.com", "hash")
	require.NoError(t, err)

	_, err = users.CreateUser(ctx, "alice@example.com", "other")
	assert.ErrorIs(t, err, ErrUserExists)

	gotID, hash, err := users.FindCredentials(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, "hash", hash)

	_, _, err = users.FindCredentials(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
