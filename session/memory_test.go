package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testRow(hash, family string, now time.Time) *RefreshToken {
	return &RefreshToken{
		ID:        "tok-" + hash,
		UserID:    "u-1",
		FamilyID:  family,
		Token:     hash,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
		Family: FamilyMeta{
			IPAddress: "10.0.0.1",
			UserAgent: "test-agent",
			CreatedAt: now,
		},
	}
}

func TestMemoryStoreRejectsDuplicateDigest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	if err := store.Create(ctx, testRow("h1", "f1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, testRow("h1", "f2", now)); !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("expected ErrDuplicateToken, got %v", err)
	}
}

func TestMemoryStoreRollbackRestoresRows(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	if err := store.Create(ctx, testRow("h1", "f1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(q TokenQueries) error {
		if _, err := q.DeleteByToken(ctx, "h1"); err != nil {
			return err
		}
		if err := q.Create(ctx, testRow("h2", "f1", now)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := store.FindByToken(ctx, "h1"); err != nil {
		t.Fatalf("expected original row restored, got %v", err)
	}
	if _, err := store.FindByToken(ctx, "h2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected successor rolled back, got %v", err)
	}
}

func TestMemoryStoreRollbackOnCanceledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	if err := store.Create(ctx, testRow("h1", "f1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := store.WithinTx(ctx, func(q TokenQueries) error {
		if _, err := q.DeleteByToken(ctx, "h1"); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected rollback to keep 1 row, got %d", store.Len())
	}
}

func TestMemoryStoreRevokeFamilyIsMonotonic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	for _, h := range []string{"h1", "h2"} {
		if err := store.Create(ctx, testRow(h, "f1", now)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	n, err := store.RevokeFamily(ctx, "f1", ReasonReuseDetected, now)
	if err != nil || n != 2 {
		t.Fatalf("first revoke: n=%d err=%v", n, err)
	}

	later := now.Add(time.Minute)
	n, err = store.RevokeFamily(ctx, "f1", ReasonLogout, later)
	if err != nil || n != 0 {
		t.Fatalf("second revoke: n=%d err=%v", n, err)
	}

	fam, err := store.FindFamilyByID(ctx, "f1")
	if err != nil {
		t.Fatalf("find family: %v", err)
	}
	if fam.RevokedAt == nil || !fam.RevokedAt.Equal(now) {
		t.Fatalf("revocation timestamp changed: %v", fam.RevokedAt)
	}
	if fam.RevokeReason == nil || *fam.RevokeReason != ReasonReuseDetected {
		t.Fatalf("revocation reason changed: %v", fam.RevokeReason)
	}
}

func TestMemoryStoreActiveFamiliesSkipsRevokedAndExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	live := testRow("h1", "live", now)
	revoked := testRow("h2", "revoked", now)
	expired := testRow("h3", "expired", now)
	expired.ExpiresAt = now.Add(-time.Second)

	for _, row := range []*RefreshToken{live, revoked, expired} {
		if err := store.Create(ctx, row); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := store.RevokeFamily(ctx, "revoked", ReasonLogout, now); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	families, err := store.FindActiveFamilies(ctx, "u-1", now)
	if err != nil {
		t.Fatalf("active families: %v", err)
	}
	if len(families) != 1 || families[0].FamilyID != "live" {
		t.Fatalf("unexpected active families: %+v", families)
	}

	n, err := store.DeleteExpired(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("delete expired: n=%d err=%v", n, err)
	}
}

func TestMemoryLedgerCountsOnlyFailures(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()
	now := time.Now()
	reason := "invalid_credentials"

	attempts := []LoginAttempt{
		{Email: "a@example.com", IPAddress: "1.1.1.1", Success: false, FailureReason: &reason, CreatedAt: now},
		{Email: "a@example.com", IPAddress: "1.1.1.1", Success: true, CreatedAt: now},
		{Email: "b@example.com", IPAddress: "1.1.1.1", Success: false, FailureReason: &reason, CreatedAt: now.Add(-2 * time.Hour)},
	}
	for i := range attempts {
		if err := ledger.Create(ctx, &attempts[i]); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	n, err := ledger.CountRecentByIP(ctx, "1.1.1.1", now.Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("count by ip: n=%d err=%v", n, err)
	}

	found, err := ledger.FindRecentByEmail(ctx, "a@example.com", now.Add(-time.Hour))
	if err != nil || len(found) != 2 {
		t.Fatalf("find by email: %d rows err=%v", len(found), err)
	}
	// Identifiers are normalized before they reach the ledger.
	if found, _ := ledger.FindRecentByEmail(ctx, "A@example.com", now.Add(-time.Hour)); len(found) != 0 {
		t.Fatalf("expected exact email match, got %d rows", len(found))
	}

	pruned, err := ledger.DeleteOlderThan(ctx, now.Add(-time.Hour))
	if err != nil || pruned != 1 {
		t.Fatalf("prune: n=%d err=%v", pruned, err)
	}
	if len(ledger.Attempts()) != 2 {
		t.Fatalf("expected 2 attempts after prune, got %d", len(ledger.Attempts()))
	}
}

func TestMemoryLedgerIgnoresSessionIssueFailures(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()
	now := time.Now()
	reason := FailureSessionIssue

	if err := ledger.Create(ctx, &LoginAttempt{Email: "a@example.com", IPAddress: "1.1.1.1", FailureReason: &reason, CreatedAt: now}); err != nil {
		t.Fatalf("create: %v", err)
	}
	n, err := ledger.CountRecentByIP(ctx, "1.1.1.1", now.Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("count by ip: n=%d err=%v", n, err)
	}
	if len(ledger.Attempts()) != 1 {
		t.Fatal("the attempt must still be recorded")
	}
}
