package tokenauth

import (
	"context"
	"errors"
	"testing"

	"github.com/abrahamahn/abe-stack-sub006/session"
)

func TestRevokeFamilyOutcomes(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	ctx := context.Background()
	login := env.loginAlice(t)

	if out, err := env.engine.RevokeFamily(ctx, "missing", ""); err != nil || out != FamilyUnknown {
		t.Fatalf("expected unknown, got %s %v", out, err)
	}
	if out, err := env.engine.RevokeFamily(ctx, login.FamilyID, ""); err != nil || out != FamilyRevokedNow {
		t.Fatalf("expected revoked, got %s %v", out, err)
	}
	if out, err := env.engine.RevokeFamily(ctx, login.FamilyID, session.ReasonLogout); err != nil || out != FamilyAlreadyRevoked {
		t.Fatalf("expected already revoked, got %s %v", out, err)
	}

	fam, err := env.engine.FindFamily(ctx, login.FamilyID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if *fam.RevokeReason != session.ReasonAdmin {
		t.Fatalf("expected first reason kept, got %q", *fam.RevokeReason)
	}
	if _, err := env.engine.RevokeFamily(ctx, "", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestLogoutRevokesFamily(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	ctx := context.Background()
	login := env.loginAlice(t)

	if err := env.engine.Logout(ctx, login.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid after logout, got %v", err)
	}

	fam, err := env.engine.FindFamily(ctx, login.FamilyID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if *fam.RevokeReason != session.ReasonLogout {
		t.Fatalf("expected logout reason, got %q", *fam.RevokeReason)
	}
}

func TestLogoutWithRotatedTokenUsesClaim(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	ctx := context.Background()
	login := env.loginAlice(t)
	next := env.rotate(t, login.RefreshToken)

	if err := env.engine.Logout(ctx, login.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if res := env.rotate(t, next.Token); res.Kind != RotationFamilyRevoked {
		t.Fatalf("expected family revoked via claim, got %s", res.Kind)
	}
}

func TestLogoutUnknownTokenIsNoop(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	for _, tok := range []string{"", "junk", "a.b.c.d"} {
		if err := env.engine.Logout(context.Background(), tok); err != nil {
			t.Fatalf("%q: expected nil, got %v", tok, err)
		}
	}
}

func TestLogoutAllRevokesEveryFamily(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	ctx := context.Background()
	a := env.loginAlice(t)
	b := env.loginAlice(t)
	bob := env.login(t, "bob@example.com", "hunter2-hunter2")

	n, err := env.engine.LogoutAll(ctx, "user-alice")
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows revoked, got %d", n)
	}
	for _, tok := range []string{a.RefreshToken, b.RefreshToken} {
		if res := env.rotate(t, tok); res.Kind != RotationFamilyRevoked {
			t.Fatalf("expected revoked, got %s", res.Kind)
		}
	}
	if res := env.rotate(t, bob.RefreshToken); res.Kind != RotationRotated {
		t.Fatalf("other users must be untouched, got %s", res.Kind)
	}

	events := eventsOfType(env.events.Events(), session.EventFamiliesRevoked)
	if len(events) != 1 || events[0].Metadata["reason"] != session.ReasonLogoutAll {
		t.Fatalf("expected families_revoked event, got %+v", events)
	}

	if n, err := env.engine.LogoutAll(ctx, "user-alice"); err != nil || n != 0 {
		t.Fatalf("expected idempotent logout-all, got %d %v", n, err)
	}
}

func TestRevokeUserFamilyChecksOwner(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	ctx := context.Background()
	login := env.loginAlice(t)

	if out, err := env.engine.RevokeUserFamily(ctx, "user-bob", login.FamilyID); err != nil || out != FamilyUnknown {
		t.Fatalf("expected foreign family treated as unknown, got %s %v", out, err)
	}
	if out, err := env.engine.RevokeUserFamily(ctx, "user-alice", login.FamilyID); err != nil || out != FamilyRevokedNow {
		t.Fatalf("expected revoked, got %s %v", out, err)
	}
}

func TestSecurityEventsQuery(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	ctx := context.Background()
	login := env.loginAlice(t)
	env.rotate(t, login.RefreshToken)
	env.rotate(t, login.RefreshToken)

	events, err := env.engine.SecurityEvents(ctx, "user-alice", 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].Type != session.EventRefreshReuseDetected {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestSecurityEventsUnsupportedWithoutReader(t *testing.T) {
	cfg := testConfig(t)
	tokens := session.NewMemoryStore()
	engine, err := New().
		WithConfig(cfg).
		WithTokenStore(tokens).
		WithLoginAttemptLedger(session.NewMemoryLedger()).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	if _, err := engine.SecurityEvents(context.Background(), "user-alice", 10); !errors.Is(err, ErrEventsUnsupported) {
		t.Fatalf("expected ErrEventsUnsupported, got %v", err)
	}
}

func TestFamilyRevocationsWriteSecurityEvents(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	ctx := context.Background()
	admin := env.loginAlice(t)
	logout := env.loginAlice(t)
	device := env.loginAlice(t)

	if _, err := env.engine.RevokeFamily(ctx, admin.FamilyID, ""); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := env.engine.Logout(ctx, logout.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := env.engine.RevokeUserFamily(ctx, "user-alice", device.FamilyID); err != nil {
		t.Fatalf("revoke user family: %v", err)
	}

	// Repeats change nothing and write nothing.
	if _, err := env.engine.RevokeFamily(ctx, admin.FamilyID, ""); err != nil {
		t.Fatalf("revoke again: %v", err)
	}
	if err := env.engine.Logout(ctx, logout.RefreshToken); err != nil {
		t.Fatalf("logout again: %v", err)
	}

	want := map[string]string{
		admin.FamilyID:  session.ReasonAdmin,
		logout.FamilyID: session.ReasonLogout,
		device.FamilyID: session.ReasonLogout,
	}
	events := eventsOfType(env.events.Events(), session.EventFamilyRevoked)
	if len(events) != len(want) {
		t.Fatalf("expected %d family_revoked events, got %+v", len(want), events)
	}
	for _, ev := range events {
		if ev.UserID != "user-alice" {
			t.Fatalf("expected owner on event, got %+v", ev)
		}
		if ev.Metadata["reason"] != want[ev.FamilyID] || ev.Metadata["revoked_rows"] != "1" {
			t.Fatalf("unexpected metadata for %s: %+v", ev.FamilyID, ev.Metadata)
		}
	}

	counters := env.engine.MetricsSnapshot().Counters
	if counters[MetricFamilyRevoked] != 3 || counters[MetricRevokedAdmin] != 1 || counters[MetricRevokedLogout] != 2 {
		t.Fatalf("unexpected revocation counters revoked=%d admin=%d logout=%d",
			counters[MetricFamilyRevoked], counters[MetricRevokedAdmin], counters[MetricRevokedLogout])
	}
	if counters[MetricLogout] != 1 {
		t.Fatalf("expected one effective logout, got %d", counters[MetricLogout])
	}
}

func TestWritesTakeFamilyLockFirst(t *testing.T) {
	store := &lockRecordingStore{MemoryStore: session.NewMemoryStore()}
	env := newTestEnv(t, testConfig(t), func(b *Builder) { b.WithTokenStore(store) })
	ctx := context.Background()

	rotated := env.loginAlice(t)
	revoked := env.loginAlice(t)
	loggedOut := env.loginAlice(t)
	store.take()

	next := env.rotate(t, rotated.RefreshToken)
	assertCalls(t, "rotate", store.take(), "lock "+rotated.FamilyID, "delete", "create "+rotated.FamilyID)

	if _, err := env.engine.RevokeFamily(ctx, revoked.FamilyID, ""); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	assertCalls(t, "revoke", store.take(), "lock "+revoked.FamilyID, "revoke "+revoked.FamilyID)

	if err := env.engine.Logout(ctx, loggedOut.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	assertCalls(t, "logout", store.take(), "lock "+loggedOut.FamilyID, "revoke "+loggedOut.FamilyID)

	env.rotate(t, rotated.RefreshToken)
	assertCalls(t, "replay", store.take(), "lock "+rotated.FamilyID, "revoke "+rotated.FamilyID)

	if res := env.rotate(t, next.Token); res.Kind != RotationFamilyRevoked {
		t.Fatalf("expected successor revoked by replay, got %s", res.Kind)
	}
}

func assertCalls(t *testing.T, op string, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: expected calls %q, got %q", op, want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: expected calls %q, got %q", op, want, got)
		}
	}
}
