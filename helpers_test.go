package tokenauth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abrahamahn/abe-stack-sub006/session"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
)

var errStoreDown = errors.New("store down")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testUser struct {
	id       string
	password string
}

type fakeVerifier struct {
	mu    sync.Mutex
	users map[string]testUser
	err   error
	calls int
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{users: map[string]testUser{
		"alice@example.com": {id: "user-alice", password: "correct-password-123"},
		"bob@example.com":   {id: "user-bob", password: "hunter2-hunter2"},
	}}
}

func (v *fakeVerifier) VerifyCredentials(_ context.Context, identifier, password string) (string, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return "", false, v.err
	}
	u, ok := v.users[identifier]
	if !ok || u.password != password {
		return "", false, nil
	}
	return u.id, true, nil
}

func (v *fakeVerifier) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// flakyLedger wraps a MemoryLedger with switchable read and write failures.
type flakyLedger struct {
	*session.MemoryLedger
	mu       sync.Mutex
	writeErr error
	readErr  error
}

func (l *flakyLedger) set(writeErr, readErr error) {
	l.mu.Lock()
	l.writeErr, l.readErr = writeErr, readErr
	l.mu.Unlock()
}

func (l *flakyLedger) Create(ctx context.Context, a *session.LoginAttempt) error {
	l.mu.Lock()
	err := l.writeErr
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return l.MemoryLedger.Create(ctx, a)
}

func (l *flakyLedger) FindRecentByEmail(ctx context.Context, email string, since time.Time) ([]session.LoginAttempt, error) {
	l.mu.Lock()
	err := l.readErr
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return l.MemoryLedger.FindRecentByEmail(ctx, email, since)
}

// failingInsertStore lets rotation delete the presented row and then fails
// the successor insert, so the whole transaction must roll back.
type failingInsertStore struct {
	*session.MemoryStore
}

type failingInsertQueries struct {
	session.TokenQueries
}

func (failingInsertQueries) Create(context.Context, *session.RefreshToken) error {
	return errStoreDown
}

func (s failingInsertStore) WithinTx(ctx context.Context, fn func(q session.TokenQueries) error) error {
	return s.MemoryStore.WithinTx(ctx, func(q session.TokenQueries) error {
		return fn(failingInsertQueries{TokenQueries: q})
	})
}

// failingCreateStore refuses every new family, as a token store outage would.
type failingCreateStore struct {
	*session.MemoryStore
}

func (failingCreateStore) Create(context.Context, *session.RefreshToken) error {
	return errStoreDown
}

// lockRecordingStore records the order of writes inside transactions so
// tests can check that the family lock is taken first.
type lockRecordingStore struct {
	*session.MemoryStore
	mu    sync.Mutex
	calls []string
}

type lockRecordingQueries struct {
	session.TokenQueries
	store *lockRecordingStore
}

func (s *lockRecordingStore) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

// take returns the recorded calls and starts a new recording.
func (s *lockRecordingStore) take() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := s.calls
	s.calls = nil
	return calls
}

func (s *lockRecordingStore) WithinTx(ctx context.Context, fn func(q session.TokenQueries) error) error {
	return s.MemoryStore.WithinTx(ctx, func(q session.TokenQueries) error {
		return fn(lockRecordingQueries{TokenQueries: q, store: s})
	})
}

func (q lockRecordingQueries) LockFamily(ctx context.Context, familyID string) error {
	q.store.record("lock " + familyID)
	return q.TokenQueries.LockFamily(ctx, familyID)
}

func (q lockRecordingQueries) Create(ctx context.Context, token *session.RefreshToken) error {
	q.store.record("create " + token.FamilyID)
	return q.TokenQueries.Create(ctx, token)
}

func (q lockRecordingQueries) DeleteByToken(ctx context.Context, tokenHash string) (bool, error) {
	q.store.record("delete")
	return q.TokenQueries.DeleteByToken(ctx, tokenHash)
}

func (q lockRecordingQueries) RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int64, error) {
	q.store.record("revoke " + familyID)
	return q.TokenQueries.RevokeFamily(ctx, familyID, reason, at)
}

type testEnv struct {
	engine   *Engine
	tokens   *session.MemoryStore
	ledger   *flakyLedger
	events   *session.MemoryEventSink
	verifier *fakeVerifier
	clock    *testClock
	logs     *logrustest.Hook
}

type envOption func(*Builder)

func testConfig(t testing.TB) Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEnv(t testing.TB, cfg Config, opts ...envOption) *testEnv {
	t.Helper()

	logger, hook := logrustest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	env := &testEnv{
		tokens:   session.NewMemoryStore(),
		ledger:   &flakyLedger{MemoryLedger: session.NewMemoryLedger()},
		events:   session.NewMemoryEventSink(),
		verifier: newFakeVerifier(),
		clock:    newTestClock(),
		logs:     hook,
	}

	b := New().
		WithConfig(cfg).
		WithTokenStore(env.tokens).
		WithLoginAttemptLedger(env.ledger).
		WithSecurityEventSink(env.events).
		WithCredentialVerifier(env.verifier).
		WithLogger(logger).
		WithClock(env.clock.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) login(t testing.TB, identifier, password string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), LoginRequest{
		Identifier: identifier,
		Password:   password,
		IPAddress:  "203.0.113.7",
		UserAgent:  "test-agent",
	})
	if err != nil {
		t.Fatalf("login %s: %v", identifier, err)
	}
	return res
}

func (env *testEnv) loginAlice(t testing.TB) *LoginResult {
	t.Helper()
	return env.login(t, "alice@example.com", "correct-password-123")
}

func (env *testEnv) rotate(t testing.TB, token string) RotationResult {
	t.Helper()
	res, err := env.engine.Rotate(context.Background(), token)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	return res
}

func (env *testEnv) failLogin(identifier string) error {
	_, err := env.engine.Login(context.Background(), LoginRequest{
		Identifier: identifier,
		Password:   "wrong-password",
		IPAddress:  "203.0.113.7",
	})
	return err
}

func eventsOfType(events []session.SecurityEvent, typ string) []session.SecurityEvent {
	var out []session.SecurityEvent
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
