package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process TokenStore.
//
// Transactions hold the store mutex for their whole duration, which gives the
// same serialization that the family lock gives in SQL. It is meant
// for tests, demos and load harnesses, not as a cache in front of a database.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*RefreshToken
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*RefreshToken)}
}

type memoryTx struct {
	rows map[string]*RefreshToken
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(q TokenQueries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]*RefreshToken, len(s.rows))
	for k, v := range s.rows {
		snapshot[k] = cloneToken(v)
	}

	err := fn(memoryTx{rows: s.rows})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.rows = snapshot
		return err
	}
	return nil
}

// LockFamily is a no-op: transactions already hold the store mutex.
func (s *MemoryStore) LockFamily(context.Context, string) error { return nil }

func (s *MemoryStore) Create(ctx context.Context, token *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{rows: s.rows}.Create(ctx, token)
}

func (s *MemoryStore) FindByToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{rows: s.rows}.FindByToken(ctx, tokenHash)
}

func (s *MemoryStore) DeleteByToken(ctx context.Context, tokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{rows: s.rows}.DeleteByToken(ctx, tokenHash)
}

func (s *MemoryStore) FindFamilyByID(ctx context.Context, familyID string) (*Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{rows: s.rows}.FindFamilyByID(ctx, familyID)
}

func (s *MemoryStore) RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{rows: s.rows}.RevokeFamily(ctx, familyID, reason, at)
}

func (s *MemoryStore) FindActiveFamilies(ctx context.Context, userID string, now time.Time) ([]Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	families := groupFamilies(s.rows, func(t *RefreshToken) bool { return t.UserID == userID })
	out := make([]Family, 0, len(families))
	for _, f := range families {
		if f.Revoked() || !now.Before(f.LatestExpiresAt) {
			continue
		}
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, row := range s.rows {
		if row.UserID != userID || row.Family.Revoked() {
			continue
		}
		revokeRow(row, reason, at)
		n++
	}
	return n, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, row := range s.rows {
		if row.ExpiresAt.Before(before) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// FamilyRows returns copies of every row in a family, oldest first.
func (s *MemoryStore) FamilyRows(familyID string) []RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []RefreshToken
	for _, row := range s.rows {
		if row.FamilyID == familyID {
			out = append(out, *cloneToken(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (memoryTx) LockFamily(context.Context, string) error { return nil }

func (tx memoryTx) Create(_ context.Context, token *RefreshToken) error {
	if _, ok := tx.rows[token.Token]; ok {
		return ErrDuplicateToken
	}
	tx.rows[token.Token] = cloneToken(token)
	return nil
}

func (tx memoryTx) FindByToken(_ context.Context, tokenHash string) (*RefreshToken, error) {
	row, ok := tx.rows[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneToken(row), nil
}

func (tx memoryTx) DeleteByToken(_ context.Context, tokenHash string) (bool, error) {
	if _, ok := tx.rows[tokenHash]; !ok {
		return false, nil
	}
	delete(tx.rows, tokenHash)
	return true, nil
}

func (tx memoryTx) FindFamilyByID(_ context.Context, familyID string) (*Family, error) {
	families := groupFamilies(tx.rows, func(t *RefreshToken) bool { return t.FamilyID == familyID })
	f, ok := families[familyID]
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

func (tx memoryTx) RevokeFamily(_ context.Context, familyID, reason string, at time.Time) (int64, error) {
	var n int64
	for _, row := range tx.rows {
		if row.FamilyID != familyID || row.Family.Revoked() {
			continue
		}
		revokeRow(row, reason, at)
		n++
	}
	return n, nil
}

func revokeRow(row *RefreshToken, reason string, at time.Time) {
	ts := at
	r := reason
	row.Family.RevokedAt = &ts
	row.Family.RevokeReason = &r
}

func groupFamilies(rows map[string]*RefreshToken, match func(*RefreshToken) bool) map[string]*Family {
	out := make(map[string]*Family)
	for _, row := range rows {
		if !match(row) {
			continue
		}
		f, ok := out[row.FamilyID]
		if !ok {
			f = &Family{
				FamilyID:        row.FamilyID,
				UserID:          row.UserID,
				IPAddress:       row.Family.IPAddress,
				UserAgent:       row.Family.UserAgent,
				CreatedAt:       row.Family.CreatedAt,
				LatestExpiresAt: row.ExpiresAt,
			}
			out[row.FamilyID] = f
		}
		if row.ExpiresAt.After(f.LatestExpiresAt) {
			f.LatestExpiresAt = row.ExpiresAt
		}
		if row.Family.RevokedAt != nil && f.RevokedAt == nil {
			ts := *row.Family.RevokedAt
			f.RevokedAt = &ts
			if row.Family.RevokeReason != nil {
				r := *row.Family.RevokeReason
				f.RevokeReason = &r
			}
		}
	}
	return out
}

func cloneToken(t *RefreshToken) *RefreshToken {
	c := *t
	if t.Family.RevokedAt != nil {
		ts := *t.Family.RevokedAt
		c.Family.RevokedAt = &ts
	}
	if t.Family.RevokeReason != nil {
		r := *t.Family.RevokeReason
		c.Family.RevokeReason = &r
	}
	return &c
}

// MemoryLedger is an in-process LoginAttemptLedger.
type MemoryLedger struct {
	mu       sync.Mutex
	attempts []LoginAttempt
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) Create(_ context.Context, attempt *LoginAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, *attempt)
	return nil
}

func (l *MemoryLedger) CountRecentByIP(_ context.Context, ip string, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, a := range l.attempts {
		if a.IPAddress == ip && a.CountsTowardLockout() && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (l *MemoryLedger) FindRecentByEmail(_ context.Context, email string, since time.Time) ([]LoginAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []LoginAttempt
	for _, a := range l.attempts {
		if a.Email == email && !a.CreatedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (l *MemoryLedger) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.attempts[:0]
	var n int64
	for _, a := range l.attempts {
		if a.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	l.attempts = kept
	return n, nil
}

// Attempts returns a copy of every recorded attempt.
func (l *MemoryLedger) Attempts() []LoginAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LoginAttempt(nil), l.attempts...)
}

// MemoryEventSink is an in-process SecurityEventSink and SecurityEventReader.
type MemoryEventSink struct {
	mu     sync.Mutex
	events []SecurityEvent
}

// NewMemoryEventSink returns an empty MemoryEventSink.
func NewMemoryEventSink() *MemoryEventSink {
	return &MemoryEventSink{}
}

func (s *MemoryEventSink) Create(_ context.Context, event *SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

// FindByUser returns the newest events first.
func (s *MemoryEventSink) FindByUser(_ context.Context, userID string, limit int) ([]SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []SecurityEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].UserID != userID {
			continue
		}
		out = append(out, s.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Events returns a copy of every stored event.
func (s *MemoryEventSink) Events() []SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SecurityEvent(nil), s.events...)
}
