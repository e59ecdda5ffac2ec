package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abrahamahn/abe-stack-sub006/session"
)

// LockoutConfig holds configuration for the ledger-backed lockout gate.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
	// IPThreshold locks every identifier tried from one address once that
	// address accumulates this many failures in Window. 0 disables it.
	IPThreshold int
}

// Decision is the outcome of a lockout check.
type Decision int

const (
	Allowed Decision = iota
	Locked
)

func (d Decision) String() string {
	if d == Locked {
		return "locked"
	}
	return "allowed"
}

var (
	// ErrLockoutUnavailable indicates the attempt ledger could not be read.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// AttemptReader is the read side of the login attempt ledger.
type AttemptReader interface {
	CountRecentByIP(ctx context.Context, ip string, since time.Time) (int, error)
	FindRecentByEmail(ctx context.Context, email string, since time.Time) ([]session.LoginAttempt, error)
}

// LockoutGate derives lockout state from the attempt ledger on every call.
// It keeps no counters of its own, so every process sharing the ledger sees
// the same decision for the same ledger contents.
type LockoutGate struct {
	ledger AttemptReader
	config LockoutConfig
	now    func() time.Time
}

// NewLockoutGate creates a gate reading from ledger. A nil now uses time.Now.
func NewLockoutGate(ledger AttemptReader, cfg LockoutConfig, now func() time.Time) *LockoutGate {
	if now == nil {
		now = time.Now
	}
	return &LockoutGate{ledger: ledger, config: cfg, now: now}
}

// Check returns Locked when the failures recorded for identifier within the
// window reach the threshold. The returned count is the identifier failure
// count. Ledger read errors wrap ErrLockoutUnavailable.
func (g *LockoutGate) Check(ctx context.Context, identifier, ip string) (Decision, int, error) {
	if g == nil || !g.config.Enabled {
		return Allowed, 0, nil
	}

	since := g.now().Add(-g.config.Window)
	attempts, err := g.ledger.FindRecentByEmail(ctx, NormalizeIdentifier(identifier), since)
	if err != nil {
		return Allowed, 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	failures := 0
	for _, a := range attempts {
		if a.CountsTowardLockout() {
			failures++
		}
	}
	if failures >= g.config.Threshold {
		return Locked, failures, nil
	}

	if g.config.IPThreshold > 0 && ip != "" {
		n, err := g.ledger.CountRecentByIP(ctx, ip, since)
		if err != nil {
			return Allowed, failures, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
		if n >= g.config.IPThreshold {
			return Locked, failures, nil
		}
	}

	return Allowed, failures, nil
}

// NormalizeIdentifier is the ledger key form of a login identifier.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
