package tokenauth

import (
	"errors"
	"time"
)

// Config holds every tunable of the session core. Build clones it, so later
// changes to the caller's copy have no effect on a running Engine.
type Config struct {
	JWT            JWTConfig
	Refresh        RefreshConfig
	Lockout        LockoutConfig
	Retention      RetentionConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	Security       SecurityConfig
	Database       DatabaseConfig
	ValidationMode ValidationMode
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access tokens and the family claim signed into refresh tokens.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls refresh token lifetime and rotation.
type RefreshConfig struct {
	// TTL is the lifetime of each individual refresh token row.
	TTL time.Duration
	// AbsoluteLifetime caps how long a family can keep rotating, measured
	// from the family's creation. 0 disables the cap.
	AbsoluteLifetime time.Duration
	// MaxFamiliesPerUser evicts the oldest active families beyond this count
	// on every new login. 0 disables eviction.
	MaxFamiliesPerUser int
	// EmbedFamilyClaim signs the family claim into issued tokens. Without it
	// replayed tokens cannot be attributed to a family.
	EmbedFamilyClaim bool

	EnableThrottle      bool
	MaxRefreshPerWindow int
	ThrottleWindow      time.Duration
	RedisPrefix         string
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls the login lockout gate.
type LockoutConfig struct {
	Enabled     bool
	Threshold   int
	Window      time.Duration
	IPThreshold int // 0 disables the per-address check
}

/*
====================================
RETENTION CONFIG
====================================
*/

// RetentionConfig controls pruning of expired rows and old ledger entries.
type RetentionConfig struct {
	LoginAttemptRetention time.Duration
	// TokenGrace keeps expired token rows around this long before pruning,
	// so revoked families remain visible to operators for a while.
	TokenGrace    time.Duration
	PruneInterval time.Duration
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig groups request-level hardening switches.
type SecurityConfig struct {
	ProductionMode bool
	// RevokeAllOnReuse widens reuse handling from the affected family to every
	// family of the user.
	RevokeAllOnReuse bool
}

/*
====================================
DATABASE CONFIG
====================================
*/

// DatabaseConfig describes the Postgres pool used by the SQL stores. The
// Engine itself never dials; cmd/ binaries pass this to the postgres package.
type DatabaseConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// ValidationMode selects how ValidateAccess treats access tokens.
type ValidationMode int

const (
	// ModeJWTOnly trusts a valid signature and expiry.
	ModeJWTOnly ValidationMode = iota
	// ModeStrict additionally requires the token's family to be unrevoked in
	// the store, so logout takes effect before the access token expires.
	ModeStrict
)

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a Config with production defaults. Keys are left empty.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     5 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "sessions",
		},
		Refresh: RefreshConfig{
			TTL:                 7 * 24 * time.Hour,
			AbsoluteLifetime:    30 * 24 * time.Hour,
			MaxFamiliesPerUser:  0,
			EmbedFamilyClaim:    true,
			EnableThrottle:      false,
			MaxRefreshPerWindow: 20,
			ThrottleWindow:      time.Minute,
			RedisPrefix:         "ts:",
		},
		Lockout: LockoutConfig{
			Enabled:   true,
			Threshold: 5,
			Window:    15 * time.Minute,
		},
		Retention: RetentionConfig{
			LoginAttemptRetention: 30 * 24 * time.Hour,
			TokenGrace:            24 * time.Hour,
			PruneInterval:         time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Database: DatabaseConfig{
			MaxConnections:  10,
			MinConnections:  1,
			ConnMaxLifetime: time.Hour,
			ConnectTimeout:  5 * time.Second,
		},
		ValidationMode: ModeJWTOnly,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting, or nil.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
		return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("Refresh TTL must be greater than JWT AccessTTL")
	}
	if c.Refresh.AbsoluteLifetime < 0 {
		return errors.New("Refresh AbsoluteLifetime must be >= 0")
	}
	if c.Refresh.AbsoluteLifetime > 0 && c.Refresh.AbsoluteLifetime < c.Refresh.TTL {
		return errors.New("Refresh AbsoluteLifetime must be >= Refresh TTL")
	}
	if c.Refresh.MaxFamiliesPerUser < 0 {
		return errors.New("Refresh MaxFamiliesPerUser must be >= 0")
	}
	if c.Refresh.EnableThrottle {
		if c.Refresh.MaxRefreshPerWindow <= 0 {
			return errors.New("Refresh MaxRefreshPerWindow must be > 0 when throttling")
		}
		if c.Refresh.ThrottleWindow <= 0 {
			return errors.New("Refresh ThrottleWindow must be > 0 when throttling")
		}
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= 0 {
			return errors.New("Lockout Threshold must be > 0")
		}
		if c.Lockout.Window <= 0 {
			return errors.New("Lockout Window must be > 0")
		}
		if c.Lockout.IPThreshold < 0 {
			return errors.New("Lockout IPThreshold must be >= 0")
		}
	}

	// Retention
	if c.Retention.LoginAttemptRetention < 0 || c.Retention.TokenGrace < 0 {
		return errors.New("Retention durations must be >= 0")
	}
	if c.Lockout.Enabled && c.Retention.LoginAttemptRetention > 0 && c.Retention.LoginAttemptRetention < c.Lockout.Window {
		return errors.New("Retention LoginAttemptRetention must cover the Lockout Window")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	if c.ValidationMode != ModeJWTOnly && c.ValidationMode != ModeStrict {
		return errors.New("invalid ValidationMode")
	}

	// Production hardening
	if c.Security.ProductionMode {
		if !c.Refresh.EmbedFamilyClaim {
			return errors.New("ProductionMode requires Refresh EmbedFamilyClaim")
		}
		if !c.Lockout.Enabled {
			return errors.New("ProductionMode requires Lockout Enabled")
		}
		if c.Refresh.AbsoluteLifetime == 0 {
			return errors.New("ProductionMode requires a Refresh AbsoluteLifetime")
		}
	}

	return nil
}
