package tokenauth

import (
	"errors"
	"time"

	"github.com/abrahamahn/abe-stack-sub006/internal/audit"
	"github.com/abrahamahn/abe-stack-sub006/internal/limiters"
	"github.com/abrahamahn/abe-stack-sub006/internal/rate"
	"github.com/abrahamahn/abe-stack-sub006/jwt"
	"github.com/abrahamahn/abe-stack-sub006/session"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	tokens   session.TokenStore
	attempts session.LoginAttemptLedger
	events   session.SecurityEventSink
	verifier CredentialVerifier

	auditSink AuditSink
	logger    logrus.FieldLogger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client used by the refresh throttle. It is only
// required when Refresh.EnableThrottle is set.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithTokenStore(store session.TokenStore) *Builder {
	b.tokens = store
	return b
}

func (b *Builder) WithLoginAttemptLedger(ledger session.LoginAttemptLedger) *Builder {
	b.attempts = ledger
	return b
}

// WithSecurityEventSink sets where reuse and lockout events are persisted.
// Without one, events are only logged.
func (b *Builder) WithSecurityEventSink(sink session.SecurityEventSink) *Builder {
	b.events = sink
	return b
}

func (b *Builder) WithCredentialVerifier(v CredentialVerifier) *Builder {
	b.verifier = v
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger logrus.FieldLogger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for every expiry and window computation.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.tokens == nil {
		return nil, errors.New("token store required")
	}
	if b.attempts == nil && (cfg.Lockout.Enabled || b.verifier != nil) {
		return nil, errors.New("login attempt ledger required")
	}
	if cfg.Refresh.EnableThrottle && b.redis == nil {
		return nil, errors.New("refresh throttle requires redis client")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "tokenauth")

	engine := &Engine{
		config:   cloneConfig(cfg),
		tokens:   b.tokens,
		attempts: b.attempts,
		events:   b.events,
		verifier: b.verifier,
		logger:   logger,
		now:      now,
	}
	if engine.events == nil {
		engine.events = logEventSink{logger: logger}
	}

	engine.lockout = limiters.NewLockoutGate(b.attempts, limiters.LockoutConfig{
		Enabled:     cfg.Lockout.Enabled,
		Threshold:   cfg.Lockout.Threshold,
		Window:      cfg.Lockout.Window,
		IPThreshold: cfg.Lockout.IPThreshold,
	}, now)

	if cfg.Refresh.EnableThrottle {
		engine.throttle = rate.New(b.redis, rate.Config{
			EnableRefreshThrottle:   true,
			MaxRefreshAttempts:      cfg.Refresh.MaxRefreshPerWindow,
			RefreshCooldownDuration: cfg.Refresh.ThrottleWindow,
			KeyPrefix:               cfg.Refresh.RedisPrefix,
		})
	}

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	b.built = true

	return engine, nil
}
