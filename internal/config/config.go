// Package config loads service settings for the cmd/ binaries from a YAML
// file, the process environment and an optional .env file.
package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	tokenauth "github.com/abrahamahn/abe-stack-sub006"
)

// EnvPrefix prefixes every environment override, e.g. SESSIONS_SERVER_ADDRESS.
const EnvPrefix = "SESSIONS"

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KeyConfig locates signing material. Files hold PEM or raw key bytes.
type KeyConfig struct {
	PrivateKeyFile    string `mapstructure:"private_key_file"`
	PublicKeyFile     string `mapstructure:"public_key_file"`
	HMACSecret        string `mapstructure:"hmac_secret"`
	KeyID             string `mapstructure:"key_id"`
	GenerateEphemeral bool   `mapstructure:"generate_ephemeral"`
}

type jwtSection struct {
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	SigningMethod string        `mapstructure:"signing_method"`
	Issuer        string        `mapstructure:"issuer"`
	Audience      string        `mapstructure:"audience"`
	Leeway        time.Duration `mapstructure:"leeway"`
}

type refreshSection struct {
	TTL                 time.Duration `mapstructure:"ttl"`
	AbsoluteLifetime    time.Duration `mapstructure:"absolute_lifetime"`
	MaxFamiliesPerUser  int           `mapstructure:"max_families_per_user"`
	EmbedFamilyClaim    bool          `mapstructure:"embed_family_claim"`
	EnableThrottle      bool          `mapstructure:"enable_throttle"`
	MaxRefreshPerWindow int           `mapstructure:"max_refresh_per_window"`
	ThrottleWindow      time.Duration `mapstructure:"throttle_window"`
	RedisPrefix         string        `mapstructure:"redis_prefix"`
}

type lockoutSection struct {
	Enabled     bool          `mapstructure:"enabled"`
	Threshold   int           `mapstructure:"threshold"`
	Window      time.Duration `mapstructure:"window"`
	IPThreshold int           `mapstructure:"ip_threshold"`
}

type retentionSection struct {
	LoginAttemptRetention time.Duration `mapstructure:"login_attempt_retention"`
	TokenGrace            time.Duration `mapstructure:"token_grace"`
	PruneInterval         time.Duration `mapstructure:"prune_interval"`
}

type databaseSection struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int32         `mapstructure:"max_connections"`
	MinConnections  int32         `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

type fileConfig struct {
	Server    ServerConfig     `mapstructure:"server"`
	Log       LogConfig        `mapstructure:"log"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Keys      KeyConfig        `mapstructure:"keys"`
	JWT       jwtSection       `mapstructure:"jwt"`
	Refresh   refreshSection   `mapstructure:"refresh"`
	Lockout   lockoutSection   `mapstructure:"lockout"`
	Retention retentionSection `mapstructure:"retention"`
	Database  databaseSection  `mapstructure:"database"`

	ValidationMode   string `mapstructure:"validation_mode"`
	ProductionMode   bool   `mapstructure:"production_mode"`
	RevokeAllOnReuse bool   `mapstructure:"revoke_all_on_reuse"`
	AuditEnabled     bool   `mapstructure:"audit_enabled"`
	MetricsEnabled   bool   `mapstructure:"metrics_enabled"`
}

// Settings is the fully resolved service configuration.
type Settings struct {
	Server ServerConfig
	Log    LogConfig
	Redis  RedisConfig
	Keys   KeyConfig
	// Session is ready for tokenauth.New; it has passed Validate.
	Session tokenauth.Config
	// EphemeralKeys is set when signing keys were generated at startup.
	EphemeralKeys bool
}

// Options controls where Load looks.
type Options struct {
	// ConfigFile is an explicit YAML path. Empty searches ./config.yaml and
	// tolerates its absence.
	ConfigFile string
	// DotEnvFiles are loaded before the environment is read. Missing files
	// are ignored; variables already set win.
	DotEnvFiles []string
}

// Load resolves Settings from opts.
func Load(opts Options) (*Settings, error) {
	if err := loadDotEnv(opts.DotEnvFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return resolve(fc)
}

func loadDotEnv(files []string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := tokenauth.DefaultConfig()

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.read_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("keys.private_key_file", "")
	v.SetDefault("keys.public_key_file", "")
	v.SetDefault("keys.hmac_secret", "")
	v.SetDefault("keys.key_id", "")
	v.SetDefault("keys.generate_ephemeral", false)

	v.SetDefault("jwt.access_ttl", d.JWT.AccessTTL)
	v.SetDefault("jwt.signing_method", d.JWT.SigningMethod)
	v.SetDefault("jwt.issuer", d.JWT.Issuer)
	v.SetDefault("jwt.audience", d.JWT.Audience)
	v.SetDefault("jwt.leeway", d.JWT.Leeway)

	v.SetDefault("refresh.ttl", d.Refresh.TTL)
	v.SetDefault("refresh.absolute_lifetime", d.Refresh.AbsoluteLifetime)
	v.SetDefault("refresh.max_families_per_user", d.Refresh.MaxFamiliesPerUser)
	v.SetDefault("refresh.embed_family_claim", d.Refresh.EmbedFamilyClaim)
	v.SetDefault("refresh.enable_throttle", d.Refresh.EnableThrottle)
	v.SetDefault("refresh.max_refresh_per_window", d.Refresh.MaxRefreshPerWindow)
	v.SetDefault("refresh.throttle_window", d.Refresh.ThrottleWindow)
	v.SetDefault("refresh.redis_prefix", d.Refresh.RedisPrefix)

	v.SetDefault("lockout.enabled", d.Lockout.Enabled)
	v.SetDefault("lockout.threshold", d.Lockout.Threshold)
	v.SetDefault("lockout.window", d.Lockout.Window)
	v.SetDefault("lockout.ip_threshold", d.Lockout.IPThreshold)

	v.SetDefault("retention.login_attempt_retention", d.Retention.LoginAttemptRetention)
	v.SetDefault("retention.token_grace", d.Retention.TokenGrace)
	v.SetDefault("retention.prune_interval", d.Retention.PruneInterval)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_connections", d.Database.MaxConnections)
	v.SetDefault("database.min_connections", d.Database.MinConnections)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.connect_timeout", d.Database.ConnectTimeout)

	v.SetDefault("validation_mode", "jwt_only")
	v.SetDefault("production_mode", false)
	v.SetDefault("revoke_all_on_reuse", false)
	v.SetDefault("audit_enabled", false)
	v.SetDefault("metrics_enabled", true)
}

func resolve(fc fileConfig) (*Settings, error) {
	cfg := tokenauth.DefaultConfig()

	cfg.JWT.AccessTTL = fc.JWT.AccessTTL
	cfg.JWT.SigningMethod = strings.ToLower(fc.JWT.SigningMethod)
	cfg.JWT.Issuer = fc.JWT.Issuer
	cfg.JWT.Audience = fc.JWT.Audience
	cfg.JWT.Leeway = fc.JWT.Leeway
	cfg.JWT.KeyID = fc.Keys.KeyID

	cfg.Refresh = tokenauth.RefreshConfig{
		TTL:                 fc.Refresh.TTL,
		AbsoluteLifetime:    fc.Refresh.AbsoluteLifetime,
		MaxFamiliesPerUser:  fc.Refresh.MaxFamiliesPerUser,
		EmbedFamilyClaim:    fc.Refresh.EmbedFamilyClaim,
		EnableThrottle:      fc.Refresh.EnableThrottle,
		MaxRefreshPerWindow: fc.Refresh.MaxRefreshPerWindow,
		ThrottleWindow:      fc.Refresh.ThrottleWindow,
		RedisPrefix:         fc.Refresh.RedisPrefix,
	}
	cfg.Lockout = tokenauth.LockoutConfig(fc.Lockout)
	cfg.Retention = tokenauth.RetentionConfig(fc.Retention)
	cfg.Database = tokenauth.DatabaseConfig(fc.Database)

	cfg.Security.ProductionMode = fc.ProductionMode
	cfg.Security.RevokeAllOnReuse = fc.RevokeAllOnReuse
	cfg.Audit.Enabled = fc.AuditEnabled
	cfg.Metrics.Enabled = fc.MetricsEnabled

	switch strings.ToLower(fc.ValidationMode) {
	case "", "jwt_only":
		cfg.ValidationMode = tokenauth.ModeJWTOnly
	case "strict":
		cfg.ValidationMode = tokenauth.ModeStrict
	default:
		return nil, fmt.Errorf("unknown validation_mode %q", fc.ValidationMode)
	}

	ephemeral, err := loadKeys(&cfg, fc.Keys)
	if err != nil {
		return nil, err
	}

	if cfg.Refresh.EnableThrottle && fc.Redis.Addr == "" {
		return nil, errors.New("refresh.enable_throttle requires redis.addr")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	return &Settings{
		Server:        fc.Server,
		Log:           fc.Log,
		Redis:         fc.Redis,
		Keys:          fc.Keys,
		Session:       cfg,
		EphemeralKeys: ephemeral,
	}, nil
}

func loadKeys(cfg *tokenauth.Config, keys KeyConfig) (bool, error) {
	if cfg.JWT.SigningMethod == "hs256" {
		cfg.JWT.PrivateKey = []byte(keys.HMACSecret)
		return false, nil
	}

	if keys.PrivateKeyFile != "" {
		b, err := os.ReadFile(keys.PrivateKeyFile)
		if err != nil {
			return false, fmt.Errorf("read private key: %w", err)
		}
		cfg.JWT.PrivateKey = b
	}
	if keys.PublicKeyFile != "" {
		b, err := os.ReadFile(keys.PublicKeyFile)
		if err != nil {
			return false, fmt.Errorf("read public key: %w", err)
		}
		cfg.JWT.PublicKey = b
	}
	if len(cfg.JWT.PrivateKey) > 0 || len(cfg.JWT.PublicKey) > 0 || !keys.GenerateEphemeral {
		return false, nil
	}

	if cfg.Security.ProductionMode {
		return false, errors.New("keys.generate_ephemeral is not allowed in production_mode")
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return false, fmt.Errorf("generate signing key: %w", err)
	}
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	return true, nil
}
