package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	tokenauth "github.com/abrahamahn/abe-stack-sub006"
	"github.com/abrahamahn/abe-stack-sub006/internal/config"
	"github.com/abrahamahn/abe-stack-sub006/internal/credentials"
	"github.com/abrahamahn/abe-stack-sub006/internal/httpapi"
	"github.com/abrahamahn/abe-stack-sub006/internal/stores/postgres"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to config.yaml (default ./config.yaml if present)")
		envFile    = flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
		migrate    = flag.Bool("migrate", true, "create tables on startup")
	)
	flag.Parse()

	settings, err := config.Load(config.Options{ConfigFile: *configFile, DotEnvFiles: []string{*envFile}})
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(settings.Log)
	if err := run(settings, logger, *migrate); err != nil {
		logger.WithError(err).Fatal("sessiond exited")
	}
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func run(settings *config.Settings, logger *logrus.Logger, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if settings.EphemeralKeys {
		logger.Warn("using generated signing keys; tokens will not survive a restart")
	}

	db := settings.Session.Database
	pool, err := postgres.Connect(ctx, postgres.PoolConfig{
		DSN:             db.DSN,
		MaxConns:        db.MaxConnections,
		MinConns:        db.MinConnections,
		MaxConnLifetime: db.ConnMaxLifetime,
		ConnectTimeout:  db.ConnectTimeout,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("schema up to date")
	}

	verifier, err := credentials.NewBcryptVerifier(postgres.NewUserStore(pool), postgres.ErrUserNotFound)
	if err != nil {
		return err
	}

	checks := map[string]httpapi.Pinger{"postgres": pool}

	builder := tokenauth.New().
		WithConfig(settings.Session).
		WithTokenStore(postgres.NewTokenStore(pool)).
		WithLoginAttemptLedger(postgres.NewLoginAttemptLedger(pool)).
		WithSecurityEventSink(postgres.NewSecurityEventStore(pool)).
		WithCredentialVerifier(verifier).
		WithAuditSink(tokenauth.NewLogrusSink(logger.WithField("component", "audit"))).
		WithLogger(logger)

	if settings.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     settings.Redis.Addr,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		})
		defer client.Close()
		builder = builder.WithRedis(client)
		checks["redis"] = httpapi.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	report := engine.SecurityReport()
	for _, finding := range report.Findings {
		logger.WithField("finding", finding).Warn("session security posture")
	}

	if settings.Server.Mode != "" {
		gin.SetMode(settings.Server.Mode)
	}
	srv := &http.Server{
		Addr: settings.Server.Address,
		Handler: httpapi.NewRouter(httpapi.Options{
			Engine:         engine,
			Logger:         logger,
			Checks:         checks,
			DisableMetrics: !settings.Session.Metrics.Enabled,
		}),
		ReadHeaderTimeout: settings.Server.ReadTimeout,
	}

	go runJanitor(ctx, engine, settings.Session.Retention.PruneInterval, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
