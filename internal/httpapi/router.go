// Package httpapi serves the session engine over HTTP with gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	tokenauth "github.com/abrahamahn/abe-stack-sub006"
	"github.com/abrahamahn/abe-stack-sub006/metrics/export/prometheus"
	"github.com/abrahamahn/abe-stack-sub006/middleware"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Options configures NewRouter.
type Options struct {
	Engine *tokenauth.Engine
	Logger logrus.FieldLogger
	// Checks are pinged by /health, keyed by name.
	Checks map[string]Pinger
	// DisableMetrics hides /metrics.
	DisableMetrics bool
}

// NewRouter returns a gin engine with every session route mounted.
func NewRouter(opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &handler{engine: opts.Engine, log: logger, checks: opts.Checks}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), middleware.ClientInfo())

	r.GET("/health", h.health)
	if !opts.DisableMetrics {
		r.GET("/metrics", gin.WrapH(prometheus.NewPrometheusExporter(opts.Engine).Handler()))
	}

	auth := r.Group("/auth")
	{
		auth.POST("/login", h.login)
		auth.POST("/refresh", h.refresh)
		auth.POST("/logout", h.logout)
	}

	protected := auth.Group("")
	protected.Use(middleware.RequireAccess(opts.Engine))
	{
		protected.GET("/sessions", h.listSessions)
		protected.DELETE("/sessions/:familyID", h.revokeSession)
		protected.POST("/sessions/revoke-all", h.revokeAll)
		protected.GET("/security-events", h.securityEvents)
	}

	return r
}

func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
			"client":   c.ClientIP(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Warn("request failed")
		default:
			entry.Debug("request")
		}
	}
}
