package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	tokenauth "github.com/abrahamahn/abe-stack-sub006"
)

// IdentityKey is the gin context key holding the *tokenauth.AccessIdentity.
const IdentityKey = "tokenauth.identity"

type identityContextKey struct{}

// IdentityFromContext returns the identity stored by Guard.
func IdentityFromContext(ctx context.Context) (*tokenauth.AccessIdentity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*tokenauth.AccessIdentity)
	return id, ok
}

// Identity returns the identity stored by the gin guards.
func Identity(c *gin.Context) (*tokenauth.AccessIdentity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*tokenauth.AccessIdentity)
	return id, ok
}

// Guard returns net/http middleware validating the bearer token with mode.
func Guard(engine *tokenauth.Engine, mode tokenauth.ValidationMode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			id, err := engine.ValidateAccessWithMode(r.Context(), token, mode)
			if err != nil {
				status := statusFor(err)
				http.Error(w, http.StatusText(status), status)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAccess validates the bearer token with the engine's configured mode.
func RequireAccess(engine *tokenauth.Engine) gin.HandlerFunc {
	return ginGuard(engine, func(ctx context.Context, token string) (*tokenauth.AccessIdentity, error) {
		return engine.ValidateAccess(ctx, token)
	})
}

func requireMode(engine *tokenauth.Engine, mode tokenauth.ValidationMode) gin.HandlerFunc {
	return ginGuard(engine, func(ctx context.Context, token string) (*tokenauth.AccessIdentity, error) {
		return engine.ValidateAccessWithMode(ctx, token, mode)
	})
}

type validateFunc func(ctx context.Context, token string) (*tokenauth.AccessIdentity, error)

func ginGuard(engine *tokenauth.Engine, validate validateFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if engine == nil {
			abort(c, http.StatusUnauthorized)
			return
		}
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abort(c, http.StatusUnauthorized)
			return
		}
		id, err := validate(c.Request.Context(), token)
		if err != nil {
			abort(c, statusFor(err))
			return
		}
		setIdentity(c, id)
		c.Next()
	}
}

func setIdentity(c *gin.Context, id *tokenauth.AccessIdentity) {
	c.Set(IdentityKey, id)
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), identityContextKey{}, id))
}

// statusFor keeps storage outages apart from bad tokens so clients retry
// instead of dropping their session.
func statusFor(err error) int {
	if errors.Is(err, tokenauth.ErrStorageFailure) {
		return http.StatusServiceUnavailable
	}
	return http.StatusUnauthorized
}

func abort(c *gin.Context, status int) {
	msg := "unauthorized"
	if status == http.StatusServiceUnavailable {
		msg = "session store unavailable"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
