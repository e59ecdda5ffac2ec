package middleware

import (
	"github.com/gin-gonic/gin"

	tokenauth "github.com/abrahamahn/abe-stack-sub006"
)

// RequireJWTOnly validates signature and expiry only. Revoked families keep
// access until their access tokens expire.
func RequireJWTOnly(engine *tokenauth.Engine) gin.HandlerFunc {
	return requireMode(engine, tokenauth.ModeJWTOnly)
}
