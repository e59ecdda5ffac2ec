package middleware

import (
	"github.com/gin-gonic/gin"

	tokenauth "github.com/abrahamahn/abe-stack-sub006"
)

// RequireStrict additionally rejects tokens whose family has been revoked.
func RequireStrict(engine *tokenauth.Engine) gin.HandlerFunc {
	return requireMode(engine, tokenauth.ModeStrict)
}
