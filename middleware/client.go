package middleware

import (
	"github.com/gin-gonic/gin"

	tokenauth "github.com/abrahamahn/abe-stack-sub006"
)

// ClientInfo stores the client address and user agent on the request context.
func ClientInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := tokenauth.WithClientIP(c.Request.Context(), c.ClientIP())
		ctx = tokenauth.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
