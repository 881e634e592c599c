package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/codereplay/backend/pkg/response"
)

// RequireIdentity rejects requests that Identity could not attach a caller to.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := IdentityFrom(c); !ok {
			response.Unauthorized(c, "not signed in")
			c.Abort()
			return
		}
		c.Next()
	}
}
