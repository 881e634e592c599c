package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codereplay/backend/internal/auth"
	"github.com/codereplay/backend/internal/models"
)

// ContextIdentity is the key for the resolved caller in gin context.
const ContextIdentity = "identity"

// IdentityResolver turns a request into the caller's identity.
type IdentityResolver interface {
	FromRequest(r *http.Request) (models.Identity, error)
}

// Identity resolves the session cookie and stores the identity in context when present.
// It never aborts: anonymous requests continue without an identity.
func Identity(resolver IdentityResolver, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		id, err := resolver.FromRequest(c.Request)
		switch {
		case err == nil:
			c.Set(ContextIdentity, id)
		case !errors.Is(err, auth.ErrNoSession):
			logger.Debug("session rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
		}
		c.Next()
	}
}

// IdentityFrom returns the caller resolved by Identity, if any.
func IdentityFrom(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := v.(models.Identity)
	if !ok || id.Email == "" {
		return models.Identity{}, false
	}
	return id, true
}
