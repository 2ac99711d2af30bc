package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/givechain/warden/core"
	"github.com/givechain/warden/service"
)

const (
	contextKeyIdentity   = "identity"
	contextKeyCredential = "credential"
)

// AuthMiddleware validates the bearer credential on every privileged
// request. A missing or invalid credential yields a uniform
// "unauthenticated" response; role failures are a separate 403 concern.
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		credential := strings.TrimPrefix(auth, "Bearer ")

		identity, err := authService.Validate(c.Request.Context(), credential)
		if err != nil {
			if errors.Is(err, core.ErrCredentialExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "credential expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			}
			return
		}

		c.Set(contextKeyIdentity, identity)
		c.Set(contextKeyCredential, credential)

		c.Next()
	}
}

// RequireRole guards a route group behind a role predicate. The identity
// must already be set by AuthMiddleware.
func RequireRole(allowed func(core.Role) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := identityFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if !allowed(identity.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func identityFromContext(c *gin.Context) (*core.Identity, bool) {
	v, exists := c.Get(contextKeyIdentity)
	if !exists {
		return nil, false
	}
	identity, ok := v.(*core.Identity)
	return identity, ok
}

func credentialFromContext(c *gin.Context) (string, bool) {
	v, exists := c.Get(contextKeyCredential)
	if !exists {
		return "", false
	}
	credential, ok := v.(string)
	return credential, ok
}
