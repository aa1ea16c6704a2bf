// README: Firebase auth middleware; resolves the caller's identity and role.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"foodcourt/internal/infra"
)

const (
	ctxKeyUID  = "auth_uid"
	ctxKeyRole = "auth_role"

	RoleCustomer = "customer"
	RoleOwner    = "owner"
	RoleCourier  = "courier"
)

// Auth verifies the Bearer token and stashes uid + role claim on the context.
// With devMode set, the X-User-ID / X-User-Role headers are accepted instead
// so local runs do not need a Firebase project.
func Auth(verifier infra.TokenVerifier, devMode bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if devMode {
			if uid := c.GetHeader("X-User-ID"); uid != "" {
				c.Set(ctxKeyUID, uid)
				c.Set(ctxKeyRole, c.GetHeader("X-User-Role"))
				c.Next()
				return
			}
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxKeyUID, token.UID)
		if role, ok := token.Claims["role"].(string); ok {
			c.Set(ctxKeyRole, role)
		}
		c.Next()
	}
}

// RequireRole gates a route group on the role claim.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerRole(c) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxKeyUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}
