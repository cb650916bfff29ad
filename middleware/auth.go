package middleware

import (
	"context"
	"net/http"
	"strings"

	"gridwatch/models"

	"github.com/gin-gonic/gin"
)

// SessionCookie carries the session token for browser clients
const SessionCookie = "session"

const identityKey = "identity"

// Resolver turns a session token into an identity
type Resolver interface {
	Resolve(ctx context.Context, token string) (*models.Identity, error)
}

// Auth resolves the caller's identity from a bearer token or the session cookie.
// Anonymous callers pass through; RequireAuth rejects them.
func Auth(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c.GetHeader("Authorization"))
		if token == "" {
			token, _ = c.Cookie(SessionCookie)
		}
		if token == "" {
			c.Next()
			return
		}

		identity, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			c.Next()
			return
		}

		c.Set(identityKey, identity)
		c.Set("user_id", identity.UserID)
		c.Next()
	}
}

// RequireAuth rejects requests without a resolved identity
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Identity(c) == nil {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Identity returns the caller's identity, or nil for anonymous requests
func Identity(c *gin.Context) *models.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, _ := v.(*models.Identity)
	return identity
}

// SetIdentity stores identity on the request context
func SetIdentity(c *gin.Context, identity *models.Identity) {
	c.Set(identityKey, identity)
	c.Set("user_id", identity.UserID)
}

// extractToken extracts the token from the Authorization header
func extractToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
