package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kavindya12/soa-microservices-platform/internal/domain"
)

const principalKey = "principal"

const (
	errMissingOrInvalidToken = "missing_or_invalid_token"
	errInsufficientScope     = "insufficient_scope"
)

// TokenVerifier verifies signed claims tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*domain.Principal, error)
}

// Auth validates the Authorization header and enforces scopes.
type Auth struct {
	Verifier TokenVerifier
}

// Authenticate ensures the request carries a valid bearer token and attaches the principal.
func (m *Auth) Authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMissingOrInvalidToken, "error_description": "Authorization header required."})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMissingOrInvalidToken, "error_description": "Bearer token required."})
		return
	}
	principal, err := m.Verifier.Verify(c.Request.Context(), strings.TrimSpace(parts[1]))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMissingOrInvalidToken, "error_description": "Invalid or expired token."})
		return
	}
	c.Set(principalKey, principal)
	c.Next()
}

// RequireScope rejects principals lacking scope (admin satisfies any scope).
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMissingOrInvalidToken, "error_description": "Authentication required."})
			return
		}
		if !principal.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errInsufficientScope, "error_description": "Scope " + scope + " required."})
			return
		}
		c.Next()
	}
}

// GetPrincipal exposes the verified principal to handlers.
func GetPrincipal(c *gin.Context) (*domain.Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	principal, ok := value.(*domain.Principal)
	return principal, ok
}
