package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vidshare/backend/internal/apperror"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/utils"
)

const (
	ClaimsKey   = "claims"
	UserIDKey   = "user_id"
	UserRoleKey = "user_role"
)

// TokenVerifier decodes bearer tokens. Implemented by service.AuthService.
type TokenVerifier interface {
	VerifyToken(token string) (*utils.Claims, error)
}

// RequireAuth rejects requests without a token with 401 and requests with
// an invalid or expired token with 403.
func RequireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": apperror.MsgMissingToken})
			return
		}

		claims, err := verifier.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": apperror.MsgInvalidToken})
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// OptionalAuth attaches claims when a token is present. A present but
// invalid token is still rejected with 403.
func OptionalAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.Next()
			return
		}

		claims, err := verifier.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": apperror.MsgInvalidToken})
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// RequireRole must run after RequireAuth.
func RequireRole(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": apperror.MsgMissingToken})
			return
		}

		if claims.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": string(role) + " role required"})
			return
		}

		c.Next()
	}
}

// ClaimsFromContext returns the claims set by RequireAuth or OptionalAuth.
func ClaimsFromContext(c *gin.Context) (*utils.Claims, bool) {
	v, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*utils.Claims)
	return claims, ok && claims != nil
}

func setClaims(c *gin.Context, claims *utils.Claims) {
	c.Set(UserIDKey, claims.UserID)
	c.Set(UserRoleKey, claims.Role)
	c.Set(ClaimsKey, claims)
}

// bearerToken extracts the token from "Bearer <token>". The scheme is case-insensitive.
func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
