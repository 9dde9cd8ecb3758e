package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys set by AdminAuthMiddleware.
const (
	ContextKeySubject  = "auth_subject"
	ContextKeyRole     = "auth_role"
	ContextKeyAuthType = "auth_type"
)

// AdminAuthMiddleware accepts either an admin JWT signed with secret or the static service token.
// Missing or invalid credentials yield 401; a valid token without the admin role yields 403.
func AdminAuthMiddleware(secret []byte, serviceToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "No authorization header"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}
		token := parts[1]

		if serviceTokenMatches(token, serviceToken) {
			c.Set(ContextKeySubject, "service")
			c.Set(ContextKeyRole, RoleAdmin)
			c.Set(ContextKeyAuthType, "service")
			c.Next()
			return
		}

		if len(secret) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		claims, err := ValidateJWT(token, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if claims.Role != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin role required"})
			return
		}

		c.Set(ContextKeySubject, claims.Subject)
		c.Set(ContextKeyRole, claims.Role)
		c.Set(ContextKeyAuthType, "jwt")
		c.Next()
	}
}

// serviceTokenMatches compares in constant time. An unset service token never matches.
func serviceTokenMatches(token, expected string) bool {
	if token == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}
