package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/concord/pkg/auth"
)

// PublicKeyKey is the gin context key holding the caller's public key.
const PublicKeyKey = "publicKey"

// SessionAuth requires a session token issued in auth:verified, from the
// Authorization header or the token query parameter.
func SessionAuth(tokens *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractToken(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}

		claims, err := tokens.Verify(token)
		if err != nil || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(PublicKeyKey, claims.Subject)
		c.Next()
	}
}

// PublicKey returns the identity set by SessionAuth.
func PublicKey(c *gin.Context) string {
	return c.GetString(PublicKeyKey)
}
