package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lumen-market/caravel/core"
	"github.com/lumen-market/caravel/ports"
)

// TokenMiddleware creates middleware that requires a cached session token.
// Requests must carry the account identifier and the bearer token obtained
// from the handshake; a missing or mismatched token is an unauthorized
// caller-side precondition failure.
func TokenMiddleware(tokens ports.TokenStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		// Check if the Authorization header is present and in correct format
		if len(auth) < 8 || auth[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": core.Notice(core.ErrUnauthorized)})
			return
		}

		account := c.GetHeader("X-Account")
		if account == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": core.Notice(core.ErrUnauthorized)})
			return
		}

		cached, err := tokens.GetToken(c.Request.Context(), account)
		if err != nil || cached != auth[7:] {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": core.Notice(core.ErrUnauthorized)})
			return
		}

		c.Set("account", account)

		c.Next()
	}
}
