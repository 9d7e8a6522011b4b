package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/service"
)

func RateLimitMiddleware(am *service.AccountManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Must run after AuthMiddleware.
		accountVal, exists := c.Get(ContextAccountKey)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		account := accountVal.(*model.Account)

		limiter := am.LimiterFor(account.Address)
		if limiter == nil {
			c.Next()
			return
		}

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": "1s",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
