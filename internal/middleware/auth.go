package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vaultgate/vaultgate/internal/config"
	"github.com/vaultgate/vaultgate/internal/service"
)

const (
	HeaderVaultKey    = "X-Vault-Key"
	ContextAccountKey = "account"
)

func AuthMiddleware(cfg *config.Config, am *service.AccountManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(HeaderVaultKey)
		if apiKey == "" {
			if cfg != nil && !cfg.Auth.RequireAPIKey {
				if account := am.DefaultAccount(); account != nil {
					c.Set(ContextAccountKey, account)
					c.Next()
					return
				}
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			c.Abort()
			return
		}

		account, ok := am.GetByAPIKey(apiKey)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			c.Abort()
			return
		}

		c.Set(ContextAccountKey, account)
		c.Next()
	}
}
