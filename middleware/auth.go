package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"questlog/cache"
	"questlog/config"

	"github.com/gin-gonic/gin"
)

const (
	AccountIDKey = "account_id"
	GMKey        = "gm"
)

// Auth validates the Bearer JWT token and checks the session cache.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		// Check session still valid in cache.
		sessionKey := "session:" + tokenStr
		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		exists, err := c.Exists(cacheCtx, sessionKey)
		if err != nil || !exists {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		ctx.Set(AccountIDKey, claims.AccountID)
		ctx.Set(GMKey, claims.GM)
		ctx.Next()
	}
}

// RequireGM aborts with 403 unless the authenticated account is a GM.
// Must run after Auth.
func RequireGM() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !IsGM(ctx) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		ctx.Next()
	}
}

// GetAccountID retrieves the authenticated account ID from the Gin context.
func GetAccountID(c *gin.Context) int64 {
	if v, exists := c.Get(AccountIDKey); exists {
		return v.(int64)
	}
	return 0
}

// IsGM reports whether the authenticated account has GM privileges.
func IsGM(c *gin.Context) bool {
	if v, exists := c.Get(GMKey); exists {
		return v.(bool)
	}
	return false
}
