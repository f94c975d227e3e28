package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"xapi_sync_backend/internal/config"
	"xapi_sync_backend/internal/util"
)

// SessionAuthMiddleware 校验 launch 会话令牌 (Bearer 或 ?token=)
func SessionAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		cfg := c.MustGet("config").(*config.Config)
		claims, err := util.ParseSessionToken(tokenString, cfg.JWT.Secret)
		if err != nil {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		c.Set("session", claims)
		c.Next()
	}
}

// XAPIVersionMiddleware xAPI 资源要求版本头
func XAPIVersionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Experience-API-Version") == "" {
			util.BadRequest(c, "X-Experience-API-Version header is required")
			c.Abort()
			return
		}
		c.Next()
	}
}
