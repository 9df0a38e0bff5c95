package middleware

import (
	"coursegen_backend/internal/config"
	"coursegen_backend/internal/util"
	"coursegen_backend/pkg/logger"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

// AuthMiddleware 强制认证
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			util.Error(c, 401, util.ErrAuthRequired.Error())
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(tokenString, cfg.JWT.Secret)
		if err != nil {
			logger.Log.Debug("JWT parse failed", zap.Error(err))
			util.Error(c, 401, util.ErrAuthRequired.Error())
			c.Abort()
			return
		}

		c.Set("user", claims)
		c.Next()
	}
}

// TryAuthMiddleware 可选认证：令牌有效时注入用户，否则交由业务层判定
func TryAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := bearerToken(c); tokenString != "" {
			if claims, err := util.ParseJWT(tokenString, cfg.JWT.Secret); err == nil {
				c.Set("user", claims)
			} else {
				logger.Log.Debug("JWT parse failed", zap.Error(err))
			}
		}
		c.Next()
	}
}

// UserKey 按用户限流，未登录退化为 IP
func UserKey(c *gin.Context) string {
	if claims := util.GetUserFromContext(c); claims != nil {
		return "user:" + strconv.FormatUint(uint64(claims.UserID), 10)
	}
	return "ip:" + c.ClientIP()
}
