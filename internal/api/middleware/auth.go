package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/studio_go_server/internal/model"
	"github.com/qs3c/studio_go_server/internal/pkg/jwt"
	"github.com/qs3c/studio_go_server/internal/pkg/response"
	"github.com/qs3c/studio_go_server/internal/service"
)

const (
	PrincipalKey = "principal"
)

// Auth JWT 认证中间件
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AuthError(c, "请提供认证信息")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			response.AuthError(c, "认证格式错误")
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			response.AuthError(c, "认证失败或已过期")
			c.Abort()
			return
		}

		c.Set(PrincipalKey, principalFromClaims(claims))
		c.Next()
	}
}

// OptionalAuth 可选认证中间件（不强制要求登录）
func OptionalAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if authHeader == "" || tokenString == authHeader {
			c.Next()
			return
		}

		if claims, err := jwt.ParseToken(tokenString, jwtSecret); err == nil {
			c.Set(PrincipalKey, principalFromClaims(claims))
		}
		c.Next()
	}
}

// GetPrincipal 从上下文获取调用者，未登录时返回 nil
func GetPrincipal(c *gin.Context) *service.Principal {
	value, exists := c.Get(PrincipalKey)
	if !exists {
		return nil
	}
	p, _ := value.(*service.Principal)
	return p
}

func principalFromClaims(claims *jwt.Claims) *service.Principal {
	return &service.Principal{
		UserID: claims.UserID,
		Role:   model.Role(claims.Role),
	}
}
