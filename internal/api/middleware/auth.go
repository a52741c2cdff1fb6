package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/pkg/response"
)

const (
	UserIDKey = "userID"
	TokenKey  = "token"
)

// TokenResolver 由 service.TokenService 实现
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (*model.User, error)
}

// Auth bearer token 认证中间件
func Auth(tokens TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AuthError(c, "请提供认证信息")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader || tokenString == "" {
			response.AuthError(c, "认证格式错误")
			return
		}

		user, err := tokens.Resolve(c.Request.Context(), tokenString)
		if err != nil {
			response.Fail(c, err)
			return
		}

		c.Set(UserIDKey, user.ID)
		c.Set(TokenKey, tokenString)
		c.Next()
	}
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok && id != ""
}

// GetToken 当前请求携带的 token
func GetToken(c *gin.Context) (string, bool) {
	token, exists := c.Get(TokenKey)
	if !exists {
		return "", false
	}
	s, ok := token.(string)
	return s, ok && s != ""
}
