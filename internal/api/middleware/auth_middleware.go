package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"freelancehub/internal/auth"
	"freelancehub/internal/errcode"
)

// UserIDKey 是认证通过后写入 gin.Context 的用户 ID 键。
const UserIDKey = "userID"

type tokenValidator interface {
	ValidateToken(tokenString string) (*auth.TokenClaims, error)
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"statusCode": http.StatusUnauthorized,
		"code":       errcode.Unauthenticated,
		"success":    false,
		"message":    msg,
		"data":       nil,
	})
}

// AuthMiddleware 校验 Bearer 访问令牌并将 userID 注入上下文。
func AuthMiddleware(validator tokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c, "malformed authorization header")
			return
		}

		claims, err := validator.ValidateToken(parts[1])
		if err != nil || claims.TokenType != auth.TokenTypeAccess {
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}
