package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/auth"
)

// ContextKeyCaller is where RequireAuth stores the validated session.
const ContextKeyCaller = "caller"

// RequireAuth validates the bearer token and stores the caller session
// in the request context.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "No authorization token provided",
				"code":    "UNAUTHORIZED",
				"data":    nil,
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "Invalid authorization header format",
				"code":    "UNAUTHORIZED",
				"data":    nil,
			})
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": err.Error(),
				"code":    "UNAUTHORIZED",
				"data":    nil,
			})
			c.Abort()
			return
		}

		c.Set(ContextKeyCaller, claims.Caller)
		c.Next()
	}
}

// GetCaller extracts the caller session set by RequireAuth.
func GetCaller(c *gin.Context) *auth.CallerSession {
	value, exists := c.Get(ContextKeyCaller)
	if !exists {
		return nil
	}
	caller, ok := value.(auth.CallerSession)
	if !ok {
		return nil
	}
	return &caller
}
