package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context key for the authenticated operator name.
const ContextKeyOperator = "operator"

// Middleware rejects requests that do not carry a valid bearer token and
// records the operator name on the gin context for audit attribution.
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "missing authorization header",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid authorization header format",
			})
			return
		}

		claims, err := jwtManager.ValidateToken(parts[1])
		if err != nil {
			message := "invalid token"
			if err == ErrTokenExpired {
				message = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": message,
			})
			return
		}

		c.Set(ContextKeyOperator, claims.Operator)
		c.Next()
	}
}

// Operator returns the authenticated operator name, or "" outside the
// authenticated route group.
func Operator(c *gin.Context) string {
	return c.GetString(ContextKeyOperator)
}
