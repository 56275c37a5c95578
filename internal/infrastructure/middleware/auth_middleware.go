package middleware

import (
	"net/http"
	"strings"

	"callnet/internal/core/domain"
	"callnet/internal/core/services"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
)

// AuthMiddleware requires a valid bearer token. WebSocket upgrades may pass
// the token as the "token" query parameter instead.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := requestToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Request = c.Request.WithContext(services.WithUser(c.Request.Context(), claims.UserID))
		c.Next()
	}
}

// OwnerMiddleware only lets the given user through. It must run after AuthMiddleware.
func OwnerMiddleware(owner domain.UserID) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if userID != owner {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token does not belong to this agent"})
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user set by AuthMiddleware.
func UserID(c *gin.Context) (domain.UserID, bool) {
	v, exists := c.Get(ContextUserID)
	if !exists {
		return "", false
	}
	userID, ok := v.(domain.UserID)
	return userID, ok && userID != ""
}

func requestToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}
