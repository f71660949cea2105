package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"eventlink/pkg/model"
)

// UserAuthMiddleware guards the REST presence endpoints with the bearer
// token issued at registration: "Bearer {userId}:{apiKey}". The WebSocket
// endpoint is not behind this middleware.
func UserAuthMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {UserID}:{APIKey}"})
			return
		}

		idAndKey := strings.SplitN(parts[1], ":", 2)
		if len(idAndKey) != 2 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token format must be {UserID}:{APIKey}"})
			return
		}
		userID := idAndKey[0]
		apiKey := idAndKey[1]

		var user model.User
		result := db.Where("user_id = ?", userID).First(&user)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid API key"})
			return
		}
		if result.Error != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}

		if !CheckAPIKeyHash(apiKey, user.APIKey) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}

		c.Set("user", &user)
		c.Next()
	}
}
