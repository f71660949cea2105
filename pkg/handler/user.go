package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"eventlink/pkg/middleware"
	"eventlink/pkg/model"
)

type RegisterUserRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	APIKey      string `json:"api_key,omitempty"`
	DisplayName string `json:"display_name"`
}

// RegisterUserHandler issues an API key for a new user, or rotates the
// display name for an existing one after the current key checks out. The
// plaintext key is only ever returned here; the table stores a bcrypt hash.
func RegisterUserHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		var user model.User
		result := db.Where("user_id = ?", req.UserID).First(&user)

		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			newKey := middleware.GenerateSecureAPIKey()
			hashedKey, err := middleware.HashAPIKey(newKey)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash API key"})
				return
			}

			newUser := model.CreateUser(req.UserID, req.DisplayName, hashedKey)
			if err := db.Create(newUser).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user record"})
				return
			}
			c.JSON(http.StatusCreated, gin.H{
				"status":  "created",
				"message": "User created. Please save your API key securely.",
				"user_id": newUser.UserID,
				"api_key": newKey,
			})
			return
		}

		if result.Error == nil {
			if req.APIKey == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "API key is required for existing user"})
				return
			}
			if !middleware.CheckAPIKeyHash(req.APIKey, user.APIKey) {
				c.JSON(http.StatusForbidden, gin.H{"error": "Invalid API key"})
				return
			}

			if err := db.Model(&user).Update("display_name", req.DisplayName).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user record"})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"status":  "success",
				"user_id": user.UserID,
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error: " + result.Error.Error()})
	}
}
