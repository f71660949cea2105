package handler

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"eventlink/pkg/websocket"
)

// GetOnlineUsersHandler lists the ids of all currently connected users.
func GetOnlineUsersHandler(relay *websocket.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		online := relay.OnlineUsers()
		sort.Strings(online)
		c.JSON(http.StatusOK, gin.H{
			"count": len(online),
			"users": online,
		})
	}
}

// GetUserPresenceHandler reports whether a single user is connected.
func GetUserPresenceHandler(relay *websocket.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		c.JSON(http.StatusOK, gin.H{
			"user_id":   userID,
			"is_online": relay.IsOnline(userID),
		})
	}
}
