package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"eventlink/pkg/handler"
	"eventlink/pkg/middleware"
	"eventlink/pkg/websocket"
)

func SetupRouter(db *gorm.DB, relay *websocket.Relay, logger *slog.Logger) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	// connect endpoint; identity comes from the userId query parameter
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWS(relay, logger, c.Writer, c.Request)
	})

	apiV1 := router.Group("/api/v1")
	{
		users := apiV1.Group("/users")
		{
			users.POST("/register", handler.RegisterUserHandler(db))
		}

		presence := apiV1.Group("/presence", middleware.UserAuthMiddleware(db))
		{
			presence.GET("", handler.GetOnlineUsersHandler(relay))
			presence.GET("/:userId", handler.GetUserPresenceHandler(relay))
		}
	}

	return router
}
