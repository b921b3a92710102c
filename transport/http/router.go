package http

import (
	"github.com/gin-gonic/gin"
	"github.com/lumen-market/caravel/ports"
	"github.com/lumen-market/caravel/service"
)

// SetupRouter sets up the Gin router
func SetupRouter(auth *service.AuthService, queue *service.Queue, tokens ports.TokenStore, cfg service.Config) *gin.Engine {
	router := gin.Default()

	// Create handlers
	handlers := NewHandlers(auth, queue, tokens, cfg)

	// Auth routes
	router.POST("/auth/token", handlers.Token)

	// Queue routes require a session token
	tx := router.Group("/tx")
	tx.Use(TokenMiddleware(tokens))
	{
		tx.POST("", handlers.Enqueue)
		tx.GET("", handlers.List)
		tx.GET("/:id", handlers.Get)
		tx.POST("/:id/retry", handlers.Retry)
		tx.DELETE("/:id", handlers.Dequeue)
	}

	// Collection-level queue actions live outside the :id namespace
	actions := router.Group("/queue")
	actions.Use(TokenMiddleware(tokens))
	{
		actions.POST("/retry-all", handlers.RetryAll)
		actions.POST("/clear-completed", handlers.ClearCompleted)
	}

	// Status routes
	router.GET("/status/online", handlers.Online)

	return router
}
