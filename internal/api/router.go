package api

import (
	"github.com/adpulse/assistant-gateway/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the HTTP routes. allowedOrigin is the CORS origin served to
// the dashboard; "*" allows any.
func NewRouter(h *Handler, allowedOrigin string, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.RequestLoggingMiddleware(log))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowedOrigin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		conversations := v1.Group("/conversations")
		{
			conversations.GET("/:id", h.GetConversation)
			conversations.POST("/:id/messages", h.SendMessage)
			conversations.DELETE("/:id/messages", h.ClearConversation)
			conversations.POST("/:id/stop", h.StopStream)
			conversations.GET("/:id/ws", h.StreamEvents)
		}
	}

	return router
}
