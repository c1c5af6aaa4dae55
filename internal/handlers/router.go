package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/mesh-signaling/internal/middleware"
	"github.com/mossy-p/mesh-signaling/internal/signaling"
)

// RouterConfig collects what the HTTP surface needs
type RouterConfig struct {
	AllowedOrigins []string
	Logger         *slog.Logger
	Hub            *signaling.Hub
	// Metrics is mounted at /metrics when set
	Metrics http.Handler
}

// NewRouter builds the gin engine with every route mounted
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(cfg.Logger))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	// Room inspection API (read-only)
	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/rooms", ListRooms(cfg.Hub))
		apiGroup.GET("/rooms/:roomId", GetRoom(cfg.Hub))
	}

	// WebSocket signaling endpoint
	router.GET("/ws", HandleSignaling(cfg.Hub))

	return router
}
