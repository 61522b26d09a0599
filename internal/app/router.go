package app

import (
	"mcq_bot/internal/config"
	"mcq_bot/internal/middleware"
	"mcq_bot/internal/util"
	"mcq_bot/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.GET("/session", c.session.GetSession)
	}

	// 2. 需要 token 的路由，配对码可以直接接管账号
	auth := middleware.AuthMiddleware(cfg.JWT.Secret)
	authGroup := router.Group("/api")
	authGroup.Use(auth)
	{
		authGroup.GET("/pairing", c.pairing.GetPairing)
		authGroup.GET("/pairing/qr.png", c.pairing.GetPairingImage)
		authGroup.POST("/session/logout", c.session.Logout)
		authGroup.POST("/runs", c.run.StartRun)
		authGroup.GET("/runs/last", c.run.GetLastRun)
	}

	router.GET("/ws/events", auth, c.events.Subscribe)

	if cfg.Pairing.Upload && cfg.Storage.Type == util.StorageLocal {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}
}
