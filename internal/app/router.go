package app

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"xapi_sync_backend/docs"
	"xapi_sync_backend/internal/config"
	"xapi_sync_backend/internal/middleware"
	"xapi_sync_backend/pkg/monitoring"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 公共路由
	router.GET("/health", c.health.Health)
	router.GET("/health/connectivity", c.health.Connectivity)

	public := router.Group("/api")
	{
		public.POST("/sessions", c.session.CreateSession)
		public.POST("/statements/validate", c.statement.ValidateStatement)
	}

	// 会话令牌保护的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.SessionAuthMiddleware())
	{
		authGroup.GET("/sessions/:id", c.session.GetSession)

		statements := authGroup.Group("/statements")
		{
			statements.POST("", c.statement.SubmitStatement)
			statements.GET("", c.statement.ListByStatus)
			statements.GET("/queue/stats", c.statement.QueueStatistics)
			statements.GET("/conflicts", c.statement.ConflictLog)
			statements.GET("/remote", c.state.RemoteStatements)
			statements.GET("/:id", c.statement.GetStatement)
			statements.DELETE("/:id", c.statement.DeleteStatement)
		}

		state := authGroup.Group("/state")
		{
			state.GET("", c.state.GetState)
			state.PUT("", c.state.PutState)
			state.DELETE("", c.state.DeleteState)
		}

		syncGroup := authGroup.Group("/sync")
		{
			syncGroup.POST("/trigger", c.sync.TriggerSync)
			syncGroup.POST("/cancel", c.sync.CancelSync)
			syncGroup.POST("/retry", c.sync.RetryFailed)
			syncGroup.GET("/status", c.sync.SyncStatus)
			syncGroup.GET("/statistics", c.sync.Statistics)
			syncGroup.PUT("/low-power", c.sync.SetLowPowerMode)
		}
	}

	// websocket 走 query token 认证
	router.GET("/ws/sync", middleware.SessionAuthMiddleware(), c.sync.ServeWs)
}
