package http

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/metagraph-backend/internal/http/handlers"
	"github.com/yungbote/metagraph-backend/internal/http/middleware"
	"github.com/yungbote/metagraph-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log           *logger.Logger
	AllowOrigins  string
	EntityHandler *handlers.EntityHandler
	AspectHandler *handlers.AspectHandler
	HealthHandler *handlers.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.AllowOrigins))
	router.Use(middleware.AttachTraceContext())
	router.Use(middleware.RequestLogger(cfg.Log))

	router.GET("/healthcheck", cfg.HealthHandler.HealthCheck)

	api := router.Group("/api/v1")
	{
		api.GET("/operations", cfg.HealthHandler.Operations)

		api.POST("/entities/:type", cfg.EntityHandler.Upsert)
		api.GET("/entities/:type", cfg.EntityHandler.Get)
		api.DELETE("/entities/:type", cfg.EntityHandler.Delete)

		api.POST("/aspects/:name", cfg.AspectHandler.Upsert)
		api.GET("/aspects/:name", cfg.AspectHandler.Get)
		api.DELETE("/aspects/:name", cfg.AspectHandler.Delete)
	}

	return router
}
