package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/taoyao-code/fieldsync/internal/api/docs"
	"github.com/taoyao-code/fieldsync/internal/api/middleware"
)

// RouteConfig 操作员路由配置
type RouteConfig struct {
	Auth        middleware.AuthConfig
	SelectRate  float64
	SelectBurst int
	Swagger     bool
}

// RegisterOperatorRoutes 注册操作员路由
func RegisterOperatorRoutes(r gin.IRouter, h *OperatorHandler, cfg RouteConfig, logger *zap.Logger) {
	if r == nil || h == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.Swagger {
		docs.Register()
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group("/api")
	api.Use(middleware.CORS())
	if cfg.Auth.Enabled {
		api.Use(middleware.APIKeyAuth(cfg.Auth, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(cfg.Auth.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	// 查询
	api.GET("/nodes", h.ListNodes)
	api.GET("/nodes/:index", h.GetNode)
	api.GET("/nodes/:index/attempts", h.ListAttempts)
	api.GET("/clock", h.GetClock)
	api.GET("/grid", h.GetGrid)

	// 操作（限流）
	limited := api.Group("", middleware.RateLimit(middleware.NewRateLimiter(cfg.SelectRate, cfg.SelectBurst)))
	limited.POST("/nodes/:index/select", h.SelectNode)
	limited.POST("/touch", h.Touch)
	api.POST("/clock", h.SeedClock)

	logger.Info("operator routes registered", zap.Int("endpoints", 8))
}
