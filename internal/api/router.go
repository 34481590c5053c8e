package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"freelancehub/internal/api/middleware"
	"freelancehub/internal/config"
	"freelancehub/internal/metrics"
)

// NewRouter 构建 Gin 路由引擎，挂载通用中间件、健康检查与指标端点。
func NewRouter(cfg config.APIConfig, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(logger),
		metrics.GinMiddleware(),
	)

	origins := cfg.AllowedOrigins()
	if len(origins) > 0 {
		corsCfg := cors.Config{
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Correlation-ID"},
			ExposeHeaders:    []string{"X-Correlation-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}
		if len(origins) == 1 && origins[0] == "*" {
			corsCfg.AllowAllOrigins = true
			corsCfg.AllowCredentials = false
		} else {
			corsCfg.AllowOrigins = origins
		}
		router.Use(cors.New(corsCfg))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	return router
}
