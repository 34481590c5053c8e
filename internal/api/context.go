package api

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"freelancehub/internal/api/middleware"
	"freelancehub/internal/tasks"
)

func userIDFromContext(c *gin.Context) (string, bool) {
	value, exists := c.Get(middleware.UserIDKey)
	if !exists {
		return "", false
	}
	id, ok := value.(string)
	return id, ok && id != ""
}

// requestContext 携带 Correlation ID，使异步任务日志能与请求对应。
func requestContext(c *gin.Context) context.Context {
	return tasks.WithCorrelationID(c.Request.Context(), middleware.GetCorrelationID(c))
}

func loggerFromContext(c *gin.Context, fallback *slog.Logger) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}
