package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"freelancehub/internal/errcode"
	"freelancehub/internal/marketplace"
	"freelancehub/internal/proposal"
)

// envelope 是所有接口统一的响应结构。
type envelope struct {
	StatusCode int    `json:"statusCode"`
	Code       int    `json:"code"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Data       any    `json:"data"`
}

func OK(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{
		StatusCode: status,
		Code:       errcode.OK,
		Success:    true,
		Message:    message,
		Data:       data,
	})
}

func Error(c *gin.Context, status, code int, msg string) {
	c.JSON(status, envelope{StatusCode: status, Code: code, Message: msg})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, envelope{
		StatusCode: http.StatusUnauthorized,
		Code:       errcode.Unauthenticated,
		Message:    "unauthorized",
	})
}

func Unauthorized(c *gin.Context) {
	Error(c, http.StatusUnauthorized, errcode.Unauthenticated, "unauthorized")
}
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, errcode.ValidationFailed, msg)
}
func Forbidden(c *gin.Context, msg string) { Error(c, http.StatusForbidden, errcode.Forbidden, msg) }
func NotFound(c *gin.Context, msg string)  { Error(c, http.StatusNotFound, errcode.NotFound, msg) }
func Conflict(c *gin.Context, msg string)  { Error(c, http.StatusConflict, errcode.Conflict, msg) }
func TooManyRequests(c *gin.Context) {
	Error(c, http.StatusTooManyRequests, errcode.RateLimited, "rate limit exceeded")
}
func Internal(c *gin.Context, msg string) {
	Error(c, http.StatusInternalServerError, errcode.SystemError, msg)
}

// respondError 按错误分类输出响应；未分类错误记录日志后返回 500。
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, marketplace.ErrValidation), errors.Is(err, proposal.ErrEmptyMessage):
		BadRequest(c, marketplace.Message(err))
	case errors.Is(err, marketplace.ErrForbidden):
		Forbidden(c, marketplace.Message(err))
	case errors.Is(err, marketplace.ErrNotFound):
		NotFound(c, marketplace.Message(err))
	case errors.Is(err, marketplace.ErrConflict):
		Conflict(c, marketplace.Message(err))
	case errors.Is(err, proposal.ErrGeneration):
		logger.Error("proposal generation failed", slog.Any("error", err))
		Error(c, http.StatusInternalServerError, errcode.GenerationFailed, proposal.ErrGeneration.Error())
	default:
		logger.Error("request failed", slog.Any("error", err))
		Internal(c, "internal error")
	}
}
