package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"freelancehub/internal/proposal"
)

type proposalDrafter interface {
	Generate(ctx context.Context, message string) (*proposal.Proposal, error)
}

// ProposalHandler 将自由文本描述转换为项目草案。
type ProposalHandler struct {
	drafter          proposalDrafter
	redis            redis.UniversalClient
	logger           *slog.Logger
	rateLimitPerHour int
}

// NewProposalHandler 构造草案处理器。
func NewProposalHandler(drafter proposalDrafter, redisClient redis.UniversalClient, logger *slog.Logger, rateLimitPerHour int) *ProposalHandler {
	return &ProposalHandler{
		drafter:          drafter,
		redis:            redisClient,
		logger:           logger,
		rateLimitPerHour: rateLimitPerHour,
	}
}

type generateProposalRequest struct {
	Message string `json:"message"`
}

// Generate 调用模型生成项目草案；按客户端 IP 每小时限流。
func (h *ProposalHandler) Generate(c *gin.Context) {
	var req generateProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger)

	rateKey := "rate:ai:" + c.ClientIP() + ":" + time.Now().UTC().Format("2006010215")
	count, err := incrWithTTL(ctx, h.redis, rateKey, time.Hour)
	if err != nil {
		logger.Warn("proposal rate counter unavailable", slog.Any("error", err))
		count = 0
	}
	if count > int64(h.rateLimitPerHour) {
		TooManyRequests(c)
		return
	}

	draft, err := h.drafter.Generate(ctx, req.Message)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	OK(c, http.StatusOK, "Project proposal generated", draft)
}
