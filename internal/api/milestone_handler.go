package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"freelancehub/internal/marketplace"
)

// MilestoneHandler 暴露里程碑增删改查与交付审核接口。
type MilestoneHandler struct {
	milestones *marketplace.MilestoneService
	files      objectStore
	logger     *slog.Logger
}

// NewMilestoneHandler 构造里程碑处理器；files 可为 nil，此时删除里程碑不清理对象存储。
func NewMilestoneHandler(milestones *marketplace.MilestoneService, files objectStore, logger *slog.Logger) *MilestoneHandler {
	return &MilestoneHandler{milestones: milestones, files: files, logger: logger}
}

// List 返回任务下的里程碑。
func (h *MilestoneHandler) List(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	milestones, err := h.milestones.List(c.Request.Context(), userID, c.Param("jobId"))
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusOK, "Milestones fetched", milestones)
}

// Create 为任务新增里程碑。
func (h *MilestoneHandler) Create(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req milestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	in, err := req.input()
	if err != nil {
		BadRequest(c, marketplace.Message(err))
		return
	}

	milestone, err := h.milestones.Create(c.Request.Context(), userID, c.Param("jobId"), in)
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusCreated, "Milestone created", milestone)
}

type updateMilestoneRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	DueDate     *string  `json:"dueDate"`
	Amount      *float64 `json:"amount"`
}

// Update 部分更新里程碑，未提供的字段保持不变。
func (h *MilestoneHandler) Update(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req updateMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	update := marketplace.MilestoneUpdate{
		Title:       req.Title,
		Description: req.Description,
		Amount:      req.Amount,
	}
	if req.DueDate != nil {
		due, err := marketplace.ParseDueDate(*req.DueDate)
		if err != nil {
			BadRequest(c, marketplace.Message(err))
			return
		}
		update.DueDate = &due
	}

	milestone, err := h.milestones.Update(c.Request.Context(), userID, c.Param("milestoneId"), update)
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusOK, "Milestone updated", milestone)
}

// Delete 删除里程碑及其交付记录，并清理已上传的文件。
func (h *MilestoneHandler) Delete(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	milestoneID := c.Param("milestoneId")
	logger := loggerFromContext(c, h.logger)

	if err := h.milestones.Delete(c.Request.Context(), userID, milestoneID); err != nil {
		respondError(c, logger, err)
		return
	}

	if h.files != nil {
		// 清理失败不影响删除结果，残留对象只记录日志。
		if err := h.files.DeletePrefix(c.Request.Context(), "submissions/"+milestoneID+"/"); err != nil {
			logger.Warn("cleanup submission files failed",
				slog.String("milestone_id", milestoneID),
				slog.Any("error", err),
			)
		}
	}
	OK(c, http.StatusOK, "Milestone deleted", gin.H{"id": milestoneID})
}

type submitMilestoneRequest struct {
	Files    []string `json:"files"`
	Comments string   `json:"comments"`
}

// Submit 由自由职业者提交里程碑交付。
func (h *MilestoneHandler) Submit(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req submitMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	submission, err := h.milestones.Submit(requestContext(c), userID, c.Param("milestoneId"), marketplace.SubmissionInput{
		Files:    req.Files,
		Comments: req.Comments,
	})
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusCreated, "Work submitted", submission)
}

// Approve 通过一次交付。
func (h *MilestoneHandler) Approve(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	submission, err := h.milestones.Approve(requestContext(c), userID, c.Param("submissionId"))
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusOK, "Submission approved", submission)
}

// Reject 驳回一次交付。
func (h *MilestoneHandler) Reject(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	submission, err := h.milestones.Reject(requestContext(c), userID, c.Param("submissionId"))
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusOK, "Submission rejected", submission)
}

// Submissions 返回里程碑的交付历史。
func (h *MilestoneHandler) Submissions(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	submissions, err := h.milestones.Submissions(c.Request.Context(), userID, c.Param("milestoneId"))
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusOK, "Submissions fetched", submissions)
}
