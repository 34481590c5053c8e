package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"freelancehub/internal/database"
	"freelancehub/internal/marketplace"
)

// JobHandler 暴露任务生命周期接口。
type JobHandler struct {
	jobs   *marketplace.JobService
	logger *slog.Logger
}

// NewJobHandler 构造任务处理器。
func NewJobHandler(jobs *marketplace.JobService, logger *slog.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, logger: logger}
}

type milestoneRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	DueDate     string   `json:"dueDate"`
	Amount      *float64 `json:"amount"`
}

func (r milestoneRequest) input() (marketplace.MilestoneInput, error) {
	in := marketplace.MilestoneInput{
		Title:       r.Title,
		Description: r.Description,
	}
	if strings.TrimSpace(r.DueDate) != "" {
		due, err := marketplace.ParseDueDate(r.DueDate)
		if err != nil {
			return in, err
		}
		in.DueDate = due
	}
	if r.Amount != nil {
		in.Amount = *r.Amount
	}
	return in, nil
}

type jobRequest struct {
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	ClientID     string             `json:"clientId"`
	FreelancerID string             `json:"freelancerId"`
	Milestones   []milestoneRequest `json:"milestones"`
}

func (r jobRequest) input() (marketplace.JobInput, error) {
	in := marketplace.JobInput{
		Title:        r.Title,
		Description:  r.Description,
		ClientID:     r.ClientID,
		FreelancerID: r.FreelancerID,
		Milestones:   make([]marketplace.MilestoneInput, 0, len(r.Milestones)),
	}
	for i, m := range r.Milestones {
		mi, err := m.input()
		if err != nil {
			return in, fmt.Errorf("%w: milestones[%d]: %s", marketplace.ErrValidation, i, marketplace.Message(err))
		}
		in.Milestones = append(in.Milestones, mi)
	}
	return in, nil
}

func (h *JobHandler) bindJob(c *gin.Context) (marketplace.JobInput, bool) {
	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return marketplace.JobInput{}, false
	}
	in, err := req.input()
	if err != nil {
		BadRequest(c, marketplace.Message(err))
		return marketplace.JobInput{}, false
	}
	return in, true
}

// Init 由雇主创建任务及其里程碑。
func (h *JobHandler) Init(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	in, ok := h.bindJob(c)
	if !ok {
		return
	}

	job, err := h.jobs.Init(requestContext(c), userID, in)
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusCreated, "Job created", job)
}

// Suggest 发起任务建议；路径带 jobId 时表示对该任务还价。
func (h *JobHandler) Suggest(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	in, ok := h.bindJob(c)
	if !ok {
		return
	}

	job, err := h.jobs.Suggest(requestContext(c), userID, c.Param("jobId"), in)
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusCreated, "Job suggested", job)
}

// Get 返回单个任务及其里程碑。
func (h *JobHandler) Get(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), userID, c.Param("jobId"))
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusOK, "Job fetched", job)
}

// List 返回当前用户作为任一方参与的任务，支持 ?status= 过滤。
func (h *JobHandler) List(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var status database.JobStatus
	if raw := c.Query("status"); raw != "" {
		parsed, valid := database.ParseJobStatus(raw)
		if !valid {
			BadRequest(c, "unknown job status")
			return
		}
		status = parsed
	}

	jobs, err := h.jobs.List(c.Request.Context(), userID, status)
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusOK, "Jobs fetched", jobs)
}

// Accept 接受处于 proposed 的任务。
func (h *JobHandler) Accept(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	job, err := h.jobs.Accept(requestContext(c), userID, c.Param("jobId"))
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusOK, "Job accepted", job)
}

type rejectJobRequest struct {
	RejectReason string `json:"rejectReason"`
}

// Reject 拒绝处于 proposed 的任务，需要给出原因。
func (h *JobHandler) Reject(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req rejectJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	job, err := h.jobs.Reject(requestContext(c), userID, c.Param("jobId"), req.RejectReason)
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusOK, "Job rejected", job)
}

// Complete 由雇主将已接受的任务标记为完成。
func (h *JobHandler) Complete(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	job, err := h.jobs.Complete(requestContext(c), userID, c.Param("jobId"))
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusOK, "Job completed", job)
}
