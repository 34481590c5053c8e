package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"freelancehub/internal/marketplace"
)

// ProfileHandler 暴露雇主与自由职业者档案接口。
type ProfileHandler struct {
	profiles *marketplace.ProfileService
	logger   *slog.Logger
}

// NewProfileHandler 构造档案处理器。
func NewProfileHandler(profiles *marketplace.ProfileService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, logger: logger}
}

type clientProfileRequest struct {
	UserID   string  `json:"userId"`
	Headline *string `json:"headline"`
	Bio      *string `json:"bio"`
	Location *string `json:"location"`
	Purpose  *string `json:"purpose"`
}

func (r clientProfileRequest) fields() marketplace.ClientFields {
	return marketplace.ClientFields{
		Headline: r.Headline,
		Bio:      r.Bio,
		Location: r.Location,
		Purpose:  r.Purpose,
	}
}

type freelancerProfileRequest struct {
	UserID       string   `json:"userId"`
	Skills       []string `json:"skills"`
	PortfolioURL *string  `json:"portfolioUrl"`
	Headline     *string  `json:"headline"`
	Bio          *string  `json:"bio"`
	Location     *string  `json:"location"`
	Rate         *float64 `json:"rate"`
}

func (r freelancerProfileRequest) fields() marketplace.FreelancerFields {
	return marketplace.FreelancerFields{
		Skills:       r.Skills,
		PortfolioURL: r.PortfolioURL,
		Headline:     r.Headline,
		Bio:          r.Bio,
		Location:     r.Location,
		Rate:         r.Rate,
	}
}

// profileOwner 返回当前用户；请求体中的 userId 只能指向自己。
func profileOwner(c *gin.Context, bodyUserID string) (string, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return "", false
	}
	if bodyUserID != "" && bodyUserID != userID {
		Forbidden(c, "cannot modify another user's profile")
		return "", false
	}
	return userID, true
}

// CreateClient 创建雇主档案。
func (h *ProfileHandler) CreateClient(c *gin.Context) {
	var req clientProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	userID, ok := profileOwner(c, req.UserID)
	if !ok {
		return
	}

	client, err := h.profiles.CreateClient(c.Request.Context(), userID, req.fields())
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusCreated, "Client profile created", client)
}

// UpdateClient 更新雇主档案，不存在时创建。
func (h *ProfileHandler) UpdateClient(c *gin.Context) {
	var req clientProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	userID, ok := profileOwner(c, req.UserID)
	if !ok {
		return
	}

	client, created, err := h.profiles.UpsertClient(c.Request.Context(), userID, req.fields())
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	if created {
		OK(c, http.StatusCreated, "Client profile created", client)
		return
	}
	OK(c, http.StatusOK, "Client profile updated", client)
}

// GetClient 返回指定用户的雇主档案。
func (h *ProfileHandler) GetClient(c *gin.Context) {
	viewerID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	client, err := h.profiles.GetClient(c.Request.Context(), viewerID, c.Param("userId"))
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusOK, "Client profile fetched", client)
}

// CreateFreelancer 创建自由职业者档案。
func (h *ProfileHandler) CreateFreelancer(c *gin.Context) {
	var req freelancerProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	userID, ok := profileOwner(c, req.UserID)
	if !ok {
		return
	}

	freelancer, err := h.profiles.CreateFreelancer(c.Request.Context(), userID, req.fields())
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusCreated, "Freelancer profile created", freelancer)
}

// UpdateFreelancer 更新自由职业者档案，不存在时创建。
func (h *ProfileHandler) UpdateFreelancer(c *gin.Context) {
	var req freelancerProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	userID, ok := profileOwner(c, req.UserID)
	if !ok {
		return
	}

	freelancer, created, err := h.profiles.UpsertFreelancer(c.Request.Context(), userID, req.fields())
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	if created {
		OK(c, http.StatusCreated, "Freelancer profile created", freelancer)
		return
	}
	OK(c, http.StatusOK, "Freelancer profile updated", freelancer)
}

// GetFreelancer 返回指定用户的自由职业者档案。
func (h *ProfileHandler) GetFreelancer(c *gin.Context) {
	viewerID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	freelancer, err := h.profiles.GetFreelancer(c.Request.Context(), viewerID, c.Param("userId"))
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusOK, "Freelancer profile fetched", freelancer)
}

// ListFreelancers 返回全部自由职业者。
func (h *ProfileHandler) ListFreelancers(c *gin.Context) {
	freelancers, err := h.profiles.ListFreelancers(c.Request.Context())
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusOK, "Freelancers fetched", freelancers)
}
