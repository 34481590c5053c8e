package api

import (
	"github.com/gin-gonic/gin"
)

// Handlers 汇总各业务处理器；Files 与 Ws 可为 nil，对应路由不注册。
type Handlers struct {
	Auth       *AuthHandler
	Jobs       *JobHandler
	Milestones *MilestoneHandler
	Profiles   *ProfileHandler
	Proposals  *ProposalHandler
	Files      *SubmissionFileHandler
	Ws         *WsHandler
}

// RegisterRoutes 在 /api/v1 下注册业务路由。
func RegisterRoutes(router *gin.Engine, h Handlers, authMiddleware gin.HandlerFunc) {
	v1 := router.Group("/api/v1")

	if h.Ws != nil {
		v1.GET("/ws", h.Ws.HandleConnection)
	}

	userGroup := v1.Group("/user")
	{
		userGroup.POST("/signIn", h.Auth.SignIn)
		userGroup.POST("/refresh-token", h.Auth.Refresh)
		userGroup.POST("/logout", authMiddleware, h.Auth.Logout)
		userGroup.GET("/me", authMiddleware, h.Auth.Me)
	}

	jobGroup := v1.Group("/jobs")
	jobGroup.Use(authMiddleware)
	{
		jobGroup.POST("/init", h.Jobs.Init)
		jobGroup.GET("/get/:jobId", h.Jobs.Get)
		jobGroup.GET("/getAll", h.Jobs.List)
		jobGroup.PUT("/accept/:jobId", h.Jobs.Accept)
		jobGroup.PUT("/reject/:jobId", h.Jobs.Reject)
		jobGroup.PUT("/complete/:jobId", h.Jobs.Complete)
		jobGroup.POST("/suggest", h.Jobs.Suggest)
		jobGroup.PUT("/suggest/:jobId", h.Jobs.Suggest)
	}

	milestoneGroup := v1.Group("/milestones")
	milestoneGroup.Use(authMiddleware)
	{
		milestoneGroup.GET("/job/:jobId", h.Milestones.List)
		milestoneGroup.POST("/job/:jobId", h.Milestones.Create)
		milestoneGroup.PUT("/update/:milestoneId", h.Milestones.Update)
		milestoneGroup.DELETE("/delete/:milestoneId", h.Milestones.Delete)
		milestoneGroup.POST("/submit/:milestoneId", h.Milestones.Submit)
		milestoneGroup.PUT("/approve/:submissionId", h.Milestones.Approve)
		milestoneGroup.PUT("/reject/:submissionId", h.Milestones.Reject)
		milestoneGroup.GET("/submissions/:milestoneId", h.Milestones.Submissions)
		if h.Files != nil {
			milestoneGroup.POST("/files/:milestoneId", h.Files.Upload)
			milestoneGroup.GET("/submission-files/:submissionId", h.Files.Links)
		}
	}

	clientGroup := v1.Group("/clients")
	clientGroup.Use(authMiddleware)
	{
		clientGroup.POST("", h.Profiles.CreateClient)
		clientGroup.PUT("", h.Profiles.UpdateClient)
		clientGroup.GET("/:userId", h.Profiles.GetClient)
	}

	freelancerGroup := v1.Group("/freelancers")
	freelancerGroup.Use(authMiddleware)
	{
		freelancerGroup.POST("", h.Profiles.CreateFreelancer)
		freelancerGroup.PUT("", h.Profiles.UpdateFreelancer)
		freelancerGroup.GET("", h.Profiles.ListFreelancers)
		freelancerGroup.GET("/:userId", h.Profiles.GetFreelancer)
	}

	aiGroup := v1.Group("/ai")
	{
		aiGroup.POST("/generate_project_proposal", h.Proposals.Generate)
	}
}
