package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/meter_pay_server/internal/api/middleware"
	"github.com/qs3c/meter_pay_server/internal/model/dto"
	"github.com/qs3c/meter_pay_server/internal/pkg/response"
	"github.com/qs3c/meter_pay_server/internal/service"
)

type AnalysisHandler struct {
	analysisService *service.AnalysisService
}

func NewAnalysisHandler(analysisService *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
	}
}

// Run 发起分析，消耗一次 API 调用
// POST /api/v1/analyses/run
func (h *AnalysisHandler) Run(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.RunAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.analysisService.RunAnalysis(c.Request.Context(), userID, &req)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "分析任务已提交", resp)
}

// GetJob 任务状态
// GET /api/v1/analyses/jobs/:id
func (h *AnalysisHandler) GetJob(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	status, err := h.analysisService.GetJob(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.Success(c, status)
}
