package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/meter_pay_server/internal/api/middleware"
	"github.com/qs3c/meter_pay_server/internal/pkg/response"
	"github.com/qs3c/meter_pay_server/internal/service"
)

type UserHandler struct {
	userService *service.UserService
}

func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// GetProfile 个人中心：用户信息、邀请码、订阅摘要
// GET /api/v1/user/profile
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	profile, err := h.userService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.Success(c, profile)
}

// GetUsage API 用量
// GET /api/v1/user/usage
func (h *UserHandler) GetUsage(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	usage, err := h.userService.GetUsage(c.Request.Context(), userID)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.Success(c, usage)
}

// GenerateInviteCodes 补足邀请码
// POST /api/v1/user/invite-codes
func (h *UserHandler) GenerateInviteCodes(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	resp, err := h.userService.GenerateInviteCodes(c.Request.Context(), userID)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "邀请码已生成", resp)
}
