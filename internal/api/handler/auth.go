package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/meter_pay_server/internal/api/middleware"
	"github.com/qs3c/meter_pay_server/internal/model/dto"
	"github.com/qs3c/meter_pay_server/internal/pkg/response"
	"github.com/qs3c/meter_pay_server/internal/service"
)

type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// SendCode 发送注册验证码
// POST /api/v1/auth/send-code
func (h *AuthHandler) SendCode(c *gin.Context) {
	var req dto.SendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if err := h.authService.SendVerificationCode(c.Request.Context(), req.Email); err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "验证码已发送", nil)
}

// VerifyEmail 邮箱验证
// POST /api/v1/auth/verify-email
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req dto.VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if err := h.authService.VerifyEmail(c.Request.Context(), &req); err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "邮箱验证成功", nil)
}

// Register 用户注册
// POST /api/v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "注册成功", resp)
}

// Login 用户登录
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "登录成功", resp)
}

// Logout 注销当前 token
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	token, ok := middleware.GetToken(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	if err := h.authService.Logout(c.Request.Context(), token); err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "已退出登录", nil)
}

// ForgotPassword 发送重置密码验证码
// POST /api/v1/auth/forgot-password
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req dto.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if err := h.authService.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "重置验证码已发送", nil)
}

// ResetPassword 重置密码
// POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req dto.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if err := h.authService.ResetPassword(c.Request.Context(), &req); err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "密码已重置，请重新登录", nil)
}
