package dto

// SendCodeRequest 发送注册验证码
type SendCodeRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// VerifyEmailRequest 邮箱验证请求
type VerifyEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,len=6,numeric"`
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,max=64"`
	InviteCode string `json:"invite_code,omitempty" binding:"omitempty,len=8,alphanum"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse 注册/登录响应
type AuthResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	User      *UserInfo `json:"user"`
}

// ForgotPasswordRequest 找回密码
type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ResetPasswordRequest 重置密码
type ResetPasswordRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Code        string `json:"code" binding:"required,len=6,numeric"`
	NewPassword string `json:"new_password" binding:"required,max=64"`
}
