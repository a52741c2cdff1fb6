package dto

import (
	"time"
)

// UserInfo 用户信息（返回给前端）
type UserInfo struct {
	ID                    string     `json:"id"`
	Email                 string     `json:"email"`
	Status                string     `json:"status"`
	SubscriptionType      string     `json:"subscription_type"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at"`
	APICallsRemaining     int        `json:"api_calls_remaining"`
	TotalAPICalls         int        `json:"total_api_calls"`
	InvitedBy             string     `json:"invited_by,omitempty"`
	EmailVerified         bool       `json:"email_verified"`
	NewUserGiftCalls      int        `json:"new_user_gift_calls"`
	InviteGiftCalls       int        `json:"invite_gift_calls"`
	CreatedAt             time.Time  `json:"created_at"`
	LastLogin             *time.Time `json:"last_login"`
}

// InviteCodeInfo 邀请码信息，used_by_email 为兑换者邮箱
type InviteCodeInfo struct {
	Code        string     `json:"code"`
	CreatedAt   time.Time  `json:"created_at"`
	UsedAt      *time.Time `json:"used_at"`
	UsedBy      string     `json:"used_by,omitempty"`
	UsedByEmail string     `json:"used_by_email,omitempty"`
	IsActive    bool       `json:"is_active"`
}

// SubscriptionInfo 订阅摘要
type SubscriptionInfo struct {
	Type              string     `json:"type"`
	ExpiresAt         *time.Time `json:"expires_at"`
	APICallsRemaining int        `json:"api_calls_remaining"`
	TotalAPICalls     int        `json:"total_api_calls"`
}

// ProfileResponse 个人中心
type ProfileResponse struct {
	User             *UserInfo         `json:"user"`
	InviteCodes      []*InviteCodeInfo `json:"invite_codes"`
	SubscriptionInfo *SubscriptionInfo `json:"subscription_info"`
}

// UsageResponse API 用量
type UsageResponse struct {
	CallsRemaining        int        `json:"calls_remaining"`
	TotalCalls            int        `json:"total_calls"`
	SubscriptionType      string     `json:"subscription_type"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at"`
}

// GenerateInviteCodesResponse 补充邀请码
type GenerateInviteCodesResponse struct {
	Generated int      `json:"generated"`
	NewCodes  []string `json:"new_codes"`
}
