package model

import (
	"time"
)

type SubscriptionType string

const (
	SubscriptionTrial   SubscriptionType = "trial"
	SubscriptionMonthly SubscriptionType = "monthly"
	SubscriptionYearly  SubscriptionType = "yearly"
)

// Valid 判断是否为已知的订阅类型
func (t SubscriptionType) Valid() bool {
	switch t {
	case SubscriptionTrial, SubscriptionMonthly, SubscriptionYearly:
		return true
	}
	return false
}

// IsPaid 付费套餐（按时间计费）
func (t SubscriptionType) IsPaid() bool {
	return t == SubscriptionMonthly || t == SubscriptionYearly
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
)

// User 存储在 user:{id} 哈希的 data 字段
type User struct {
	ID                    string           `json:"id"`
	Email                 string           `json:"email"`
	PasswordHash          string           `json:"password_hash"`
	CreatedAt             time.Time        `json:"created_at"`
	LastLogin             *time.Time       `json:"last_login,omitempty"`
	Status                UserStatus       `json:"status"`
	SubscriptionType      SubscriptionType `json:"subscription_type"`
	SubscriptionExpiresAt *time.Time       `json:"subscription_expires_at,omitempty"`
	APICallsRemaining     int              `json:"api_calls_remaining"`
	TotalAPICalls         int              `json:"total_api_calls"`
	InvitedBy             string           `json:"invited_by,omitempty"`
	EmailVerified         bool             `json:"email_verified"`
	NewUserGiftCalls      int              `json:"new_user_gift_calls"`
	InviteGiftCalls       int              `json:"invite_gift_calls"`
}

// SubscriptionExpired 付费套餐已到期（试用用户永远返回 false）
func (u *User) SubscriptionExpired(now time.Time) bool {
	if !u.SubscriptionType.IsPaid() {
		return false
	}
	return u.SubscriptionExpiresAt == nil || !now.Before(*u.SubscriptionExpiresAt)
}

// DemoteToTrial 降级为试用，清空剩余次数
func (u *User) DemoteToTrial() {
	u.SubscriptionType = SubscriptionTrial
	u.SubscriptionExpiresAt = nil
	u.APICallsRemaining = 0
}
