package model

import (
	"time"
)

type VerificationPurpose string

const (
	PurposeEmailVerification VerificationPurpose = "email_verification"
	PurposePasswordReset     VerificationPurpose = "password_reset"
)

type VerificationCode struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsUsed    bool      `json:"is_used"`
}

// Expired 按记录自带的过期时间判断，不依赖 key 的 TTL
func (v *VerificationCode) Expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}
