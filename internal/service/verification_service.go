package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/pkg/metrics"
	"github.com/qs3c/meter_pay_server/internal/repository"
)

const (
	EmailCodeTTL         = 60 * time.Second
	PasswordResetCodeTTL = 600 * time.Second
	// 使用后的验证码再保留 5 分钟，重复提交时仍能识别为已使用
	usedCodeResidualTTL = 300 * time.Second
)

var errCodeRejected = errors.New("verification code rejected")

func codeTTL(purpose model.VerificationPurpose) time.Duration {
	if purpose == model.PurposePasswordReset {
		return PasswordResetCodeTTL
	}
	return EmailCodeTTL
}

// VerificationService 一次性验证码
type VerificationService struct {
	codes   *repository.VerificationRepository
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewVerificationService(codes *repository.VerificationRepository, m *metrics.Metrics) *VerificationService {
	return &VerificationService{
		codes:   codes,
		metrics: m,
		now:     time.Now,
	}
}

// Issue 生成 6 位数字验证码，覆盖同一用途下未使用的旧码
func (s *VerificationService) Issue(ctx context.Context, email string, purpose model.VerificationPurpose) (string, error) {
	code, err := newVerificationCode()
	if err != nil {
		return "", err
	}
	now := s.now()
	ttl := codeTTL(purpose)
	record := &model.VerificationCode{
		Email:     email,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.codes.Save(ctx, purpose, record, ttl); err != nil {
		return "", err
	}
	s.metrics.VerificationSent.WithLabelValues(string(purpose)).Inc()
	return code, nil
}

// Verify 校验并标记为已使用
func (s *VerificationService) Verify(ctx context.Context, email string, purpose model.VerificationPurpose, code string) (bool, error) {
	_, err := s.codes.Update(ctx, purpose, email, usedCodeResidualTTL, func(v *model.VerificationCode) error {
		if !s.acceptable(v, code) {
			return errCodeRejected
		}
		v.IsUsed = true
		return nil
	})
	if errors.Is(err, errCodeRejected) || errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// VerifyPasswordResetCode 只读校验，不消耗验证码
func (s *VerificationService) VerifyPasswordResetCode(ctx context.Context, email, code string) (bool, error) {
	v, err := s.codes.Get(ctx, model.PurposePasswordReset, email)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.acceptable(v, code), nil
}

// UsePasswordResetCode 消耗重置密码验证码
func (s *VerificationService) UsePasswordResetCode(ctx context.Context, email, code string) (bool, error) {
	return s.Verify(ctx, email, model.PurposePasswordReset, code)
}

func (s *VerificationService) acceptable(v *model.VerificationCode, code string) bool {
	if v.IsUsed || v.Expired(s.now()) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(v.Code), []byte(code)) == 1
}
