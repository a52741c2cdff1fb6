package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/model/dto"
	"github.com/qs3c/meter_pay_server/internal/pkg/email"
)

const tokenType = "bearer"

// AuthService 注册、登录和找回密码流程
type AuthService struct {
	credentials   *CredentialService
	verifications *VerificationService
	invites       *InviteService
	tokens        *TokenService
	mailer        email.Sender
	siteName      string
	log           logrus.FieldLogger
}

func NewAuthService(
	credentials *CredentialService,
	verifications *VerificationService,
	invites *InviteService,
	tokens *TokenService,
	mailer email.Sender,
	siteName string,
	log logrus.FieldLogger,
) *AuthService {
	return &AuthService{
		credentials:   credentials,
		verifications: verifications,
		invites:       invites,
		tokens:        tokens,
		mailer:        mailer,
		siteName:      siteName,
		log:           log,
	}
}

// SendVerificationCode 发送注册验证码，已注册的邮箱直接拒绝
func (s *AuthService) SendVerificationCode(ctx context.Context, addr string) error {
	_, err := s.credentials.GetByEmail(ctx, addr)
	if err == nil {
		return ErrAlreadyRegistered
	}
	if !errors.Is(err, ErrUserNotFound) {
		return err
	}

	code, err := s.verifications.Issue(ctx, addr, model.PurposeEmailVerification)
	if err != nil {
		return err
	}
	subject, html := email.VerificationCode(s.siteName, code, minutes(EmailCodeTTL))
	if !s.mailer.Send(addr, subject, html) {
		s.log.WithField("email", addr).Error("send verification email failed")
		return ErrEmailSendFailed
	}
	return nil
}

// VerifyEmail 校验验证码并写入邮箱已验证标记
func (s *AuthService) VerifyEmail(ctx context.Context, req *dto.VerifyEmailRequest) error {
	ok, err := s.verifications.Verify(ctx, req.Email, model.PurposeEmailVerification, req.Code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}
	return s.credentials.MarkEmailVerified(ctx, req.Email)
}

// Register 用户注册。
// 邀请码先以占位 id 兑换，用户创建成功后再改写 used_by；创建失败则释放邀请码
func (s *AuthService) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.AuthResponse, error) {
	verified, err := s.credentials.IsEmailVerified(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, ErrEmailNotVerified
	}

	logger := s.log.WithField("email", req.Email)

	var invitedBy, placeholder string
	if req.InviteCode != "" {
		placeholder = NewRedemptionPlaceholder()
		invite, err := s.invites.Redeem(ctx, req.InviteCode, placeholder)
		if err != nil {
			return nil, err
		}
		invitedBy = invite.OwnerID
	}

	user, err := s.credentials.CreateUser(ctx, req.Email, req.Password, invitedBy)
	if err != nil {
		if placeholder != "" {
			if rerr := s.invites.Release(ctx, req.InviteCode, placeholder); rerr != nil {
				logger.WithError(rerr).Error("release invite code failed")
			}
		}
		return nil, err
	}
	logger = logger.WithField("user_id", user.ID)

	if placeholder != "" {
		if _, err := s.invites.PatchUsedBy(ctx, req.InviteCode, placeholder, user.ID); err != nil {
			logger.WithError(err).Error("patch invite used_by failed")
		}
	}

	token, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	subject, html := email.Welcome(s.siteName, user.Email, user.APICallsRemaining)
	if !s.mailer.Send(user.Email, subject, html) {
		logger.Warn("send welcome email failed")
	}
	logger.WithField("invited_by", invitedBy).Info("user registered")

	return &dto.AuthResponse{
		Token:     token,
		TokenType: tokenType,
		User:      toUserInfo(user),
	}, nil
}

// Login 用户登录
func (s *AuthService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error) {
	user, err := s.credentials.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.credentials.VerifyPassword(user.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}
	if user.Status == model.UserStatusSuspended {
		return nil, ErrAccountDisabled
	}

	user, err = s.credentials.UpdateLastLogin(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &dto.AuthResponse{
		Token:     token,
		TokenType: tokenType,
		User:      toUserInfo(user),
	}, nil
}

// Logout 删除会话镜像
func (s *AuthService) Logout(ctx context.Context, token string) error {
	return s.tokens.Invalidate(ctx, token)
}

// ForgotPassword 发送重置密码验证码
func (s *AuthService) ForgotPassword(ctx context.Context, addr string) error {
	if _, err := s.credentials.GetByEmail(ctx, addr); err != nil {
		return err
	}
	code, err := s.verifications.Issue(ctx, addr, model.PurposePasswordReset)
	if err != nil {
		return err
	}
	subject, html := email.PasswordResetCode(s.siteName, code, minutes(PasswordResetCodeTTL))
	if !s.mailer.Send(addr, subject, html) {
		s.log.WithField("email", addr).Error("send password reset email failed")
		return ErrEmailSendFailed
	}
	return nil
}

// ResetPassword 先校验再改密码，改成功后才消费验证码，失败可用同一个码重试
func (s *AuthService) ResetPassword(ctx context.Context, req *dto.ResetPasswordRequest) error {
	ok, err := s.verifications.VerifyPasswordResetCode(ctx, req.Email, req.Code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}
	if err := s.credentials.UpdatePassword(ctx, req.Email, req.NewPassword); err != nil {
		return err
	}
	if _, err := s.verifications.UsePasswordResetCode(ctx, req.Email, req.Code); err != nil {
		s.log.WithField("email", req.Email).WithError(err).Warn("consume password reset code failed")
	}
	return nil
}

func minutes(d time.Duration) int {
	return int(d / time.Minute)
}
