package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/pkg/password"
	"github.com/qs3c/meter_pay_server/internal/repository"
)

const (
	NewUserGiftCalls = 3
	InviteGiftCalls  = 4
)

// WipeReport 清除用户数据的结果
type WipeReport struct {
	UserID           string `json:"user_id"`
	InviteCodes      int    `json:"invite_codes"`
	Sessions         int    `json:"sessions"`
	PaymentsRetained bool   `json:"payments_retained"`
}

// CredentialService 用户记录、邮箱索引与密码
type CredentialService struct {
	users         *repository.UserRepository
	verifications *repository.VerificationRepository
	invites       *repository.InviteRepository
	sessions      *repository.SessionRepository
	inviteService *InviteService
	log           logrus.FieldLogger
	now           func() time.Time
}

func NewCredentialService(
	users *repository.UserRepository,
	verifications *repository.VerificationRepository,
	invites *repository.InviteRepository,
	sessions *repository.SessionRepository,
	inviteService *InviteService,
	log logrus.FieldLogger,
) *CredentialService {
	return &CredentialService{
		users:         users,
		verifications: verifications,
		invites:       invites,
		sessions:      sessions,
		inviteService: inviteService,
		log:           log,
		now:           time.Now,
	}
}

// CreateUser 创建试用用户并分配初始邀请码。
// 新用户赠送 3 次，通过邀请注册再赠送 4 次
func (s *CredentialService) CreateUser(ctx context.Context, email, plain, invitedBy string) (*model.User, error) {
	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyRegistered
	}

	hash, err := password.Hash(plain)
	if err != nil {
		return nil, err
	}
	verified, err := s.users.IsEmailVerified(ctx, email)
	if err != nil {
		return nil, err
	}
	id, err := s.allocateID(ctx)
	if err != nil {
		return nil, err
	}

	inviteGift := 0
	if invitedBy != "" {
		inviteGift = InviteGiftCalls
	}
	user := &model.User{
		ID:                id,
		Email:             email,
		PasswordHash:      hash,
		CreatedAt:         s.now(),
		Status:            model.UserStatusActive,
		SubscriptionType:  model.SubscriptionTrial,
		APICallsRemaining: NewUserGiftCalls + inviteGift,
		InvitedBy:         invitedBy,
		EmailVerified:     verified,
		NewUserGiftCalls:  NewUserGiftCalls,
		InviteGiftCalls:   inviteGift,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrAlreadyRegistered
		}
		return nil, err
	}

	// 邀请码分配失败不影响注册，用户之后可以手动补充
	if _, err := s.inviteService.Generate(ctx, user.ID, InitialInviteCodes); err != nil {
		s.log.WithField("user_id", user.ID).WithError(err).Warn("allocate initial invite codes failed")
	}
	return user, nil
}

func (s *CredentialService) allocateID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		id, err := newUserID()
		if err != nil {
			return "", err
		}
		_, err = s.users.GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return id, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("allocate user id: too many collisions")
}

func (s *CredentialService) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (s *CredentialService) GetByID(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// VerifyPassword 常量时间比较
func (s *CredentialService) VerifyPassword(stored, provided string) bool {
	return password.Verify(stored, provided)
}

// MarkEmailVerified 写入独立的持久标记，与验证码的生命周期无关
func (s *CredentialService) MarkEmailVerified(ctx context.Context, email string) error {
	if err := s.users.MarkEmailVerified(ctx, email); err != nil {
		return err
	}
	// 已存在的用户同步记录上的字段
	_, err := s.updateByEmail(ctx, email, func(u *model.User) error {
		if u.EmailVerified {
			return repository.ErrNoChange
		}
		u.EmailVerified = true
		return nil
	})
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	return err
}

func (s *CredentialService) IsEmailVerified(ctx context.Context, email string) (bool, error) {
	return s.users.IsEmailVerified(ctx, email)
}

func (s *CredentialService) UpdateLastLogin(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.Update(ctx, id, func(u *model.User) error {
		now := s.now()
		u.LastLogin = &now
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// Save 整条写回
func (s *CredentialService) Save(ctx context.Context, user *model.User) error {
	return s.users.Save(ctx, user)
}

// UpdatePassword 重新加盐计算哈希
func (s *CredentialService) UpdatePassword(ctx context.Context, email, newPassword string) error {
	hash, err := password.Hash(newPassword)
	if err != nil {
		return err
	}
	_, err = s.updateByEmail(ctx, email, func(u *model.User) error {
		u.PasswordHash = hash
		return nil
	})
	return err
}

func (s *CredentialService) updateByEmail(ctx context.Context, email string, mutate func(*model.User) error) (*model.User, error) {
	id, err := s.users.GetIDByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	user, err := s.users.Update(ctx, id, mutate)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// WipeByEmail 管理员清除用户：记录、邮箱索引、验证标记、验证码、邀请码和会话。
// 支付记录保留用于对账
func (s *CredentialService) WipeByEmail(ctx context.Context, email string) (*WipeReport, error) {
	user, err := s.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	logger := s.log.WithFields(logrus.Fields{"user_id": user.ID, "email": email, "op": "wipe"})

	if err := s.users.Delete(ctx, user); err != nil {
		return nil, err
	}
	if err := s.users.ClearEmailVerified(ctx, email); err != nil {
		return nil, err
	}
	if err := s.verifications.DeleteAll(ctx, email); err != nil {
		return nil, err
	}
	invites, err := s.invites.DeleteByOwner(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.sessions.DeleteByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	report := &WipeReport{
		UserID:           user.ID,
		InviteCodes:      invites,
		Sessions:         sessions,
		PaymentsRetained: true,
	}
	logger.WithFields(logrus.Fields{"invite_codes": invites, "sessions": sessions}).Warn("user wiped")
	return report, nil
}
