package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/model/dto"
	"github.com/qs3c/meter_pay_server/internal/repository"
)

const (
	// InitialInviteCodes 新用户默认分配的邀请码数量
	InitialInviteCodes = 5
	// MaxActiveInviteCodes 同时持有的未使用邀请码上限
	MaxActiveInviteCodes = 5

	inviteCodeAttempts = 5
	placeholderPrefix  = "pending:"
)

var errInviteUnavailable = errors.New("invite code unavailable")

// NewRedemptionPlaceholder 注册时用户尚未创建，先用占位 ID 兑换邀请码
func NewRedemptionPlaceholder() string {
	return placeholderPrefix + uuid.NewString()
}

// InviteService 邀请码台账
type InviteService struct {
	invites *repository.InviteRepository
	users   *repository.UserRepository
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewInviteService(invites *repository.InviteRepository, users *repository.UserRepository, log logrus.FieldLogger) *InviteService {
	return &InviteService{
		invites: invites,
		users:   users,
		log:     log,
		now:     time.Now,
	}
}

// Generate 为 owner 创建 count 个邀请码。上限规则由调用方检查
func (s *InviteService) Generate(ctx context.Context, owner string, count int) ([]*model.InviteCode, error) {
	codes := make([]*model.InviteCode, 0, count)
	for i := 0; i < count; i++ {
		inv, err := s.createOne(ctx, owner)
		if err != nil {
			return codes, err
		}
		codes = append(codes, inv)
	}
	return codes, nil
}

func (s *InviteService) createOne(ctx context.Context, owner string) (*model.InviteCode, error) {
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		code, err := newInviteCode()
		if err != nil {
			return nil, err
		}
		inv := &model.InviteCode{
			Code:      code,
			OwnerID:   owner,
			CreatedAt: s.now(),
			IsActive:  true,
		}
		err = s.invites.Create(ctx, inv)
		if errors.Is(err, repository.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return inv, nil
	}
	return nil, fmt.Errorf("generate invite code: %w", repository.ErrCodeTaken)
}

// Validate 邀请码存在、启用且未使用
func (s *InviteService) Validate(ctx context.Context, code string) (bool, error) {
	inv, err := s.invites.Get(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return inv.Usable(), nil
}

// Redeem 原子地把邀请码标记为已使用，同一个码只能成功一次
func (s *InviteService) Redeem(ctx context.Context, code, usedBy string) (*model.InviteCode, error) {
	inv, err := s.invites.Update(ctx, code, func(c *model.InviteCode) error {
		if !c.Usable() {
			return errInviteUnavailable
		}
		now := s.now()
		c.UsedAt = &now
		c.UsedBy = usedBy
		c.IsActive = false
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, errInviteUnavailable) {
		return nil, ErrInvalidInviteCode
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// PatchUsedBy 把占位兑换者替换为真实用户 ID
func (s *InviteService) PatchUsedBy(ctx context.Context, code, placeholder, usedBy string) (*model.InviteCode, error) {
	inv, err := s.invites.Update(ctx, code, func(c *model.InviteCode) error {
		if c.UsedBy != placeholder {
			return ErrInviteNotReserved
		}
		c.UsedBy = usedBy
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidInviteCode
	}
	return inv, err
}

// Release 注册失败时归还占位兑换的邀请码
func (s *InviteService) Release(ctx context.Context, code, placeholder string) error {
	_, err := s.invites.Update(ctx, code, func(c *model.InviteCode) error {
		if c.UsedBy != placeholder {
			return repository.ErrNoChange
		}
		c.UsedAt = nil
		c.UsedBy = ""
		c.IsActive = true
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}

// ListByOwner 按创建时间排序，已使用的码附带兑换者邮箱
func (s *InviteService) ListByOwner(ctx context.Context, owner string) ([]*dto.InviteCodeInfo, error) {
	invites, err := s.invites.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	sort.Slice(invites, func(i, j int) bool {
		if invites[i].CreatedAt.Equal(invites[j].CreatedAt) {
			return invites[i].Code < invites[j].Code
		}
		return invites[i].CreatedAt.Before(invites[j].CreatedAt)
	})

	infos := make([]*dto.InviteCodeInfo, 0, len(invites))
	for _, inv := range invites {
		info := &dto.InviteCodeInfo{
			Code:      inv.Code,
			CreatedAt: inv.CreatedAt,
			UsedAt:    inv.UsedAt,
			UsedBy:    inv.UsedBy,
			IsActive:  inv.IsActive,
		}
		if inv.UsedBy != "" {
			if u, err := s.users.GetByID(ctx, inv.UsedBy); err == nil {
				info.UsedByEmail = u.Email
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ActiveCount 未使用的邀请码数量
func (s *InviteService) ActiveCount(ctx context.Context, owner string) (int, error) {
	invites, err := s.invites.ListByOwner(ctx, owner)
	if err != nil {
		return 0, err
	}
	active := 0
	for _, inv := range invites {
		if inv.Usable() {
			active++
		}
	}
	return active, nil
}

// TopUp 补足到 MaxActiveInviteCodes 个未使用邀请码，已满时返回 ErrInviteLimitReached
func (s *InviteService) TopUp(ctx context.Context, owner string) ([]*model.InviteCode, error) {
	active, err := s.ActiveCount(ctx, owner)
	if err != nil {
		return nil, err
	}
	if active >= MaxActiveInviteCodes {
		return nil, ErrInviteLimitReached
	}
	codes, err := s.Generate(ctx, owner, MaxActiveInviteCodes-active)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"user_id": owner, "generated": len(codes)}).Info("invite codes topped up")
	return codes, nil
}
