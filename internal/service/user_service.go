package service

import (
	"context"

	"github.com/qs3c/meter_pay_server/internal/model/dto"
)

// UserService 个人中心
type UserService struct {
	credentials *CredentialService
	invites     *InviteService
	entitlement *EntitlementService
	checker     *SubscriptionChecker
}

func NewUserService(
	credentials *CredentialService,
	invites *InviteService,
	entitlement *EntitlementService,
	checker *SubscriptionChecker,
) *UserService {
	return &UserService{
		credentials: credentials,
		invites:     invites,
		entitlement: entitlement,
		checker:     checker,
	}
}

// GetProfile 先检查订阅是否过期，再返回用户、邀请码和订阅信息
func (s *UserService) GetProfile(ctx context.Context, userID string) (*dto.ProfileResponse, error) {
	if _, err := s.checker.CheckOne(ctx, userID); err != nil {
		return nil, err
	}
	user, err := s.credentials.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	codes, err := s.invites.ListByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &dto.ProfileResponse{
		User:        toUserInfo(user),
		InviteCodes: codes,
		SubscriptionInfo: &dto.SubscriptionInfo{
			Type:              string(user.SubscriptionType),
			ExpiresAt:         user.SubscriptionExpiresAt,
			APICallsRemaining: user.APICallsRemaining,
			TotalAPICalls:     user.TotalAPICalls,
		},
	}, nil
}

// GetUsage API 用量
func (s *UserService) GetUsage(ctx context.Context, userID string) (*dto.UsageResponse, error) {
	if _, err := s.checker.CheckOne(ctx, userID); err != nil {
		return nil, err
	}
	return s.entitlement.Usage(ctx, userID)
}

// GenerateInviteCodes 补足未使用的邀请码，已有 5 个时返回冲突
func (s *UserService) GenerateInviteCodes(ctx context.Context, userID string) (*dto.GenerateInviteCodesResponse, error) {
	codes, err := s.invites.TopUp(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := &dto.GenerateInviteCodesResponse{
		Generated: len(codes),
		NewCodes:  make([]string, 0, len(codes)),
	}
	for _, c := range codes {
		resp.NewCodes = append(resp.NewCodes, c.Code)
	}
	return resp, nil
}
