package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/model/dto"
	"github.com/qs3c/meter_pay_server/internal/pkg/metrics"
	"github.com/qs3c/meter_pay_server/internal/repository"
)

const (
	monthlyPeriod = 30 * 24 * time.Hour
	yearlyPeriod  = 365 * 24 * time.Hour
)

// EntitlementService API 调用计量与订阅状态
type EntitlementService struct {
	users   *repository.UserRepository
	metrics *metrics.Metrics
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewEntitlementService(users *repository.UserRepository, m *metrics.Metrics, log logrus.FieldLogger) *EntitlementService {
	return &EntitlementService{
		users:   users,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// ConsumeAPICall 消耗一次调用。
// 付费用户在有效期内只累计总次数；已过期的付费用户就地降级为试用并拒绝本次调用。
// 试用用户剩余次数为 0 时拒绝。
func (s *EntitlementService) ConsumeAPICall(ctx context.Context, userID string) (bool, error) {
	var (
		allowed bool
		demoted bool
		tier    model.SubscriptionType
	)
	_, err := s.users.Update(ctx, userID, func(u *model.User) error {
		allowed, demoted = false, false
		tier = u.SubscriptionType

		if u.SubscriptionType.IsPaid() {
			if !u.SubscriptionExpired(s.now()) {
				u.TotalAPICalls++
				allowed = true
				return nil
			}
			u.DemoteToTrial()
			demoted = true
			return nil
		}

		if u.APICallsRemaining <= 0 {
			return repository.ErrNoChange
		}
		u.APICallsRemaining--
		u.TotalAPICalls++
		allowed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrUserNotFound
		}
		return false, err
	}

	if demoted {
		s.log.WithFields(logrus.Fields{"user_id": userID, "subscription_type": tier}).Info("subscription lapsed, demoted to trial")
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	s.metrics.APICalls.WithLabelValues(string(tier), result).Inc()
	return allowed, nil
}

// GrantTrialCalls 为试用用户追加调用次数，付费用户不变
func (s *EntitlementService) GrantTrialCalls(ctx context.Context, userID string, n int) (*model.User, error) {
	if n <= 0 {
		return nil, ErrInvalidCallGrant
	}
	user, err := s.users.Update(ctx, userID, func(u *model.User) error {
		if u.SubscriptionType != model.SubscriptionTrial {
			return repository.ErrNoChange
		}
		u.APICallsRemaining += n
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// ApplySubscription 开通订阅：月付 30 天，年付 365 天，试用清空到期时间。
// 只由支付对账在确认成功后调用
func (s *EntitlementService) ApplySubscription(ctx context.Context, userID string, typ model.SubscriptionType) (*model.User, error) {
	if !typ.Valid() {
		return nil, ErrInvalidPlan
	}
	user, err := s.users.Update(ctx, userID, func(u *model.User) error {
		now := s.now()
		u.SubscriptionType = typ
		switch typ {
		case model.SubscriptionMonthly:
			expires := now.Add(monthlyPeriod)
			u.SubscriptionExpiresAt = &expires
		case model.SubscriptionYearly:
			expires := now.Add(yearlyPeriod)
			u.SubscriptionExpiresAt = &expires
		default:
			u.SubscriptionExpiresAt = nil
		}
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":           userID,
		"subscription_type": typ,
		"expires_at":        user.SubscriptionExpiresAt,
	}).Info("subscription applied")
	return user, nil
}

// Usage 当前用量
func (s *EntitlementService) Usage(ctx context.Context, userID string) (*dto.UsageResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dto.UsageResponse{
		CallsRemaining:        user.APICallsRemaining,
		TotalCalls:            user.TotalAPICalls,
		SubscriptionType:      string(user.SubscriptionType),
		SubscriptionExpiresAt: user.SubscriptionExpiresAt,
	}, nil
}
