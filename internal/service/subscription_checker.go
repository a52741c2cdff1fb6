package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/pkg/metrics"
	"github.com/qs3c/meter_pay_server/internal/repository"
)

const sweepBatchSize = 100

// SweepResult 一次扫描的统计
type SweepResult struct {
	Scanned int `json:"scanned"`
	Demoted int `json:"demoted"`
}

// SubscriptionChecker 过期订阅降级
type SubscriptionChecker struct {
	users   *repository.UserRepository
	metrics *metrics.Metrics
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewSubscriptionChecker(users *repository.UserRepository, m *metrics.Metrics, log logrus.FieldLogger) *SubscriptionChecker {
	return &SubscriptionChecker{
		users:   users,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// SweepExpired 分页扫描所有用户，把到期的付费用户降级为试用
func (c *SubscriptionChecker) SweepExpired(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}
	var cursor uint64
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		ids, next, err := c.users.ScanIDs(ctx, cursor, sweepBatchSize)
		if err != nil {
			return result, err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Scanned++
			demoted, err := c.demoteIfExpired(ctx, id)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					continue
				}
				return result, err
			}
			if demoted {
				result.Demoted++
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return result, nil
}

// CheckOne 立即检查单个用户，返回订阅当前是否有效（试用用户始终有效）
func (c *SubscriptionChecker) CheckOne(ctx context.Context, userID string) (bool, error) {
	user, err := c.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, err
	}
	if !user.SubscriptionType.IsPaid() {
		return true, nil
	}
	if !user.SubscriptionExpired(c.now()) {
		return true, nil
	}

	// 并发续费或已被降级时不会再写入，此时订阅视为有效
	demoted, err := c.demoteIfExpired(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrUserNotFound
		}
		return false, err
	}
	return !demoted, nil
}

func (c *SubscriptionChecker) demoteIfExpired(ctx context.Context, userID string) (bool, error) {
	var (
		demoted bool
		prev    model.SubscriptionType
		expired *time.Time
	)
	_, err := c.users.Update(ctx, userID, func(u *model.User) error {
		demoted = false
		if !u.SubscriptionExpired(c.now()) {
			return repository.ErrNoChange
		}
		prev, expired = u.SubscriptionType, u.SubscriptionExpiresAt
		u.DemoteToTrial()
		demoted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if demoted {
		c.metrics.SweepDemotions.Inc()
		c.log.WithFields(logrus.Fields{
			"user_id":           userID,
			"subscription_type": prev,
			"expired_at":        expired,
		}).Info("expired subscription demoted to trial")
	}
	return demoted, nil
}
