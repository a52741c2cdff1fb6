package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/qs3c/meter_pay_server/internal/model"
)

// PaymentAuditRepository 支付状态变更流水（MySQL）
type PaymentAuditRepository struct {
	db *gorm.DB
}

func NewPaymentAuditRepository(db *gorm.DB) *PaymentAuditRepository {
	return &PaymentAuditRepository{db: db}
}

func (r *PaymentAuditRepository) Append(ctx context.Context, event *model.PaymentEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *PaymentAuditRepository) ListByTradeOrderID(ctx context.Context, tradeOrderID string) ([]*model.PaymentEvent, error) {
	var events []*model.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("trade_order_id = ?", tradeOrderID).
		Order("id ASC").
		Find(&events).Error
	return events, err
}

func (r *PaymentAuditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.PaymentEvent, error) {
	var events []*model.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
