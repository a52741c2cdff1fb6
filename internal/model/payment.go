package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentSuccess  PaymentStatus = "success"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// CanTransitionTo 状态只能 pending -> success/failed，success -> refunded
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return next == PaymentSuccess || next == PaymentFailed
	case PaymentSuccess:
		return next == PaymentRefunded
	}
	return false
}

// PaymentRecord 支付记录，SubscriptionApplied 表示成功后订阅已生效
type PaymentRecord struct {
	ID                  string           `json:"id"`
	UserID              string           `json:"user_id"`
	TradeOrderID        string           `json:"trade_order_id"`
	TransactionID       string           `json:"transaction_id,omitempty"`
	Amount              decimal.Decimal  `json:"amount"`
	SubscriptionType    SubscriptionType `json:"subscription_type"`
	Status              PaymentStatus    `json:"status"`
	CreatedAt           time.Time        `json:"created_at"`
	PaidAt              *time.Time       `json:"paid_at,omitempty"`
	PaymentMethod       string           `json:"payment_method,omitempty"`
	PaymentURL          string           `json:"payment_url,omitempty"`
	SubscriptionApplied bool             `json:"subscription_applied,omitempty"`
}

// PaymentEvent 支付状态变更审计记录（MySQL）
type PaymentEvent struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	PaymentID     string    `gorm:"size:64;not null;index" json:"payment_id"`
	TradeOrderID  string    `gorm:"size:64;not null;index" json:"trade_order_id"`
	UserID        string    `gorm:"size:32;not null;index" json:"user_id"`
	FromStatus    string    `gorm:"size:20" json:"from_status"`
	ToStatus      string    `gorm:"size:20;not null" json:"to_status"`
	Source        string    `gorm:"size:20;not null" json:"source"` // create, webhook, query, admin
	Amount        string    `gorm:"size:20" json:"amount"`
	TransactionID string    `gorm:"size:100" json:"transaction_id,omitempty"`
	Note          string    `gorm:"size:255" json:"note,omitempty"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

func (PaymentEvent) TableName() string {
	return "payment_events"
}
