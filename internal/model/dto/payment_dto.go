package dto

import (
	"time"
)

// CreatePaymentRequest 创建订单
type CreatePaymentRequest struct {
	SubscriptionType string `json:"subscription_type" binding:"required,oneof=monthly yearly"`
}

// PaymentInfo 支付记录（返回给前端）
type PaymentInfo struct {
	ID               string     `json:"id"`
	TradeOrderID     string     `json:"trade_order_id"`
	TransactionID    string     `json:"transaction_id,omitempty"`
	Amount           string     `json:"amount"`
	SubscriptionType string     `json:"subscription_type"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	PaidAt           *time.Time `json:"paid_at"`
	PaymentMethod    string     `json:"payment_method,omitempty"`
	PaymentURL       string     `json:"payment_url,omitempty"`
}

// PaymentStatusResponse 查询订单
type PaymentStatusResponse struct {
	TradeOrderID  string       `json:"trade_order_id"`
	GatewayStatus string       `json:"gateway_status"`
	Payment       *PaymentInfo `json:"payment"`
}
