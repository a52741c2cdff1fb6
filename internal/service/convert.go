package service

import (
	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/model/dto"
	"github.com/qs3c/meter_pay_server/internal/pkg/paygate"
)

func toUserInfo(u *model.User) *dto.UserInfo {
	return &dto.UserInfo{
		ID:                    u.ID,
		Email:                 u.Email,
		Status:                string(u.Status),
		SubscriptionType:      string(u.SubscriptionType),
		SubscriptionExpiresAt: u.SubscriptionExpiresAt,
		APICallsRemaining:     u.APICallsRemaining,
		TotalAPICalls:         u.TotalAPICalls,
		InvitedBy:             u.InvitedBy,
		EmailVerified:         u.EmailVerified,
		NewUserGiftCalls:      u.NewUserGiftCalls,
		InviteGiftCalls:       u.InviteGiftCalls,
		CreatedAt:             u.CreatedAt,
		LastLogin:             u.LastLogin,
	}
}

// ToPaymentInfo 支付记录转为接口返回结构
func ToPaymentInfo(p *model.PaymentRecord) *dto.PaymentInfo {
	return &dto.PaymentInfo{
		ID:               p.ID,
		TradeOrderID:     p.TradeOrderID,
		TransactionID:    p.TransactionID,
		Amount:           paygate.FormatAmount(p.Amount),
		SubscriptionType: string(p.SubscriptionType),
		Status:           string(p.Status),
		CreatedAt:        p.CreatedAt,
		PaidAt:           p.PaidAt,
		PaymentMethod:    p.PaymentMethod,
		PaymentURL:       p.PaymentURL,
	}
}

func toJobStatus(j *model.AnalysisJob) *dto.JobStatusResponse {
	return &dto.JobStatusResponse{
		JobID:          j.ID,
		Status:         j.Status,
		CurrentStep:    j.CurrentStep,
		Result:         j.Result,
		ErrorMessage:   j.ErrorMessage,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		ElapsedSeconds: j.ElapsedSeconds,
	}
}
