package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/config"
	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/model/dto"
	"github.com/qs3c/meter_pay_server/internal/pkg/apperr"
	"github.com/qs3c/meter_pay_server/internal/pkg/metrics"
	"github.com/qs3c/meter_pay_server/internal/pkg/paygate"
	"github.com/qs3c/meter_pay_server/internal/repository"
)

// 支付状态变更来源
const (
	sourceCreate  = "create"
	sourceWebhook = "webhook"
	sourceQuery   = "query"
)

var errIllegalTransition = errors.New("illegal payment status transition")

// PaymentGateway 支付网关
type PaymentGateway interface {
	AppID() string
	MchID() string
	Verify(params paygate.Params) bool
	Pay(ctx context.Context, order paygate.Order) (*paygate.PayResult, error)
	Query(ctx context.Context, tradeOrderID string) (*paygate.QueryResult, error)
}

// PaymentAuditor 支付状态变更流水，未配置数据库时为 nil
type PaymentAuditor interface {
	Append(ctx context.Context, event *model.PaymentEvent) error
}

// PaymentService 下单、查询和回调对账
type PaymentService struct {
	payments    *repository.PaymentRepository
	users       *repository.UserRepository
	entitlement *EntitlementService
	checker     *SubscriptionChecker
	gateway     PaymentGateway
	audit       PaymentAuditor
	cfg         *config.PaymentConfig
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
	now         func() time.Time
}

func NewPaymentService(
	payments *repository.PaymentRepository,
	users *repository.UserRepository,
	entitlement *EntitlementService,
	checker *SubscriptionChecker,
	gateway PaymentGateway,
	audit PaymentAuditor,
	cfg *config.PaymentConfig,
	m *metrics.Metrics,
	log logrus.FieldLogger,
) *PaymentService {
	return &PaymentService{
		payments:    payments,
		users:       users,
		entitlement: entitlement,
		checker:     checker,
		gateway:     gateway,
		audit:       audit,
		cfg:         cfg,
		metrics:     m,
		log:         log,
		now:         time.Now,
	}
}

// CreateOrder 创建待支付订单并获取托管支付链接。
// 记录在调用网关之前落库；网关失败时标记为 failed 并保留
func (s *PaymentService) CreateOrder(ctx context.Context, userID, plan string) (*model.PaymentRecord, error) {
	typ := model.SubscriptionType(plan)
	if !typ.IsPaid() {
		return nil, ErrInvalidPlan
	}

	// 先让过期的订阅降级，避免已过期用户被误判为已订阅
	if _, err := s.checker.CheckOne(ctx, userID); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if user.SubscriptionType.IsPaid() {
		return nil, ErrAlreadySubscribed
	}

	paidBefore, err := s.payments.HasSuccessfulPayment(ctx, userID)
	if err != nil {
		return nil, err
	}
	amount, ok := s.cfg.PlanPrice(plan, !paidBefore)
	if !ok {
		return nil, ErrInvalidPlan
	}

	now := s.now()
	rec := &model.PaymentRecord{
		ID:               uuid.NewString(),
		UserID:           userID,
		TradeOrderID:     newTradeOrderID(now),
		Amount:           amount,
		SubscriptionType: typ,
		Status:           model.PaymentPending,
		CreatedAt:        now,
	}
	if err := s.payments.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.recordEvent(ctx, rec, "", sourceCreate, "")

	logger := s.log.WithFields(logrus.Fields{
		"user_id":        userID,
		"trade_order_id": rec.TradeOrderID,
		"amount":         paygate.FormatAmount(amount),
		"plan":           plan,
	})

	result, err := s.gateway.Pay(ctx, paygate.Order{
		TradeOrderID: rec.TradeOrderID,
		Amount:       amount,
		Title:        s.planTitle(plan),
	})
	if err != nil {
		s.metrics.GatewayRequests.WithLabelValues("pay", "error").Inc()
		logger.WithError(err).Error("gateway pay request failed")
		if _, ferr := s.markFailed(ctx, rec.ID, sourceCreate, "gateway request failed"); ferr != nil {
			logger.WithError(ferr).Error("mark order failed")
		}
		if apperr.KindOf(err) != apperr.KindGateway {
			err = apperr.Wrap(apperr.KindGateway, paygate.ErrGatewayUnavailable.Message, err)
		}
		return nil, err
	}
	s.metrics.GatewayRequests.WithLabelValues("pay", "ok").Inc()

	updated, err := s.payments.Update(ctx, rec.ID, func(r *model.PaymentRecord) error {
		r.PaymentURL = result.URL
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("payment order created")
	return updated, nil
}

func (s *PaymentService) planTitle(plan string) string {
	if p, ok := s.cfg.Plans[plan]; ok && p.Title != "" {
		return p.Title
	}
	return fmt.Sprintf("AI股票分析%s订阅", plan)
}

// QueryStatus 主动向网关查询订单，支付成功时幂等地开通订阅
func (s *PaymentService) QueryStatus(ctx context.Context, userID, tradeOrderID string) (*dto.PaymentStatusResponse, error) {
	rec, err := s.payments.GetByTradeOrderID(ctx, tradeOrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, ErrOrderNotFound
	}

	logger := s.log.WithFields(logrus.Fields{"user_id": userID, "trade_order_id": tradeOrderID, "op": "query"})

	result, err := s.gateway.Query(ctx, tradeOrderID)
	if err != nil {
		s.metrics.GatewayRequests.WithLabelValues("query", "error").Inc()
		logger.WithError(err).Error("gateway query failed")
		return nil, err
	}
	s.metrics.GatewayRequests.WithLabelValues("query", "ok").Inc()

	switch result.Status {
	case paygate.StatusPaid:
		if result.TotalFee != "" && !s.amountMatches(rec, result.TotalFee) {
			logger.WithField("reported_fee", result.TotalFee).Error("query amount mismatch")
			return nil, ErrAmountMismatch
		}
		if _, err := s.markPaid(ctx, rec.ID, result.TransactionID, result.PaymentMethod, sourceQuery); err != nil {
			return nil, err
		}
	case paygate.StatusCancelled:
		if _, err := s.markFailed(ctx, rec.ID, sourceQuery, "cancelled"); err != nil {
			return nil, err
		}
	}

	rec, err = s.payments.GetByID(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return &dto.PaymentStatusResponse{
		TradeOrderID:  tradeOrderID,
		GatewayStatus: result.Status,
		Payment:       ToPaymentInfo(rec),
	}, nil
}

// HandleWebhook 处理网关回调，返回 true 表示已受理。
// 任何错误（包括 panic）都视为拒绝，由网关重试
func (s *PaymentService) HandleWebhook(ctx context.Context, params paygate.Params) (accepted bool) {
	status := params["status"]
	logger := s.log.WithFields(logrus.Fields{
		"trade_order_id": params["trade_order_id"],
		"status":         status,
		"op":             "webhook",
	})
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("webhook handler panicked")
			accepted = false
		}
		outcome := "accepted"
		if !accepted {
			outcome = "rejected"
		}
		s.metrics.WebhookEvents.WithLabelValues(status, outcome).Inc()
	}()

	if missing := paygate.MissingFields(params); len(missing) > 0 {
		logger.WithField("missing", missing).Warn("webhook missing required fields")
		return false
	}
	if params["appid"] != s.gateway.AppID() {
		logger.WithField("appid", params["appid"]).Warn("webhook appid mismatch")
		return false
	}
	if mchid, ok := params["mchid"]; ok && mchid != "" && mchid != s.gateway.MchID() {
		logger.WithField("mchid", mchid).Warn("webhook merchant mismatch")
		return false
	}
	if !s.gateway.Verify(params) {
		logger.Warn("webhook signature mismatch")
		return false
	}

	rec, err := s.payments.GetByTradeOrderID(ctx, params["trade_order_id"])
	if err != nil {
		logger.WithError(err).Warn("webhook order lookup failed")
		return false
	}
	logger = logger.WithField("user_id", rec.UserID)

	if !s.amountMatches(rec, params["total_fee"]) {
		logger.WithFields(logrus.Fields{
			"reported_fee": params["total_fee"],
			"local_amount": paygate.FormatAmount(rec.Amount),
		}).Error("webhook amount mismatch")
		return false
	}

	switch status {
	case paygate.StatusPaid:
		applied, err := s.markPaid(ctx, rec.ID, params["transaction_id"], params["payment_method"], sourceWebhook)
		if err != nil {
			logger.WithError(err).Error("apply paid webhook failed")
			return false
		}
		if !applied {
			logger.Info("duplicate paid webhook acknowledged")
		}
		return true
	case paygate.StatusPending:
		return true
	case paygate.StatusCancelled:
		if _, err := s.markFailed(ctx, rec.ID, sourceWebhook, "cancelled"); err != nil {
			logger.WithError(err).Error("apply cancelled webhook failed")
			return false
		}
		return true
	case paygate.StatusRefunding, paygate.StatusRefundFailed:
		logger.Warn("refund status received, no state change")
		return true
	default:
		logger.Warn("unknown webhook status")
		return false
	}
}

func (s *PaymentService) amountMatches(rec *model.PaymentRecord, reported string) bool {
	amount, err := paygate.ParseAmount(reported)
	if err != nil {
		return false
	}
	return amount.Equal(rec.Amount)
}

// markPaid pending -> success 并开通订阅。已成功的订单只补做未完成的订阅开通。
// 返回是否由本次调用完成状态迁移
func (s *PaymentService) markPaid(ctx context.Context, paymentID, transactionID, method, source string) (bool, error) {
	var transitioned, needApply bool
	var from model.PaymentStatus

	rec, err := s.payments.Update(ctx, paymentID, func(r *model.PaymentRecord) error {
		transitioned, needApply = false, false
		from = r.Status
		if r.Status == model.PaymentSuccess {
			needApply = !r.SubscriptionApplied
			return repository.ErrNoChange
		}
		if !r.Status.CanTransitionTo(model.PaymentSuccess) {
			return errIllegalTransition
		}
		now := s.now()
		r.Status = model.PaymentSuccess
		r.PaidAt = &now
		r.TransactionID = transactionID
		r.PaymentMethod = method
		transitioned, needApply = true, true
		return nil
	})
	if errors.Is(err, errIllegalTransition) {
		// 已取消的订单又收到支付成功，不回退状态，需人工处理
		s.log.WithFields(logrus.Fields{
			"payment_id":     paymentID,
			"status":         from,
			"transaction_id": transactionID,
			"source":         source,
		}).Error("paid event for closed order, manual reconciliation required")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if transitioned {
		s.recordEvent(ctx, rec, from, source, "")
	}
	if !needApply {
		return transitioned, nil
	}

	if _, err := s.entitlement.ApplySubscription(ctx, rec.UserID, rec.SubscriptionType); err != nil {
		return transitioned, err
	}
	if _, err := s.payments.Update(ctx, paymentID, func(r *model.PaymentRecord) error {
		if r.SubscriptionApplied {
			return repository.ErrNoChange
		}
		r.SubscriptionApplied = true
		return nil
	}); err != nil {
		return transitioned, err
	}
	s.metrics.PaymentsApplied.WithLabelValues(source, string(rec.SubscriptionType)).Inc()
	return transitioned, nil
}

// markFailed 只有 pending 的订单会被标记为 failed
func (s *PaymentService) markFailed(ctx context.Context, paymentID, source, note string) (bool, error) {
	var transitioned bool
	rec, err := s.payments.Update(ctx, paymentID, func(r *model.PaymentRecord) error {
		transitioned = false
		if !r.Status.CanTransitionTo(model.PaymentFailed) {
			return repository.ErrNoChange
		}
		r.Status = model.PaymentFailed
		transitioned = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if transitioned {
		s.recordEvent(ctx, rec, model.PaymentPending, source, note)
	}
	return transitioned, nil
}

// ListUserPayments 用户的支付记录，按创建时间倒序
func (s *PaymentService) ListUserPayments(ctx context.Context, userID string) ([]*dto.PaymentInfo, error) {
	records, err := s.payments.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	infos := make([]*dto.PaymentInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, ToPaymentInfo(rec))
	}
	return infos, nil
}

func (s *PaymentService) recordEvent(ctx context.Context, rec *model.PaymentRecord, from model.PaymentStatus, source, note string) {
	if s.audit == nil {
		return
	}
	event := &model.PaymentEvent{
		PaymentID:     rec.ID,
		TradeOrderID:  rec.TradeOrderID,
		UserID:        rec.UserID,
		FromStatus:    string(from),
		ToStatus:      string(rec.Status),
		Source:        source,
		Amount:        paygate.FormatAmount(rec.Amount),
		TransactionID: rec.TransactionID,
		Note:          note,
		CreatedAt:     s.now(),
	}
	if err := s.audit.Append(ctx, event); err != nil {
		s.log.WithFields(logrus.Fields{
			"trade_order_id": rec.TradeOrderID,
			"to_status":      rec.Status,
		}).WithError(err).Warn("append payment audit event failed")
	}
}
