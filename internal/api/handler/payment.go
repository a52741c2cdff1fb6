package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/internal/api/middleware"
	"github.com/qs3c/meter_pay_server/internal/model/dto"
	"github.com/qs3c/meter_pay_server/internal/pkg/paygate"
	"github.com/qs3c/meter_pay_server/internal/pkg/response"
	"github.com/qs3c/meter_pay_server/internal/service"
)

// 网关要求回调响应体为纯文本
const (
	notifyAccepted = "success"
	notifyRejected = "fail"
)

type PaymentHandler struct {
	paymentService *service.PaymentService
	log            logrus.FieldLogger
}

func NewPaymentHandler(paymentService *service.PaymentService, log logrus.FieldLogger) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		log:            log,
	}
}

// Create 创建支付订单
// POST /api/v1/payment/create
func (h *PaymentHandler) Create(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	rec, err := h.paymentService.CreateOrder(c.Request.Context(), userID, req.SubscriptionType)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "订单已创建", service.ToPaymentInfo(rec))
}

// Query 主动查询订单状态
// GET /api/v1/payment/query/:trade_order_id
func (h *PaymentHandler) Query(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	resp, err := h.paymentService.QueryStatus(c.Request.Context(), userID, c.Param("trade_order_id"))
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.Success(c, resp)
}

// Records 支付记录
// GET /api/v1/payment/records
func (h *PaymentHandler) Records(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	records, err := h.paymentService.ListUserPayments(c.Request.Context(), userID)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.Success(c, records)
}

// Notify 支付网关异步回调，支持表单和 JSON 两种格式。
// 返回 fail 时网关会重试
// POST /api/v1/payment/notify
func (h *PaymentHandler) Notify(c *gin.Context) {
	params, err := h.notifyParams(c)
	if err != nil {
		h.log.WithError(err).Warn("unreadable payment notify body")
		c.String(http.StatusOK, notifyRejected)
		return
	}

	if h.paymentService.HandleWebhook(c.Request.Context(), params) {
		c.String(http.StatusOK, notifyAccepted)
		return
	}
	c.String(http.StatusOK, notifyRejected)
}

func (h *PaymentHandler) notifyParams(c *gin.Context) (paygate.Params, error) {
	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		return paygate.FromJSON(c.Request.Body)
	}
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	return paygate.FromValues(c.Request.PostForm), nil
}
